package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalog-import-service/internal/cache"
	"catalog-import-service/internal/config"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/services"
	"catalog-import-service/internal/storage"
	"catalog-import-service/internal/tasks"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	logger := config.NewLogger(cfg)

	db, err := config.InitDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	store := repository.NewStore(db)

	// commits invalidate the same listings the API caches
	variantCache := cache.NewVariantCache(cfg.RedisURL, cfg.RedisPassword, cfg.VariantCacheTTL, logger)
	defer variantCache.Close()

	files, err := storage.NewMinioFileStore(
		storage.WithEndpoint(cfg.StorageEndpoint),
		storage.WithBucket(cfg.StorageBucket),
		storage.WithAccessKey(cfg.StorageAccessKey),
		storage.WithSecretKey(cfg.StorageSecretKey),
		storage.WithSSL(cfg.StorageUseSSL),
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create object storage client")
	}

	passportService := services.NewPassportService(store, logger)
	variantService := services.NewVariantService(store, passportService, variantCache, logger, cfg.UPIDGenerationAttempts)
	validation := services.NewValidationEngine(store, logger, cfg.ValidationChunkSize)
	commit := services.NewCommitEngine(store, variantService, logger, cfg.CommitBatchSize)
	processor := services.NewImportProcessor(files, validation, commit, logger)

	nc, err := tasks.Connect(cfg.NATSURL, "catalog-import-worker", logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer nc.Close()

	worker, err := tasks.NewWorker(nc, processor, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create import worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := worker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start import worker")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.WorkerMetricsPort, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down import worker...")
	// in-flight commits stop between chunks and their tasks are redelivered
	cancel()
	worker.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)
	if err := nc.Drain(); err != nil {
		logger.WithError(err).Warn("Failed to drain NATS connection")
	}
	logger.Info("Import worker stopped")
}
