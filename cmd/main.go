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
	"catalog-import-service/internal/handlers"
	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/services"
	"catalog-import-service/internal/storage"
	"catalog-import-service/internal/tasks"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Catalog Import Service API
// @version 1.0
// @description Bulk catalog imports, variant synchronization and product passports.
// @BasePath /api/v1
func main() {
	// Load environment variables
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

	// Redis is optional; the cache degrades to always-miss
	variantCache := cache.NewVariantCache(cfg.RedisURL, cfg.RedisPassword, cfg.VariantCacheTTL, logger)
	defer variantCache.Close()
	if variantCache.IsAvailable() {
		logger.Info("✓ Redis connected, variant cache enabled")
	}

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

	nc, err := tasks.Connect(cfg.NATSURL, "catalog-import-api", logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to NATS")
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dispatcher, err := tasks.NewDispatcher(ctx, nc, logger)
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to create task dispatcher")
	}
	logger.Info("✓ Task dispatcher initialized (NATS connected)")

	passportService := services.NewPassportService(store, logger)
	variantService := services.NewVariantService(store, passportService, variantCache, logger, cfg.UPIDGenerationAttempts)
	importService := services.NewImportService(store, files, dispatcher, logger, cfg.RecentImportsLimit)

	importHandler := handlers.NewImportHandler(importService, logger)
	variantsHandler := handlers.NewVariantsHandler(variantService, logger)
	passportHandler := handlers.NewPassportHandler(passportService, logger)
	healthHandler := handlers.NewHealthHandler("catalog-import-service", map[string]handlers.ReadinessCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"storage": files.Ping,
		"nats": func(ctx context.Context) error {
			if nc.Status() != nats.CONNECTED {
				return errors.New(nc.Status().String())
			}
			return nil
		},
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("/api/v1")
	api.Use(middleware.TenantMiddleware())
	handlers.RegisterRoutes(api, importHandler, variantsHandler, passportHandler)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Catalog import service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down catalog-import-service...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	logger.Info("Catalog import service stopped")
}
