package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"catalog-import-service/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisURL        string
	RedisPassword   string
	VariantCacheTTL time.Duration

	// NATS
	NATSURL string

	// Object storage
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool

	// Server
	Port               string
	Environment        string
	CORSAllowedOrigins []string
	WorkerMetricsPort  string

	// Import settings
	CommitBatchSize        int
	ValidationChunkSize    int
	UPIDGenerationAttempts int
	RecentImportsLimit     int
	WorkerConcurrency      int
}

func Load() *Config {
	dbPort, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	commitBatchSize, _ := strconv.Atoi(getEnv("IMPORT_COMMIT_BATCH_SIZE", "500"))
	validationChunkSize, _ := strconv.Atoi(getEnv("IMPORT_VALIDATION_CHUNK_SIZE", "500"))
	upidAttempts, _ := strconv.Atoi(getEnv("UPID_GENERATION_ATTEMPTS", "5"))
	recentLimit, _ := strconv.Atoi(getEnv("RECENT_IMPORTS_LIMIT", "10"))
	workerConcurrency, _ := strconv.Atoi(getEnv("WORKER_CONCURRENCY", "2"))
	storageUseSSL, _ := strconv.ParseBool(getEnv("STORAGE_USE_SSL", "false"))
	cacheTTL, err := time.ParseDuration(getEnv("VARIANT_CACHE_TTL", "5m"))
	if err != nil || cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "catalog_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Redis
		RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		VariantCacheTTL: cacheTTL,

		// NATS
		NATSURL: getEnv("NATS_URL", "nats://localhost:4222"),

		// Object storage
		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
		StorageSecretKey: getEnv("STORAGE_SECRET_KEY", ""),
		StorageBucket:    getEnv("STORAGE_BUCKET", "catalog-imports"),
		StorageUseSSL:    storageUseSSL,

		// Server
		Port:               getEnv("PORT", "8087"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		WorkerMetricsPort:  getEnv("WORKER_METRICS_PORT", "9102"),

		// Import settings
		CommitBatchSize:        positiveOr(commitBatchSize, 500),
		ValidationChunkSize:    positiveOr(validationChunkSize, 500),
		UPIDGenerationAttempts: positiveOr(upidAttempts, 5),
		RecentImportsLimit:     positiveOr(recentLimit, 10),
		WorkerConcurrency:      positiveOr(workerConcurrency, 2),
	}
}

// NewLogger builds the JSON logrus logger shared by the binaries
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "production" {
		log.SetLevel(logrus.InfoLevel)
	} else {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// GormConfig returns the gorm settings used for every dialect.
// TranslateError maps unique violations to gorm.ErrDuplicatedKey.
func GormConfig(log *logrus.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		}),
		TranslateError: true,
	}
}

func InitDB(cfg *Config, log *logrus.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	db, err := gorm.Open(postgres.Open(dsn), GormConfig(log))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("Running auto-migrations...")
	if err := Migrate(db); err != nil {
		// Ignore errors about dropping non-existent constraints
		errStr := err.Error()
		if strings.Contains(errStr, "does not exist") && strings.Contains(errStr, "constraint") {
			log.WithError(err).Warn("Migration constraint warning (safe to ignore)")
		} else {
			return nil, fmt.Errorf("failed to run auto-migrations: %w", err)
		}
	}
	log.Info("Auto-migrations completed successfully")

	return db, nil
}

// Migrate creates or updates the service tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Product{},
		&models.ProductVariant{},
		&models.ProductPassport{},
		&models.CatalogReference{},
		&models.ImportJob{},
		&models.ImportRow{},
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
