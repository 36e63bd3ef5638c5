package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catalog-import-service/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "catalog:variants"

// VariantCache caches product variant listings in Redis. With no client it
// degrades to a cache that always misses.
type VariantCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

// NewVariantCache connects to redisURL. An unreachable server yields a
// disabled cache rather than an error.
func NewVariantCache(redisURL, password string, ttl time.Duration, logger *logrus.Logger) *VariantCache {
	log := logger.WithField("component", "cache")
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.WithError(err).Warn("Invalid REDIS_URL, using localhost")
		opts = &redis.Options{Addr: "localhost:6379"}
	}
	if password != "" {
		opts.Password = password
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis unavailable, variant cache disabled")
		_ = client.Close()
		client = nil
	}
	return &VariantCache{client: client, ttl: ttl, logger: log}
}

// NewVariantCacheWithClient wraps an existing client
func NewVariantCacheWithClient(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *VariantCache {
	return &VariantCache{client: client, ttl: ttl, logger: logger.WithField("component", "cache")}
}

func productKey(tenantID string, productID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, tenantID, productID)
}

// GetVariants returns the cached listing; any failure is a miss
func (c *VariantCache) GetVariants(ctx context.Context, tenantID string, productID uuid.UUID) ([]models.ProductVariant, bool) {
	if c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, productKey(tenantID, productID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Debug("Variant cache read failed")
		return nil, false
	}
	var variants []models.ProductVariant
	if err := json.Unmarshal(data, &variants); err != nil {
		return nil, false
	}
	return variants, true
}

// SetVariants stores a listing. Failures are logged only.
func (c *VariantCache) SetVariants(ctx context.Context, tenantID string, productID uuid.UUID, variants []models.ProductVariant) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(variants)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, productKey(tenantID, productID), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debug("Variant cache write failed")
	}
}

// InvalidateProduct drops the listing of one product
func (c *VariantCache) InvalidateProduct(ctx context.Context, tenantID string, productID uuid.UUID) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, productKey(tenantID, productID)).Err()
}

// IsAvailable returns true if the cache is available
func (c *VariantCache) IsAvailable() bool {
	return c.client != nil
}

// Close closes the Redis connection
func (c *VariantCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
