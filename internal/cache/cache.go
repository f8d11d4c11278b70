// Package cache provides Redis caching of sanitized predictions.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ui-annotator/backend/internal/config"
	"github.com/ui-annotator/backend/internal/models"
)

const (
	// Cache key prefix, followed by the model name and image digest
	predictionKeyPrefix = "prediction:"

	// Default TTL for cached items
	defaultTTL = time.Hour
)

// Cache defines the interface for prediction caching. Implementations treat
// backend errors as misses; a broken cache never fails a request.
type Cache interface {
	// Get retrieves a cached prediction for an image reference.
	Get(ctx context.Context, model, imageRef string) (*models.AnnotationResult, bool)

	// Set stores a prediction for an image reference.
	Set(ctx context.Context, model, imageRef string, result models.AnnotationResult) error

	// Close closes the cache connection.
	Close() error
}

// Key returns the cache key for an image reference predicted by model. Data
// URLs can be megabytes long, so the reference is hashed.
func Key(model, imageRef string) string {
	sum := sha256.Sum256([]byte(imageRef))
	return predictionKeyPrefix + model + ":" + hex.EncodeToString(sum[:])
}

// New returns a Redis cache when REDIS_URL is set and reachable, and a no-op
// cache otherwise.
func New(cfg *config.Config, logger *zap.Logger) Cache {
	if cfg.RedisURL == "" {
		logger.Info("Prediction cache disabled")
		return Noop{}
	}

	c, err := NewRedisCache(cfg, logger)
	if err != nil {
		logger.Warn("Redis unavailable, prediction cache disabled", zap.Error(err))
		return Noop{}
	}
	return c
}

// RedisCache implements Cache using Redis.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(cfg *config.Config, logger *zap.Logger) (*RedisCache, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis cache")

	return newRedisCache(client, cfg.CacheTTL, logger), nil
}

func newRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Get retrieves a cached prediction for an image reference.
func (c *RedisCache) Get(ctx context.Context, model, imageRef string) (*models.AnnotationResult, bool) {
	key := Key(model, imageRef)

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Failed to get from cache", zap.String("key", key), zap.Error(err))
		return nil, false
	}

	var result models.AnnotationResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("Failed to unmarshal cached prediction", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if result.Annotations == nil {
		result.Annotations = []models.Annotation{}
	}

	c.logger.Debug("Cache hit", zap.String("key", key))
	return &result, true
}

// Set stores a prediction for an image reference.
func (c *RedisCache) Set(ctx context.Context, model, imageRef string, result models.AnnotationResult) error {
	key := Key(model, imageRef)

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to set cache", zap.String("key", key), zap.Error(err))
		return err
	}

	c.logger.Debug("Cached prediction", zap.String("key", key), zap.Int("annotations", len(result.Annotations)))
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.client.Close()
}

// Noop is a Cache that never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, string) (*models.AnnotationResult, bool) { return nil, false }

func (Noop) Set(context.Context, string, string, models.AnnotationResult) error { return nil }

func (Noop) Close() error { return nil }
