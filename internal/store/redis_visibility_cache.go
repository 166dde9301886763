package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const visibilityKeyPrefix = "comic_visibility:"

func visibilityKey(comicID int64) string {
	return fmt.Sprintf("%s%d", visibilityKeyPrefix, comicID)
}

// RedisConfig holds the connection settings of RedisVisibilityCache
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

// RedisVisibilityCache implements VisibilityCache for Redis
type RedisVisibilityCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisVisibilityCache connects to Redis and verifies the connection
func NewRedisVisibilityCache(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisVisibilityCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisVisibilityCache{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

// Publish stores the rows of each comic in comicIDs under its own key. A
// comic without rows is cached as an empty list.
func (c *RedisVisibilityCache) Publish(ctx context.Context, comicIDs []int64, visibilities []model.ComputedVisibility) error {
	grouped := groupByComic(comicIDs, visibilities)
	if len(grouped) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for comicID, rows := range grouped {
		data, err := json.Marshal(rows)
		if err != nil {
			return fmt.Errorf("failed to marshal visibilities: %w", err)
		}
		pipe.Set(ctx, visibilityKey(comicID), data, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish visibilities: %w", err)
	}

	c.logger.Debug("published visibilities", zap.Int("comics", len(grouped)))
	return nil
}

// Get returns the cached rows of a comic
func (c *RedisVisibilityCache) Get(ctx context.Context, comicID int64) ([]model.ComputedVisibility, error) {
	data, err := c.client.Get(ctx, visibilityKey(comicID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get visibilities: %w", err)
	}

	var rows []model.ComputedVisibility
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal visibilities: %w", err)
	}
	return rows, nil
}

// Ping checks the Redis connection
func (c *RedisVisibilityCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisVisibilityCache) Close() error {
	return c.client.Close()
}
