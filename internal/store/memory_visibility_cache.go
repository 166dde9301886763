package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Pbasnal/comic-visibility/internal/model"
	"go.uber.org/zap"
)

// InMemoryVisibilityCache implements VisibilityCache using an in-memory map
type InMemoryVisibilityCache struct {
	data    map[int64]*cacheItem
	mu      sync.RWMutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

type cacheItem struct {
	rows      []model.ComputedVisibility
	expiresAt time.Time
}

// NewInMemoryVisibilityCache creates a cache holding at most maxSize comics
func NewInMemoryVisibilityCache(maxSize int, ttl time.Duration, logger *zap.Logger) *InMemoryVisibilityCache {
	return &InMemoryVisibilityCache{
		data:    make(map[int64]*cacheItem),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Publish replaces the cached rows of every comic in comicIDs
func (c *InMemoryVisibilityCache) Publish(ctx context.Context, comicIDs []int64, visibilities []model.ComputedVisibility) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for comicID, rows := range groupByComic(comicIDs, visibilities) {
		if _, exists := c.data[comicID]; !exists && c.maxSize > 0 && len(c.data) >= c.maxSize {
			c.evictOne()
		}
		c.data[comicID] = &cacheItem{
			rows:      rows,
			expiresAt: c.now().Add(c.ttl),
		}
	}
	return nil
}

// evictOne removes an expired item, or any item when none has expired
func (c *InMemoryVisibilityCache) evictOne() {
	now := c.now()
	for k, v := range c.data {
		if now.After(v.expiresAt) {
			delete(c.data, k)
			return
		}
	}
	for k := range c.data {
		delete(c.data, k)
		return
	}
}

// Get returns the cached rows of a comic
func (c *InMemoryVisibilityCache) Get(ctx context.Context, comicID int64) ([]model.ComputedVisibility, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.data[comicID]
	if !exists || c.now().After(item.expiresAt) {
		return nil, ErrNotFound
	}
	return slices.Clone(item.rows), nil
}

// Cleanup removes expired entries and returns how many were removed
func (c *InMemoryVisibilityCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, item := range c.data {
		if now.After(item.expiresAt) {
			delete(c.data, key)
			removed++
		}
	}
	return removed
}

// Run periodically removes expired entries until ctx is cancelled
func (c *InMemoryVisibilityCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Cleanup(); removed > 0 {
				c.logger.Debug("expired cached visibilities", zap.Int("removed", removed))
			}
		}
	}
}

// Size returns the number of cached comics
func (c *InMemoryVisibilityCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Ping always succeeds
func (c *InMemoryVisibilityCache) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (c *InMemoryVisibilityCache) Close() error {
	return nil
}
