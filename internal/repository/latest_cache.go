package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TAMObserver/internal/domain/models"
	"TAMObserver/internal/domain/repository"
	"TAMObserver/pkg/cache"
)

const latestPrefix = "latest"

// LatestRecordCache keeps each stream's newest observation in a cache.Service.
type LatestRecordCache struct {
	cache cache.Service
	ttl   time.Duration
}

func NewLatestRecordCache(c cache.Service, ttl time.Duration) *LatestRecordCache {
	return &LatestRecordCache{cache: c, ttl: ttl}
}

var _ repository.LatestRecords = (*LatestRecordCache)(nil)

func (c *LatestRecordCache) PutLatest(ctx context.Context, obs *models.StreamObservation) error {
	if err := c.cache.Set(ctx, cache.GenerateKey(latestPrefix, obs.Symbol), obs, c.ttl); err != nil {
		return fmt.Errorf("cache latest %s: %w", obs.Symbol, err)
	}
	return nil
}

// GetLatest returns repository.ErrNotFound on a miss.
func (c *LatestRecordCache) GetLatest(ctx context.Context, symbol string) (*models.StreamObservation, error) {
	var obs models.StreamObservation
	if err := c.cache.Get(ctx, cache.GenerateKey(latestPrefix, symbol), &obs); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &obs, nil
}

// GetLatestMany returns what is cached for symbols, keyed by symbol.
func (c *LatestRecordCache) GetLatestMany(ctx context.Context, symbols []string) (map[string]models.StreamObservation, error) {
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = cache.GenerateKey(latestPrefix, s)
	}
	byKey, err := cache.MGetTyped[models.StreamObservation](ctx, c.cache, keys...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.StreamObservation, len(byKey))
	for i, key := range keys {
		if obs, ok := byKey[key]; ok {
			out[symbols[i]] = obs
		}
	}
	return out, nil
}

// Forget drops the cached record, used on an explicit stream reset.
func (c *LatestRecordCache) Forget(ctx context.Context, symbol string) error {
	return c.cache.Delete(ctx, cache.GenerateKey(latestPrefix, symbol))
}
