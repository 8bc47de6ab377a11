package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"telegram-ai-subscription/internal/domain/model"
	"telegram-ai-subscription/internal/domain/ports/repository"
	"telegram-ai-subscription/internal/infra/metrics"
	red "telegram-ai-subscription/internal/infra/redis"
	"time"

	"github.com/go-redis/redis/v8"
)

var _ repository.ModelCatalogRepository = (*modelCatalogRepoCacheDecorator)(nil)

type modelCatalogRepoCacheDecorator struct {
	inner repository.ModelCatalogRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewModelCatalogRepoCacheDecorator(inner repository.ModelCatalogRepository, cache red.RedisClient) repository.ModelCatalogRepository {
	return &modelCatalogRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   1 * time.Hour,
	}
}

func (d *modelCatalogRepoCacheDecorator) GetByID(ctx context.Context, tx repository.Tx, modelID string) (*model.ModelCatalogEntry, error) {
	key := fmt.Sprintf("model_catalog:%s", modelID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("model_catalog", "hit")
		var e model.ModelCatalogEntry
		if json.Unmarshal([]byte(val), &e) == nil {
			return &e, nil
		}
	}
	if err != redis.Nil {
		// best-effort cache; a Redis error just falls through to Postgres.
	}

	metrics.IncCacheRequest("model_catalog", "miss")
	e, err := d.inner.GetByID(ctx, tx, modelID)
	if err != nil {
		return nil, err
	}
	if e != nil {
		bytes, _ := json.Marshal(e)
		_ = d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return e, nil
}

// Write operations must invalidate the cache.
func (d *modelCatalogRepoCacheDecorator) Upsert(ctx context.Context, tx repository.Tx, e *model.ModelCatalogEntry) error {
	_ = d.cache.Del(ctx, fmt.Sprintf("model_catalog:%s", e.ID))
	_ = d.cache.Del(ctx, "model_catalog:all")
	return d.inner.Upsert(ctx, tx, e)
}

func (d *modelCatalogRepoCacheDecorator) List(ctx context.Context, tx repository.Tx) ([]*model.ModelCatalogEntry, error) {
	key := "model_catalog:all"
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("model_catalog_list", "hit")
		var entries []*model.ModelCatalogEntry
		if json.Unmarshal([]byte(val), &entries) == nil {
			return entries, nil
		}
	}

	metrics.IncCacheRequest("model_catalog_list", "miss")
	entries, err := d.inner.List(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		bytes, _ := json.Marshal(entries)
		_ = d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return entries, nil
}
