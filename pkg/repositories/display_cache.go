package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ownership-engine/pkg/database"
	"github.com/ekaya-inc/ownership-engine/pkg/metrics"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// The display cache is a short-lived read-through cache for entity and borrower display
// records in Redis. Keys are org-qualified; reads without an org scope bypass the cache.
// Ownership edges are never cached here. Redis failures degrade to the underlying store.

const displayCacheKeyPrefix = "ownership:display"

func displayCacheKey(kind string, orgID, id uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s:%s", displayCacheKeyPrefix, kind, orgID, id)
}

// cachedLookup runs one batched lookup through Redis: MGET for all ids, a single inner call
// for the misses, then a pipelined SET of what the inner call returned.
func cachedLookup[T any](
	ctx context.Context,
	client *redis.Client,
	ttl time.Duration,
	kind string,
	ids []uuid.UUID,
	idOf func(*T) uuid.UUID,
	inner func(ctx context.Context, ids []uuid.UUID) ([]*T, error),
	m *metrics.Metrics,
	logger *zap.Logger,
) ([]*T, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok || len(ids) == 0 {
		return inner(ctx, ids)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = displayCacheKey(kind, scope.OrgID, id)
	}

	values, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn("Display cache read failed, falling back to store",
			zap.String("kind", kind),
			zap.Error(err))
		return inner(ctx, ids)
	}

	result := make([]*T, 0, len(ids))
	misses := make([]uuid.UUID, 0)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			misses = append(misses, ids[i])
			continue
		}
		result = append(result, &rec)
	}
	m.RecordDisplayCache(kind, len(result), len(misses))

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := inner(ctx, misses)
	if err != nil {
		return nil, err
	}

	pipe := client.Pipeline()
	for _, rec := range fetched {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		pipe.Set(ctx, displayCacheKey(kind, scope.OrgID, idOf(rec)), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("Display cache write failed",
			zap.String("kind", kind),
			zap.Error(err))
	}

	return append(result, fetched...), nil
}

type cachedLegalEntityRepository struct {
	inner   LegalEntityRepository
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCachedLegalEntityRepository wraps inner with the Redis display cache.
// A nil client returns inner unchanged.
func NewCachedLegalEntityRepository(inner LegalEntityRepository, client *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) LegalEntityRepository {
	if client == nil {
		return inner
	}
	return &cachedLegalEntityRepository{
		inner:   inner,
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  logger.Named("display-cache"),
	}
}

func (r *cachedLegalEntityRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.LegalEntity, error) {
	return cachedLookup(ctx, r.client, r.ttl, metrics.StoreCallEntities, ids,
		func(e *models.LegalEntity) uuid.UUID { return e.ID },
		r.inner.GetByIDs, r.metrics, r.logger)
}

type cachedBorrowerRepository struct {
	inner   BorrowerRepository
	client  *redis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCachedBorrowerRepository wraps inner with the Redis display cache.
// A nil client returns inner unchanged.
func NewCachedBorrowerRepository(inner BorrowerRepository, client *redis.Client, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) BorrowerRepository {
	if client == nil {
		return inner
	}
	return &cachedBorrowerRepository{
		inner:   inner,
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  logger.Named("display-cache"),
	}
}

func (r *cachedBorrowerRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Borrower, error) {
	return cachedLookup(ctx, r.client, r.ttl, metrics.StoreCallBorrowers, ids,
		func(b *models.Borrower) uuid.UUID { return b.ID },
		r.inner.GetByIDs, r.metrics, r.logger)
}
