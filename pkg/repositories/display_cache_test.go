//go:build integration

package repositories

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ownership-engine/pkg/database"
	"github.com/ekaya-inc/ownership-engine/pkg/metrics"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
	"github.com/ekaya-inc/ownership-engine/pkg/testhelpers"
)

// countingEntities records how many ids each inner lookup was asked for.
type countingEntities struct {
	store *MemoryRecordStore
	calls atomic.Int32
	asked [][]uuid.UUID
}

func (c *countingEntities) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.LegalEntity, error) {
	c.calls.Add(1)
	c.asked = append(c.asked, ids)
	return c.store.GetByIDs(ctx, ids)
}

func orgContext(orgID uuid.UUID) context.Context {
	return database.SetOrgScope(context.Background(), &database.OrgScope{OrgID: orgID})
}

func TestCachedLegalEntityRepository_ReadThrough(t *testing.T) {
	client := testhelpers.GetTestRedis(t)

	store := NewMemoryRecordStore()
	a := models.LegalEntity{ID: uuid.New(), DisplayID: "ENT-A", Name: "Alpha LLC"}
	b := models.LegalEntity{ID: uuid.New(), DisplayID: "ENT-B", Name: "Beta LLC"}
	store.PutEntity(a)
	store.PutEntity(b)

	inner := &countingEntities{store: store}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repo := NewCachedLegalEntityRepository(inner, client, time.Minute, m, zap.NewNop())

	ctx := orgContext(uuid.New())

	got, err := repo.GetByIDs(ctx, []uuid.UUID{a.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(1), inner.calls.Load())

	got, err = repo.GetByIDs(ctx, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, []uuid.UUID{b.ID}, inner.asked[1], "only misses reach the store")

	got, err = repo.GetByIDs(ctx, []uuid.UUID{a.ID, b.ID})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), inner.calls.Load())

	assert.Equal(t, 3.0, testutil.ToFloat64(m.DisplayCacheLookups.WithLabelValues(metrics.StoreCallEntities, "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DisplayCacheLookups.WithLabelValues(metrics.StoreCallEntities, "miss")))
}

func TestCachedLegalEntityRepository_KeysAreOrgQualified(t *testing.T) {
	client := testhelpers.GetTestRedis(t)

	store := NewMemoryRecordStore()
	a := models.LegalEntity{ID: uuid.New(), Name: "Alpha LLC"}
	store.PutEntity(a)
	inner := &countingEntities{store: store}
	repo := NewCachedLegalEntityRepository(inner, client, time.Minute, nil, zap.NewNop())

	_, err := repo.GetByIDs(orgContext(uuid.New()), []uuid.UUID{a.ID})
	require.NoError(t, err)
	_, err = repo.GetByIDs(orgContext(uuid.New()), []uuid.UUID{a.ID})
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedLegalEntityRepository_BypassWithoutScope(t *testing.T) {
	store := NewMemoryRecordStore()
	inner := &countingEntities{store: store}

	assert.Same(t, LegalEntityRepository(inner), NewCachedLegalEntityRepository(inner, nil, time.Minute, nil, zap.NewNop()))

	client := testhelpers.GetTestRedis(t)
	repo := NewCachedLegalEntityRepository(inner, client, time.Minute, nil, zap.NewNop())
	_, err := repo.GetByIDs(context.Background(), []uuid.UUID{uuid.New()})
	require.NoError(t, err)
	_, err = repo.GetByIDs(context.Background(), []uuid.UUID{uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedBorrowerRepository_ReadThrough(t *testing.T) {
	client := testhelpers.GetTestRedis(t)

	store := NewMemoryRecordStore()
	b := models.Borrower{ID: uuid.New(), DisplayID: "B-1", Name: "Jane Roe"}
	store.PutBorrower(b)
	repo := NewCachedBorrowerRepository(store.Borrowers(), client, time.Minute, nil, zap.NewNop())

	ctx := orgContext(uuid.New())
	for i := 0; i < 2; i++ {
		got, err := repo.GetByIDs(ctx, []uuid.UUID{b.ID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, b, *got[0])
	}
}
