package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ownership-engine/pkg/apperrors"
	"github.com/ekaya-inc/ownership-engine/pkg/metrics"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
	"github.com/ekaya-inc/ownership-engine/pkg/repositories"
)

// ============================================================================
// Mock Implementations for Ownership Aggregator Tests
// ============================================================================

type mockEdgeRepo struct {
	mu    sync.Mutex
	edges []*models.OwnershipEdge
	calls int
	err   error
}

func (m *mockEdgeRepo) GetByOwningEntities(ctx context.Context, entityIDs []uuid.UUID) ([]*models.OwnershipEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	want := make(map[uuid.UUID]bool, len(entityIDs))
	for _, id := range entityIDs {
		want[id] = true
	}
	var result []*models.OwnershipEdge
	for _, e := range m.edges {
		if want[e.OwningEntityID] {
			result = append(result, e)
		}
	}
	return result, nil
}

type mockEntityLookup struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.LegalEntity
	calls   int
	asked   []uuid.UUID
	err     error
}

func (m *mockEntityLookup) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.LegalEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.asked = append(m.asked, ids...)
	if m.err != nil {
		return nil, m.err
	}
	var result []*models.LegalEntity
	for _, id := range ids {
		if e, ok := m.records[id]; ok {
			result = append(result, e)
		}
	}
	return result, nil
}

type mockBorrowerLookup struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.Borrower
	calls   int
	asked   []uuid.UUID
	err     error
}

func (m *mockBorrowerLookup) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Borrower, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.asked = append(m.asked, ids...)
	if m.err != nil {
		return nil, m.err
	}
	var result []*models.Borrower
	for _, id := range ids {
		if b, ok := m.records[id]; ok {
			result = append(result, b)
		}
	}
	return result, nil
}

type aggregatorFixture struct {
	edges     *mockEdgeRepo
	entities  *mockEntityLookup
	borrowers *mockBorrowerLookup
	metrics   *metrics.Metrics
	agg       OwnershipAggregator
}

func newAggregatorFixture() *aggregatorFixture {
	f := &aggregatorFixture{
		edges:     &mockEdgeRepo{},
		entities:  &mockEntityLookup{records: make(map[uuid.UUID]*models.LegalEntity)},
		borrowers: &mockBorrowerLookup{records: make(map[uuid.UUID]*models.Borrower)},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
	f.agg = NewOwnershipAggregator(f.edges, f.entities, f.borrowers, f.metrics, zap.NewNop())
	return f
}

func (f *aggregatorFixture) addEntity(name string) uuid.UUID {
	id := uuid.New()
	f.entities.records[id] = &models.LegalEntity{ID: id, DisplayID: "ENT-" + name, Name: name}
	return id
}

func (f *aggregatorFixture) addBorrower(name string) uuid.UUID {
	id := uuid.New()
	f.borrowers.records[id] = &models.Borrower{ID: id, DisplayID: "B-" + name, Name: name}
	return id
}

func (f *aggregatorFixture) addEdge(owning uuid.UUID, target models.OwnerTarget, title string) *models.OwnershipEdge {
	edge := &models.OwnershipEdge{
		ID:             uuid.New(),
		OwningEntityID: owning,
		Target:         target,
		Title:          title,
		CreatedAt:      time.Unix(int64(len(f.edges.edges)), 0),
	}
	f.edges.edges = append(f.edges.edges, edge)
	return edge
}

// ============================================================================
// Tests
// ============================================================================

func TestOwnershipAggregator_BatchEfficiency(t *testing.T) {
	f := newAggregatorFixture()
	e1, e2, e3 := uuid.New(), uuid.New(), uuid.New()

	var linkedEntities []uuid.UUID
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		linkedEntities = append(linkedEntities, f.addEntity(name))
	}
	b1, b2 := f.addBorrower("x"), f.addBorrower("y")

	// Repeated targets across owners must not widen the lookups.
	f.addEdge(e1, models.LinkedEntity(linkedEntities[0]), "Member")
	f.addEdge(e1, models.LinkedEntity(linkedEntities[1]), "Member")
	f.addEdge(e1, models.LinkedBorrower(b1), "Manager")
	f.addEdge(e2, models.LinkedEntity(linkedEntities[2]), "Member")
	f.addEdge(e2, models.LinkedEntity(linkedEntities[0]), "Member")
	f.addEdge(e2, models.LinkedBorrower(b2), "Manager")
	f.addEdge(e3, models.LinkedEntity(linkedEntities[3]), "Member")
	f.addEdge(e3, models.LinkedEntity(linkedEntities[4]), "Member")
	f.addEdge(e3, models.LinkedBorrower(b1), "Manager")
	f.addEdge(e3, models.UnlinkedTarget(), "Employee Pool")

	result, err := f.agg.ResolveOwners(context.Background(), []uuid.UUID{e1, e2, e3})
	require.NoError(t, err)

	assert.Equal(t, 1, f.edges.calls)
	assert.Equal(t, 1, f.entities.calls)
	assert.Equal(t, 1, f.borrowers.calls)
	assert.ElementsMatch(t, linkedEntities, f.entities.asked)
	assert.ElementsMatch(t, []uuid.UUID{b1, b2}, f.borrowers.asked)

	assert.Len(t, result[e1], 3)
	assert.Len(t, result[e2], 3)
	assert.Len(t, result[e3], 4)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreCalls.WithLabelValues(metrics.StoreCallEdges)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreCalls.WithLabelValues(metrics.StoreCallEntities)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreCalls.WithLabelValues(metrics.StoreCallBorrowers)))
}

func TestOwnershipAggregator_PreservesEdgeOrderAndEnriches(t *testing.T) {
	f := newAggregatorFixture()
	owner := uuid.New()
	target := f.addEntity("Bayside Capital LP")
	person := f.addBorrower("Jane Roe")

	first := f.addEdge(owner, models.LinkedBorrower(person), "Managing Member")
	second := f.addEdge(owner, models.UnlinkedTarget(), "Silent Partner")
	third := f.addEdge(owner, models.LinkedEntity(target), "Member")

	result, err := f.agg.ResolveOwners(context.Background(), []uuid.UUID{owner})
	require.NoError(t, err)

	views := result[owner]
	require.Len(t, views, 3)
	assert.Equal(t, first.ID, views[0].Edge.ID)
	assert.Equal(t, second.ID, views[1].Edge.ID)
	assert.Equal(t, third.ID, views[2].Edge.ID)

	require.NotNil(t, views[0].Enrichment)
	assert.Equal(t, "Jane Roe", views[0].Enrichment.Name)
	assert.Nil(t, views[1].Enrichment)
	assert.False(t, views[1].Dangling)
	require.NotNil(t, views[2].Enrichment)
	assert.Equal(t, "ENT-Bayside Capital LP", views[2].Enrichment.DisplayID)
}

func TestOwnershipAggregator_EveryInputPresent(t *testing.T) {
	f := newAggregatorFixture()
	withEdges, withoutEdges := uuid.New(), uuid.New()
	f.addEdge(withEdges, models.UnlinkedTarget(), "Member")

	result, err := f.agg.ResolveOwners(context.Background(), []uuid.UUID{withEdges, withoutEdges, withEdges})
	require.NoError(t, err)

	require.Len(t, result, 2)
	assert.Len(t, result[withEdges], 1, "duplicate input ids must not duplicate owners")
	owners, ok := result[withoutEdges]
	assert.True(t, ok)
	assert.NotNil(t, owners)
	assert.Empty(t, owners)

	// Only unlinked owners: no target lookups at all.
	assert.Equal(t, 0, f.entities.calls)
	assert.Equal(t, 0, f.borrowers.calls)
}

func TestOwnershipAggregator_EmptyInput(t *testing.T) {
	f := newAggregatorFixture()

	result, err := f.agg.ResolveOwners(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Equal(t, 0, f.edges.calls)
}

func TestOwnershipAggregator_DanglingReferences(t *testing.T) {
	f := newAggregatorFixture()
	owner := uuid.New()
	live := f.addEntity("Live LLC")

	withSnapshot := f.addEdge(owner, models.LinkedEntity(uuid.New()), "Member")
	withSnapshot.NameSnapshot = "Old Holdings LLC"
	withSnapshot.DisplayIDSnapshot = "ENT-9"
	f.addEdge(owner, models.LinkedBorrower(uuid.New()), "Guarantor")
	f.addEdge(owner, models.LinkedEntity(live), "Member")

	result, err := f.agg.ResolveOwners(context.Background(), []uuid.UUID{owner})
	require.NoError(t, err, "dangling references never fail the call")

	views := result[owner]
	require.Len(t, views, 3)

	assert.True(t, views[0].Dangling)
	assert.Equal(t, "Old Holdings LLC", views[0].Identity().Name)
	assert.Equal(t, "ENT-9", views[0].Identity().DisplayID)

	assert.True(t, views[1].Dangling)
	assert.Equal(t, models.PlaceholderOwnerName, views[1].Identity().Name)
	assert.Equal(t, models.PlaceholderOwnerDisplayID, views[1].Identity().DisplayID)

	assert.False(t, views[2].Dangling)
	assert.Equal(t, "Live LLC", views[2].Identity().Name)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.DanglingReferences))
}

func TestOwnershipAggregator_StoreFailures(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name  string
		setup func(f *aggregatorFixture)
	}{
		{"edge fetch fails", func(f *aggregatorFixture) { f.edges.err = cause }},
		{"entity lookup fails", func(f *aggregatorFixture) { f.entities.err = cause }},
		{"borrower lookup fails", func(f *aggregatorFixture) { f.borrowers.err = cause }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAggregatorFixture()
			owner := uuid.New()
			f.addEdge(owner, models.LinkedEntity(f.addEntity("a")), "Member")
			f.addEdge(owner, models.LinkedBorrower(f.addBorrower("b")), "Member")
			tt.setup(f)

			result, err := f.agg.ResolveOwners(context.Background(), []uuid.UUID{owner})
			require.Error(t, err)
			assert.Nil(t, result, "no partial map on failure")
			assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
			assert.True(t, errors.Is(err, cause))
		})
	}
}

func TestOwnershipAggregator_LoadDetails(t *testing.T) {
	f := newAggregatorFixture()
	entity := f.addEntity("Acme LLC")
	borrower := f.addBorrower("Pat")

	entities, borrowers, err := f.agg.LoadDetails(context.Background(),
		[]uuid.UUID{entity, entity, uuid.New()}, nil)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Empty(t, borrowers)
	assert.Equal(t, 0, f.borrowers.calls, "no borrower ids, no borrower lookup")
	assert.Len(t, f.entities.asked, 2)

	_, borrowers, err = f.agg.LoadDetails(context.Background(), nil, []uuid.UUID{borrower})
	require.NoError(t, err)
	require.Len(t, borrowers, 1)

	f.entities.err = errors.New("boom")
	_, _, err = f.agg.LoadDetails(context.Background(), []uuid.UUID{entity}, nil)
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
}

const ent100Fixture = `
entities:
  - display_id: ENT-100
    name: Harbor Point Holdings LLC
    type: llc
  - display_id: ENT-200
    name: Bayside Capital LP
    type: partnership
borrowers:
  - display_id: B-7
    name: Jane Roe
edges:
  - owned: ENT-100
    borrower: B-7
    title: Managing Member
    percent: 50
  - owned: ENT-100
    entity: ENT-200
    title: Member
    percent: 50
  - owned: ENT-200
    entity: ENT-100
    title: General Partner
    percent: 100
`

func newFixtureStore(t *testing.T, fixture string) *repositories.MemoryRecordStore {
	t.Helper()
	store, err := repositories.LoadMemoryFixture(strings.NewReader(fixture))
	require.NoError(t, err)
	return store
}

func TestOwnershipAggregator_ENT100(t *testing.T) {
	store := newFixtureStore(t, ent100Fixture)
	agg := NewOwnershipAggregator(store, store, store.Borrowers(), nil, zap.NewNop())

	ent100 := repositories.FixtureID("ENT-100")
	result, err := agg.ResolveOwners(context.Background(), []uuid.UUID{ent100})
	require.NoError(t, err)

	views := result[ent100]
	require.Len(t, views, 2)

	assert.Equal(t, models.LinkedBorrower(repositories.BorrowerFixtureID("B-7")), views[0].Edge.Target)
	assert.Equal(t, "Managing Member", views[0].Edge.Title)
	assert.Equal(t, 50.0, *views[0].Edge.OwnershipPercent)
	assert.Equal(t, "Jane Roe", views[0].Identity().Name)

	assert.Equal(t, models.LinkedEntity(repositories.FixtureID("ENT-200")), views[1].Edge.Target)
	assert.Equal(t, "Member", views[1].Edge.Title)
	assert.Equal(t, "Bayside Capital LP", views[1].Identity().Name)
	assert.True(t, views[1].Expandable())
	assert.False(t, views[0].Expandable())
}
