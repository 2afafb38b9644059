package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// MemoryRecordStore is an in-memory record store implementing the edge, entity and
// borrower repositories. It backs the ownership-tree CLI and service tests.
// It is not org-scoped: load one org's records per store.
type MemoryRecordStore struct {
	mu        sync.RWMutex
	entities  map[uuid.UUID]models.LegalEntity
	borrowers map[uuid.UUID]models.Borrower
	edges     map[uuid.UUID][]models.OwnershipEdge // keyed by owning entity id
}

var (
	_ OwnershipEdgeRepository = (*MemoryRecordStore)(nil)
	_ LegalEntityRepository   = (*MemoryRecordStore)(nil)
	_ BorrowerRepository      = memoryBorrowers{}
)

// NewMemoryRecordStore creates an empty MemoryRecordStore.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		entities:  make(map[uuid.UUID]models.LegalEntity),
		borrowers: make(map[uuid.UUID]models.Borrower),
		edges:     make(map[uuid.UUID][]models.OwnershipEdge),
	}
}

// PutEntity inserts or replaces a legal entity.
func (s *MemoryRecordStore) PutEntity(e models.LegalEntity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e
}

// PutBorrower inserts or replaces a borrower.
func (s *MemoryRecordStore) PutBorrower(b models.Borrower) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.borrowers[b.ID] = b
}

// AddEdge appends an ownership edge. A zero ID is replaced with a new uuid.
func (s *MemoryRecordStore) AddEdge(edge models.OwnershipEdge) models.OwnershipEdge {
	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	edge.OwnershipPercent = models.NormalizePercent(edge.OwnershipPercent)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[edge.OwningEntityID] = append(s.edges[edge.OwningEntityID], edge)
	return edge
}

// FindEntityByDisplayID looks an entity up by its human-facing id.
func (s *MemoryRecordStore) FindEntityByDisplayID(displayID string) (models.LegalEntity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entities {
		if e.DisplayID == displayID {
			return e, true
		}
	}
	return models.LegalEntity{}, false
}

// GetByOwningEntities returns edges for the given owners sorted by creation time, then id.
func (s *MemoryRecordStore) GetByOwningEntities(_ context.Context, entityIDs []uuid.UUID) ([]*models.OwnershipEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]bool, len(entityIDs))
	result := make([]*models.OwnershipEdge, 0)
	for _, id := range entityIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		for i := range s.edges[id] {
			edge := s.edges[id][i]
			result = append(result, &edge)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

// GetByIDs satisfies LegalEntityRepository.
func (s *MemoryRecordStore) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*models.LegalEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.LegalEntity, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entities[id]; ok {
			result = append(result, &e)
		}
	}
	return result, nil
}

// Borrowers returns the store viewed as a BorrowerRepository.
// GetByIDs is taken by the entity lookup, so borrowers are exposed through an adapter.
func (s *MemoryRecordStore) Borrowers() BorrowerRepository {
	return memoryBorrowers{s}
}

type memoryBorrowers struct{ s *MemoryRecordStore }

func (m memoryBorrowers) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*models.Borrower, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	result := make([]*models.Borrower, 0, len(ids))
	for _, id := range ids {
		if b, ok := m.s.borrowers[id]; ok {
			result = append(result, &b)
		}
	}
	return result, nil
}
