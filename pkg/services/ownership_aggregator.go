package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ownership-engine/pkg/apperrors"
	"github.com/ekaya-inc/ownership-engine/pkg/metrics"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
	"github.com/ekaya-inc/ownership-engine/pkg/repositories"
)

// OwnershipAggregator resolves one level of ownership for a batch of entities.
type OwnershipAggregator interface {
	// ResolveOwners returns the owners of each entity in entityIDs, in edge creation order.
	// Every input id is present in the result, with an empty slice when it has no edges.
	// Any store failure fails the whole call with apperrors.ErrStoreUnavailable.
	ResolveOwners(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]models.ResolvedOwnerView, error)

	// LoadDetails batch-loads the detail records of the given entities and borrowers.
	// Missing ids are simply absent from the results.
	LoadDetails(ctx context.Context, entityIDs, borrowerIDs []uuid.UUID) ([]*models.LegalEntity, []*models.Borrower, error)
}

type ownershipAggregator struct {
	edges     repositories.OwnershipEdgeRepository
	entities  repositories.LegalEntityRepository
	borrowers repositories.BorrowerRepository
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewOwnershipAggregator creates a new OwnershipAggregator.
func NewOwnershipAggregator(
	edges repositories.OwnershipEdgeRepository,
	entities repositories.LegalEntityRepository,
	borrowers repositories.BorrowerRepository,
	m *metrics.Metrics,
	logger *zap.Logger,
) OwnershipAggregator {
	return &ownershipAggregator{
		edges:     edges,
		entities:  entities,
		borrowers: borrowers,
		metrics:   m,
		logger:    logger.Named("ownership-aggregator"),
	}
}

var _ OwnershipAggregator = (*ownershipAggregator)(nil)

func (a *ownershipAggregator) ResolveOwners(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]models.ResolvedOwnerView, error) {
	start := time.Now()
	defer a.metrics.ObserveResolve(start)

	ids := dedupeIDs(entityIDs)
	result := make(map[uuid.UUID][]models.ResolvedOwnerView, len(ids))
	for _, id := range ids {
		result[id] = []models.ResolvedOwnerView{}
	}
	if len(ids) == 0 {
		return result, nil
	}

	a.metrics.RecordStoreCall(metrics.StoreCallEdges)
	edges, err := a.edges.GetByOwningEntities(ctx, ids)
	if err != nil {
		a.logger.Error("Failed to fetch ownership edges",
			zap.Int("entity_count", len(ids)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: failed to fetch ownership edges: %w", apperrors.ErrStoreUnavailable, err)
	}

	var entityTargets, borrowerTargets []uuid.UUID
	seenEntity := make(map[uuid.UUID]bool)
	seenBorrower := make(map[uuid.UUID]bool)
	for _, edge := range edges {
		if id, ok := edge.Target.EntityID(); ok && !seenEntity[id] {
			seenEntity[id] = true
			entityTargets = append(entityTargets, id)
		}
		if id, ok := edge.Target.BorrowerID(); ok && !seenBorrower[id] {
			seenBorrower[id] = true
			borrowerTargets = append(borrowerTargets, id)
		}
	}

	entities, borrowers, err := a.lookupTargets(ctx, entityTargets, borrowerTargets)
	if err != nil {
		a.logger.Error("Failed to look up ownership targets",
			zap.Int("entity_targets", len(entityTargets)),
			zap.Int("borrower_targets", len(borrowerTargets)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}

	identities := make(map[uuid.UUID]*models.OwnerIdentity, len(entities)+len(borrowers))
	for _, e := range entities {
		identities[e.ID] = &models.OwnerIdentity{ID: e.ID, DisplayID: e.DisplayID, Name: e.Name, Type: e.Type}
	}
	for _, b := range borrowers {
		identities[b.ID] = &models.OwnerIdentity{ID: b.ID, DisplayID: b.DisplayID, Name: b.Name}
	}

	dangling := 0
	for _, edge := range edges {
		view := models.ResolvedOwnerView{Edge: *edge}
		if edge.Target.IsLinked() {
			if identity, ok := identities[edge.Target.ID()]; ok {
				view.Enrichment = identity
			} else {
				view.Dangling = true
				dangling++
			}
		}
		result[edge.OwningEntityID] = append(result[edge.OwningEntityID], view)
	}

	if dangling > 0 {
		a.metrics.RecordDangling(dangling)
		a.logger.Debug("Resolved owners with dangling references",
			zap.Int("dangling", dangling),
			zap.Int("edges", len(edges)))
	}

	return result, nil
}

func (a *ownershipAggregator) LoadDetails(ctx context.Context, entityIDs, borrowerIDs []uuid.UUID) ([]*models.LegalEntity, []*models.Borrower, error) {
	entities, borrowers, err := a.lookupTargets(ctx, dedupeIDs(entityIDs), dedupeIDs(borrowerIDs))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	return entities, borrowers, nil
}

// lookupTargets issues at most one batched lookup per kind, concurrently.
// A kind with no ids is skipped.
func (a *ownershipAggregator) lookupTargets(ctx context.Context, entityIDs, borrowerIDs []uuid.UUID) ([]*models.LegalEntity, []*models.Borrower, error) {
	var (
		entities  []*models.LegalEntity
		borrowers []*models.Borrower
	)

	g, gctx := errgroup.WithContext(ctx)
	if len(entityIDs) > 0 {
		g.Go(func() error {
			a.metrics.RecordStoreCall(metrics.StoreCallEntities)
			var err error
			entities, err = a.entities.GetByIDs(gctx, entityIDs)
			if err != nil {
				return fmt.Errorf("failed to look up legal entities: %w", err)
			}
			return nil
		})
	}
	if len(borrowerIDs) > 0 {
		g.Go(func() error {
			a.metrics.RecordStoreCall(metrics.StoreCallBorrowers)
			var err error
			borrowers, err = a.borrowers.GetByIDs(gctx, borrowerIDs)
			if err != nil {
				return fmt.Errorf("failed to look up borrowers: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return entities, borrowers, nil
}

// dedupeIDs returns ids without duplicates or nil uuids, keeping first-seen order.
func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
