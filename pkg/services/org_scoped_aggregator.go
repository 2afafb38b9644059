package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ownership-engine/pkg/apperrors"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// OrgScoper opens an org-scoped context for record store reads.
// Implemented by database.OrgScopeProvider.
type OrgScoper interface {
	WithOrgScope(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error)
}

type orgScopedAggregator struct {
	inner  OwnershipAggregator
	scopes OrgScoper
	orgID  uuid.UUID
	logger *zap.Logger
}

// NewOrgScopedAggregator wraps inner so that every call acquires its own org-scoped
// connection for orgID and releases it when the call returns.
// Sessions use it because their fetches can outlive the request that started them.
func NewOrgScopedAggregator(inner OwnershipAggregator, scopes OrgScoper, orgID uuid.UUID, logger *zap.Logger) OwnershipAggregator {
	return &orgScopedAggregator{
		inner:  inner,
		scopes: scopes,
		orgID:  orgID,
		logger: logger.Named("org-scoped-aggregator"),
	}
}

var _ OwnershipAggregator = (*orgScopedAggregator)(nil)

func (a *orgScopedAggregator) ResolveOwners(ctx context.Context, entityIDs []uuid.UUID) (map[uuid.UUID][]models.ResolvedOwnerView, error) {
	scoped, cleanup, err := a.scope(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return a.inner.ResolveOwners(scoped, entityIDs)
}

func (a *orgScopedAggregator) LoadDetails(ctx context.Context, entityIDs, borrowerIDs []uuid.UUID) ([]*models.LegalEntity, []*models.Borrower, error) {
	scoped, cleanup, err := a.scope(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()
	return a.inner.LoadDetails(scoped, entityIDs, borrowerIDs)
}

func (a *orgScopedAggregator) scope(ctx context.Context) (context.Context, func(), error) {
	scoped, cleanup, err := a.scopes.WithOrgScope(ctx, a.orgID)
	if err != nil {
		a.logger.Error("Failed to acquire org scope",
			zap.String("org_id", a.orgID.String()),
			zap.Error(err))
		return nil, nil, fmt.Errorf("%w: failed to acquire org scope: %w", apperrors.ErrStoreUnavailable, err)
	}
	return scoped, cleanup, nil
}
