package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ownership-engine/pkg/database"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// OwnershipEdgeRepository provides batched read access to ownership edges.
type OwnershipEdgeRepository interface {
	// GetByOwningEntities returns every edge whose owning entity is in entityIDs,
	// ordered by creation time ascending. That order is the cap table display order.
	GetByOwningEntities(ctx context.Context, entityIDs []uuid.UUID) ([]*models.OwnershipEdge, error)
}

type ownershipEdgeRepository struct{}

// NewOwnershipEdgeRepository creates a Postgres-backed OwnershipEdgeRepository.
// Reads run on the org-scoped connection found in the context.
func NewOwnershipEdgeRepository() OwnershipEdgeRepository {
	return &ownershipEdgeRepository{}
}

var _ OwnershipEdgeRepository = (*ownershipEdgeRepository)(nil)

func (r *ownershipEdgeRepository) GetByOwningEntities(ctx context.Context, entityIDs []uuid.UUID) ([]*models.OwnershipEdge, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	if len(entityIDs) == 0 {
		return []*models.OwnershipEdge{}, nil
	}

	// id breaks ties between edges written in the same transaction.
	query := `
		SELECT id, owning_entity_id, target_entity_id, target_borrower_id,
		       name_snapshot, display_id_snapshot, title, ownership_percent::float8,
		       member_type, created_at
		FROM entity_ownership_edges
		WHERE owning_entity_id = ANY($1)
		ORDER BY created_at ASC, id ASC`

	scope.Lock()
	defer scope.Unlock()

	rows, err := scope.Conn.Query(ctx, query, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query ownership edges: %w", err)
	}
	defer rows.Close()

	edges := make([]*models.OwnershipEdge, 0)
	for rows.Next() {
		edge, err := scanOwnershipEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ownership edges: %w", err)
	}

	return edges, nil
}

func scanOwnershipEdge(row pgx.Row) (*models.OwnershipEdge, error) {
	var (
		edge       models.OwnershipEdge
		entityID   *uuid.UUID
		borrowerID *uuid.UUID
		percent    *float64
	)

	err := row.Scan(
		&edge.ID, &edge.OwningEntityID, &entityID, &borrowerID,
		&edge.NameSnapshot, &edge.DisplayIDSnapshot, &edge.Title, &percent,
		&edge.MemberType, &edge.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan ownership edge: %w", err)
	}

	// Rows carrying both targets are bad data; NewOwnerTarget keeps the entity link.
	edge.Target, _ = models.NewOwnerTarget(entityID, borrowerID)
	edge.OwnershipPercent = models.NormalizePercent(percent)

	return &edge, nil
}
