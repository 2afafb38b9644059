package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ownership-engine/pkg/database"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// LegalEntityRepository provides batched read access to legal entity display records.
type LegalEntityRepository interface {
	// GetByIDs returns the entities that exist among ids, in no particular order.
	// Missing ids are simply absent from the result.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.LegalEntity, error)
}

type legalEntityRepository struct{}

// NewLegalEntityRepository creates a Postgres-backed LegalEntityRepository.
func NewLegalEntityRepository() LegalEntityRepository {
	return &legalEntityRepository{}
}

var _ LegalEntityRepository = (*legalEntityRepository)(nil)

func (r *legalEntityRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.LegalEntity, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	if len(ids) == 0 {
		return []*models.LegalEntity{}, nil
	}

	query := `
		SELECT id, org_id, display_id, name, entity_type
		FROM legal_entities
		WHERE id = ANY($1)`

	scope.Lock()
	defer scope.Unlock()

	rows, err := scope.Conn.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query legal entities: %w", err)
	}
	defer rows.Close()

	entities := make([]*models.LegalEntity, 0, len(ids))
	for rows.Next() {
		entity, err := scanLegalEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legal entities: %w", err)
	}

	return entities, nil
}

func scanLegalEntity(row pgx.Row) (*models.LegalEntity, error) {
	var e models.LegalEntity
	if err := row.Scan(&e.ID, &e.OrgID, &e.DisplayID, &e.Name, &e.Type); err != nil {
		return nil, fmt.Errorf("failed to scan legal entity: %w", err)
	}
	return &e, nil
}
