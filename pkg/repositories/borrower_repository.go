package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ownership-engine/pkg/database"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// BorrowerRepository provides batched read access to borrower display records.
type BorrowerRepository interface {
	// GetByIDs returns the borrowers that exist among ids, in no particular order.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Borrower, error)
}

type borrowerRepository struct{}

// NewBorrowerRepository creates a Postgres-backed BorrowerRepository.
func NewBorrowerRepository() BorrowerRepository {
	return &borrowerRepository{}
}

var _ BorrowerRepository = (*borrowerRepository)(nil)

func (r *borrowerRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Borrower, error) {
	scope, ok := database.GetOrgScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no org scope in context")
	}

	if len(ids) == 0 {
		return []*models.Borrower{}, nil
	}

	query := `
		SELECT id, org_id, display_id, full_name
		FROM borrowers
		WHERE id = ANY($1)`

	scope.Lock()
	defer scope.Unlock()

	rows, err := scope.Conn.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query borrowers: %w", err)
	}
	defer rows.Close()

	borrowers := make([]*models.Borrower, 0, len(ids))
	for rows.Next() {
		b, err := scanBorrower(rows)
		if err != nil {
			return nil, err
		}
		borrowers = append(borrowers, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating borrowers: %w", err)
	}

	return borrowers, nil
}

func scanBorrower(row pgx.Row) (*models.Borrower, error) {
	var b models.Borrower
	if err := row.Scan(&b.ID, &b.OrgID, &b.DisplayID, &b.Name); err != nil {
		return nil, fmt.Errorf("failed to scan borrower: %w", err)
	}
	return &b, nil
}
