package database

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrgScope wraps a connection with org context and ensures cleanup.
// The connection has app.current_org_id set for RLS policy evaluation, so every record
// store read through it is confined to one lender organisation.
type OrgScope struct {
	Conn  *pgxpool.Conn
	OrgID uuid.UUID

	mu sync.Mutex
}

// Lock serialises use of Conn. A pgx connection is not safe for concurrent use, and the
// aggregator issues its lookups from several goroutines against one scope.
func (s *OrgScope) Lock() { s.mu.Lock() }

// Unlock releases the lock taken by Lock.
func (s *OrgScope) Unlock() { s.mu.Unlock() }

// Close resets org context and releases the connection to the pool.
// This MUST be called to prevent org context from leaking to the next request.
func (s *OrgScope) Close() {
	if s.Conn == nil {
		return
	}
	_, _ = s.Conn.Exec(context.Background(), "RESET app.current_org_id")
	s.Conn.Release()
}

// WithOrg acquires a connection and sets the org context for RLS.
// The returned OrgScope MUST be closed with defer scope.Close().
func (db *DB) WithOrg(ctx context.Context, orgID uuid.UUID) (*OrgScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_org_id', $1, false)", orgID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &OrgScope{Conn: conn, OrgID: orgID}, nil
}
