package database

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	// OrgScopeKey is the context key for storing the org-scoped database connection.
	OrgScopeKey contextKey = "orgScope"
)

// GetOrgScope retrieves the org-scoped database connection from context.
// Returns nil and false if not present.
func GetOrgScope(ctx context.Context) (*OrgScope, bool) {
	scope, ok := ctx.Value(OrgScopeKey).(*OrgScope)
	return scope, ok
}

// SetOrgScope stores the org-scoped database connection in context.
func SetOrgScope(ctx context.Context, scope *OrgScope) context.Context {
	return context.WithValue(ctx, OrgScopeKey, scope)
}

// OrgScopeProvider creates org-scoped contexts outside of an HTTP request,
// e.g. for traversal sessions whose expansions run after the creating request returned.
type OrgScopeProvider struct {
	db *DB
}

// NewOrgScopeProvider creates an OrgScopeProvider for the given database.
func NewOrgScopeProvider(db *DB) *OrgScopeProvider {
	return &OrgScopeProvider{db: db}
}

// WithOrgScope returns a context with org scope set for the given org.
// The cleanup function must be called when the scope is no longer needed.
func (p *OrgScopeProvider) WithOrgScope(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error) {
	scope, err := p.db.WithOrg(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	return SetOrgScope(ctx, scope), func() { scope.Close() }, nil
}
