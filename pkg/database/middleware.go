package database

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrgPathParam is the path parameter holding the org id on org-scoped routes.
const OrgPathParam = "oid"

// WithOrgContext creates middleware that sets up an org-scoped DB connection.
// The org id comes from the {oid} path segment; the caller is authorised for that org by
// the upstream gateway before the request reaches the engine.
// The connection is automatically cleaned up after the handler returns.
func WithOrgContext(db *DB, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			orgID, err := uuid.Parse(r.PathValue(OrgPathParam))
			if err != nil {
				logger.Debug("Invalid org ID in path",
					zap.String("org_id", r.PathValue(OrgPathParam)),
					zap.Error(err))
				writeError(w, http.StatusBadRequest, "invalid_org_id", "Invalid org ID format")
				return
			}

			scope, err := db.WithOrg(r.Context(), orgID)
			if err != nil {
				logger.Error("Failed to acquire org connection",
					zap.String("org_id", orgID.String()),
					zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "database_error", "Database connection error")
				return
			}
			defer scope.Close()

			ctx := SetOrgScope(r.Context(), scope)
			next(w, r.WithContext(ctx))
		}
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
