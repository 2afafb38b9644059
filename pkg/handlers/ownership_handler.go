package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ownership-engine/pkg/apperrors"
	"github.com/ekaya-inc/ownership-engine/pkg/logging"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
	"github.com/ekaya-inc/ownership-engine/pkg/services"
)

// maxResolveIDs bounds one stateless resolve request.
const maxResolveIDs = 500

// OrgMiddleware wraps a handler with an org-scoped record store connection.
type OrgMiddleware func(http.HandlerFunc) http.HandlerFunc

// ============================================================================
// Request/Response Types
// ============================================================================

// OwnerResponse is one owner row of a cap table.
type OwnerResponse struct {
	EdgeID           string   `json:"edge_id"`
	TargetKind       string   `json:"target_kind"`
	TargetID         string   `json:"target_id,omitempty"`
	DisplayID        string   `json:"display_id"`
	Name             string   `json:"name"`
	Type             string   `json:"type,omitempty"`
	NameSource       string   `json:"name_source"`
	Title            string   `json:"title,omitempty"`
	OwnershipPercent *float64 `json:"ownership_percent"`
	MemberType       string   `json:"member_type"`
	Dangling         bool     `json:"dangling"`
	Expandable       bool     `json:"expandable"`
}

// ResolveOwnersResponse for GET /entities/owners, keyed by owned entity id.
type ResolveOwnersResponse struct {
	Owners map[string][]OwnerResponse `json:"owners"`
}

// CreateSessionResponse for POST /ownership/sessions
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// ExpandRequest for POST /ownership/sessions/{sid}/expand
type ExpandRequest struct {
	NodeID       string   `json:"node_id"`
	AncestorPath []string `json:"ancestor_path"`
}

// ExpandResponse is the outcome of one expansion.
// Failed expansions carry retryable=true; retrying is sending the same request again.
type ExpandResponse struct {
	NodeID    string          `json:"node_id"`
	Status    string          `json:"status"`
	Owners    []OwnerResponse `json:"owners,omitempty"`
	ChildPath []string        `json:"child_path,omitempty"`
	FromCache bool            `json:"from_cache"`
	Retryable bool            `json:"retryable,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// CollapseRequest for POST /ownership/sessions/{sid}/collapse
type CollapseRequest struct {
	NodeID string `json:"node_id"`
}

// LoadDetailsRequest for POST /ownership/sessions/{sid}/details
type LoadDetailsRequest struct {
	EntityIDs   []string `json:"entity_ids"`
	BorrowerIDs []string `json:"borrower_ids"`
}

// ChildrenResponse for GET /ownership/sessions/{sid}/nodes/{eid}/children
type ChildrenResponse struct {
	NodeID    string          `json:"node_id"`
	State     string          `json:"state"`
	Collapsed bool            `json:"collapsed"`
	Owners    []OwnerResponse `json:"owners"`
}

// SessionResponse for GET /ownership/sessions/{sid}
type SessionResponse struct {
	SessionID string                `json:"session_id"`
	Stats     services.SessionStats `json:"stats"`
}

// ============================================================================
// Handler
// ============================================================================

// OwnershipHandler serves ownership graph resolution and traversal sessions.
type OwnershipHandler struct {
	aggregator services.OwnershipAggregator
	sessions   *services.SessionManager
	logger     *zap.Logger
}

// NewOwnershipHandler creates a new ownership handler.
// aggregator reads through the request's org scope; sessions acquire their own.
func NewOwnershipHandler(
	aggregator services.OwnershipAggregator,
	sessions *services.SessionManager,
	logger *zap.Logger,
) *OwnershipHandler {
	return &OwnershipHandler{
		aggregator: aggregator,
		sessions:   sessions,
		logger:     logger,
	}
}

// RegisterRoutes registers the ownership handler's routes on the given mux.
// Only the stateless resolve route holds a request-scoped connection.
func (h *OwnershipHandler) RegisterRoutes(mux *http.ServeMux, orgMiddleware OrgMiddleware) {
	base := "/api/orgs/{oid}"
	sessions := base + "/ownership/sessions"

	mux.HandleFunc("GET "+base+"/entities/owners", orgMiddleware(h.ResolveOwners))
	mux.HandleFunc("POST "+sessions, h.CreateSession)
	mux.HandleFunc("GET "+sessions+"/{sid}", h.GetSession)
	mux.HandleFunc("DELETE "+sessions+"/{sid}", h.DeleteSession)
	mux.HandleFunc("POST "+sessions+"/{sid}/expand", h.Expand)
	mux.HandleFunc("POST "+sessions+"/{sid}/collapse", h.Collapse)
	mux.HandleFunc("POST "+sessions+"/{sid}/details", h.LoadDetails)
	mux.HandleFunc("GET "+sessions+"/{sid}/nodes/{eid}/children", h.Children)
	mux.HandleFunc("GET "+sessions+"/{sid}/tree", h.Tree)
}

// ResolveOwners handles GET /api/orgs/{oid}/entities/owners?ids=a,b
func (h *OwnershipHandler) ResolveOwners(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	ids, err := parseUUIDList(r.URL.Query()["ids"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_entity_id", err.Error())
		return
	}
	if len(ids) == 0 {
		h.writeError(w, http.StatusBadRequest, "missing_ids", "At least one entity id is required")
		return
	}
	if len(ids) > maxResolveIDs {
		h.writeError(w, http.StatusBadRequest, "too_many_ids", "Too many entity ids in one request")
		return
	}

	resolved, err := h.aggregator.ResolveOwners(r.Context(), ids)
	if err != nil {
		h.logger.Error("Failed to resolve owners",
			zap.String("org_id", orgID.String()),
			zap.Int("entity_count", len(ids)),
			zap.String("error", logging.SanitizeError(err)))
		if errors.Is(err, apperrors.ErrStoreUnavailable) {
			h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Record store unavailable")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "resolve_owners_failed", "Failed to resolve owners")
		return
	}

	response := ResolveOwnersResponse{Owners: make(map[string][]OwnerResponse, len(resolved))}
	for entityID, views := range resolved {
		owners := make([]OwnerResponse, 0, len(views))
		for _, v := range views {
			owners = append(owners, toOwnerResponse(v, v.Identity()))
		}
		response.Owners[entityID.String()] = owners
	}

	h.writeData(w, http.StatusOK, response)
}

// CreateSession handles POST /api/orgs/{oid}/ownership/sessions
func (h *OwnershipHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	session, err := h.sessions.Create(orgID)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionLimitReached) {
			h.writeError(w, http.StatusTooManyRequests, "session_limit_reached", "Too many open traversal sessions")
			return
		}
		h.logger.Error("Failed to create session", zap.String("org_id", orgID.String()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "create_session_failed", "Failed to create session")
		return
	}

	h.writeData(w, http.StatusCreated, CreateSessionResponse{SessionID: session.ID().String()})
}

// GetSession handles GET /api/orgs/{oid}/ownership/sessions/{sid}
func (h *OwnershipHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	h.writeData(w, http.StatusOK, SessionResponse{SessionID: session.ID().String(), Stats: session.Stats()})
}

// DeleteSession handles DELETE /api/orgs/{oid}/ownership/sessions/{sid}
func (h *OwnershipHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	orgID, sessionID, ok := ParseOrgAndSessionIDs(w, r, h.logger)
	if !ok {
		return
	}
	h.sessions.Delete(orgID, sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// Expand handles POST /api/orgs/{oid}/ownership/sessions/{sid}/expand
func (h *OwnershipHandler) Expand(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var req ExpandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	nodeID, err := uuid.Parse(req.NodeID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_node_id", "Invalid node ID format")
		return
	}
	pathIDs, err := parseUUIDList(req.AncestorPath)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_ancestor_path", err.Error())
		return
	}

	result := session.Expand(r.Context(), nodeID, models.NewAncestorPath(pathIDs...))

	response := ExpandResponse{
		NodeID:    nodeID.String(),
		Status:    string(result.Status),
		FromCache: result.FromCache,
	}
	switch result.Status {
	case models.ExpansionLoaded:
		response.Owners = h.ownerResponses(session, result.Owners)
		response.ChildPath = idStrings(result.ChildPath.IDs())
	case models.ExpansionFailed:
		response.Retryable = true
		response.Error = "Failed to load owners"
		h.logger.Info("Expansion failed",
			zap.String("session_id", session.ID().String()),
			zap.String("node_id", nodeID.String()),
			zap.String("error", logging.SanitizeError(result.Err)))
	}

	h.writeData(w, http.StatusOK, response)
}

// Collapse handles POST /api/orgs/{oid}/ownership/sessions/{sid}/collapse
func (h *OwnershipHandler) Collapse(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var req CollapseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	nodeID, err := uuid.Parse(req.NodeID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_node_id", "Invalid node ID format")
		return
	}

	session.Collapse(nodeID)
	h.writeData(w, http.StatusOK, ChildrenResponse{
		NodeID:    nodeID.String(),
		State:     string(session.State(nodeID)),
		Collapsed: true,
		Owners:    []OwnerResponse{},
	})
}

// LoadDetails handles POST /api/orgs/{oid}/ownership/sessions/{sid}/details
func (h *OwnershipHandler) LoadDetails(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var req LoadDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	entityIDs, err := parseUUIDList(req.EntityIDs)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_entity_id", err.Error())
		return
	}
	borrowerIDs, err := parseUUIDList(req.BorrowerIDs)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_borrower_id", err.Error())
		return
	}

	if err := session.LoadDetails(r.Context(), entityIDs, borrowerIDs); err != nil {
		h.logger.Error("Failed to load owner details",
			zap.String("session_id", session.ID().String()),
			zap.String("error", logging.SanitizeError(err)))
		h.writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Record store unavailable")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Children handles GET /api/orgs/{oid}/ownership/sessions/{sid}/nodes/{eid}/children
// It never fetches; an unloaded node returns no owners and its state.
func (h *OwnershipHandler) Children(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	nodeID, ok := ParseEntityID(w, r, h.logger)
	if !ok {
		return
	}

	owners, _ := session.GetCachedChildren(nodeID)
	h.writeData(w, http.StatusOK, ChildrenResponse{
		NodeID:    nodeID.String(),
		State:     string(session.State(nodeID)),
		Collapsed: session.IsCollapsed(nodeID),
		Owners:    h.ownerResponses(session, owners),
	})
}

// Tree handles GET /api/orgs/{oid}/ownership/sessions/{sid}/tree?root=
func (h *OwnershipHandler) Tree(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	rootID, err := uuid.Parse(r.URL.Query().Get("root"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_root_id", "Invalid root entity ID format")
		return
	}

	h.writeData(w, http.StatusOK, services.BuildTree(session, rootID))
}

func (h *OwnershipHandler) lookupSession(w http.ResponseWriter, r *http.Request) (*services.OwnershipSession, bool) {
	orgID, sessionID, ok := ParseOrgAndSessionIDs(w, r, h.logger)
	if !ok {
		return nil, false
	}
	session, err := h.sessions.Get(orgID, sessionID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "session_not_found", "Traversal session not found")
		return nil, false
	}
	return session, true
}

func (h *OwnershipHandler) ownerResponses(session *services.OwnershipSession, views []models.ResolvedOwnerView) []OwnerResponse {
	owners := make([]OwnerResponse, 0, len(views))
	for _, v := range views {
		owners = append(owners, toOwnerResponse(v, session.ResolveIdentity(v)))
	}
	return owners
}

func (h *OwnershipHandler) writeData(w http.ResponseWriter, status int, data any) {
	if err := WriteSuccess(w, status, data); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *OwnershipHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func toOwnerResponse(v models.ResolvedOwnerView, identity models.OwnerIdentity) OwnerResponse {
	resp := OwnerResponse{
		EdgeID:           v.Edge.ID.String(),
		TargetKind:       v.Edge.Target.Kind().String(),
		DisplayID:        identity.DisplayID,
		Name:             identity.Name,
		Type:             identity.Type,
		NameSource:       identity.NameSource.String(),
		Title:            v.Edge.Title,
		OwnershipPercent: v.Edge.OwnershipPercent,
		MemberType:       v.Edge.MemberType,
		Dangling:         v.Dangling,
		Expandable:       v.Expandable(),
	}
	if v.Edge.Target.IsLinked() {
		resp.TargetID = v.Edge.Target.ID().String()
	}
	return resp
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
