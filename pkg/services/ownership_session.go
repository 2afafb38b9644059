package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ownership-engine/pkg/apperrors"
	"github.com/ekaya-inc/ownership-engine/pkg/metrics"
	"github.com/ekaya-inc/ownership-engine/pkg/models"
)

// SessionStats summarises one traversal session.
type SessionStats struct {
	Nodes     int `json:"nodes"`
	Loaded    int `json:"loaded"`
	Failed    int `json:"failed"`
	Fetches   int `json:"fetches"`
	CacheHits int `json:"cache_hits"`
	Cycles    int `json:"cycles"`
}

// DefaultFetchTimeout bounds one node fetch when no timeout is configured.
const DefaultFetchTimeout = 30 * time.Second

type sessionNode struct {
	state  models.NodeState
	owners []models.ResolvedOwnerView
	err    error
}

// OwnershipSession is one user's lazy traversal of an ownership graph.
// Nodes are fetched only when expanded, at most one fetch in flight per node, and every
// loaded node stays cached for the life of the session. Safe for concurrent use.
type OwnershipSession struct {
	id         uuid.UUID
	orgID      uuid.UUID
	aggregator OwnershipAggregator
	identities *IdentityRegistry
	metrics    *metrics.Metrics
	logger     *zap.Logger

	flight       singleflight.Group
	fetchTimeout time.Duration
	lastUsed     atomic.Int64

	mu        sync.RWMutex
	nodes     map[uuid.UUID]*sessionNode
	collapsed map[uuid.UUID]bool
	stats     SessionStats
}

// NewOwnershipSession creates an empty traversal session.
// aggregator must be usable after the request that created the session has returned.
func NewOwnershipSession(id, orgID uuid.UUID, aggregator OwnershipAggregator, m *metrics.Metrics, logger *zap.Logger) *OwnershipSession {
	s := &OwnershipSession{
		id:           id,
		orgID:        orgID,
		aggregator:   aggregator,
		identities:   NewIdentityRegistry(NewIdentityResolver()),
		metrics:      m,
		logger:       logger.Named("ownership-session").With(zap.String("session_id", id.String())),
		fetchTimeout: DefaultFetchTimeout,
		nodes:        make(map[uuid.UUID]*sessionNode),
		collapsed:    make(map[uuid.UUID]bool),
	}
	s.touch()
	return s
}

// SetFetchTimeout bounds each node fetch to d. A non-positive d restores DefaultFetchTimeout.
// Call before the session is shared.
func (s *OwnershipSession) SetFetchTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultFetchTimeout
	}
	s.fetchTimeout = d
}

// ID returns the session id.
func (s *OwnershipSession) ID() uuid.UUID { return s.id }

// OrgID returns the org the session reads from.
func (s *OwnershipSession) OrgID() uuid.UUID { return s.orgID }

// LastUsed returns when the session was last operated on.
func (s *OwnershipSession) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *OwnershipSession) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// Expand loads the owners of nodeID. path holds the entity ids from the traversal root down
// to, but not including, nodeID.
//
// A node already on path yields ExpansionCycleDetected without any fetch. A loaded node is
// served from cache. Otherwise one fetch is shared by all concurrent callers for the node.
// The fetch is detached from ctx: if the caller goes away the result is still cached.
// It is bounded by the session fetch timeout instead; a timed out fetch leaves the node failed.
// A failed fetch marks only this node failed; calling Expand again retries it.
func (s *OwnershipSession) Expand(ctx context.Context, nodeID uuid.UUID, path models.AncestorPath) models.ExpansionResult {
	s.touch()

	if path.Contains(nodeID) {
		s.mu.Lock()
		s.stats.Cycles++
		s.mu.Unlock()
		s.metrics.RecordExpansion(string(models.ExpansionCycleDetected), false)
		return models.ExpansionResult{NodeID: nodeID, Status: models.ExpansionCycleDetected}
	}

	s.mu.Lock()
	delete(s.collapsed, nodeID)
	if node, ok := s.nodes[nodeID]; ok && node.state == models.NodeStateLoaded {
		s.stats.CacheHits++
		owners := copyOwners(node.owners)
		s.mu.Unlock()
		s.metrics.RecordExpansion(string(models.ExpansionLoaded), true)
		return models.ExpansionResult{
			NodeID:    nodeID,
			Status:    models.ExpansionLoaded,
			Owners:    owners,
			ChildPath: path.With(nodeID),
			FromCache: true,
		}
	}
	s.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(nodeID.String(), func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(detached, s.fetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, nodeID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			s.metrics.RecordExpansion(string(models.ExpansionFailed), false)
			return models.ExpansionResult{NodeID: nodeID, Status: models.ExpansionFailed, Err: res.Err}
		}
		s.metrics.RecordExpansion(string(models.ExpansionLoaded), false)
		return models.ExpansionResult{
			NodeID:    nodeID,
			Status:    models.ExpansionLoaded,
			Owners:    copyOwners(res.Val.([]models.ResolvedOwnerView)),
			ChildPath: path.With(nodeID),
		}
	case <-ctx.Done():
		// The fetch keeps running and its result is cached when it lands.
		return models.ExpansionResult{
			NodeID: nodeID,
			Status: models.ExpansionFailed,
			Err:    fmt.Errorf("%w: %w", apperrors.ErrNodeFetchFailed, ctx.Err()),
		}
	}
}

// fetch runs inside the single-flight group for nodeID.
func (s *OwnershipSession) fetch(ctx context.Context, nodeID uuid.UUID) ([]models.ResolvedOwnerView, error) {
	s.mu.Lock()
	node, ok := s.nodes[nodeID]
	if !ok {
		node = &sessionNode{}
		s.nodes[nodeID] = node
	}
	// A previous flight may have cached the node after the caller's cache check.
	if node.state == models.NodeStateLoaded {
		owners := node.owners
		s.mu.Unlock()
		return owners, nil
	}
	node.state = models.NodeStateLoading
	node.err = nil
	s.stats.Fetches++
	s.mu.Unlock()

	resolved, err := s.aggregator.ResolveOwners(ctx, []uuid.UUID{nodeID})
	if err == nil {
		s.recordNodeIdentity(ctx, nodeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		node.state = models.NodeStateFailed
		node.err = fmt.Errorf("%w: entity %s: %w", apperrors.ErrNodeFetchFailed, nodeID, err)
		s.logger.Warn("Node expansion failed",
			zap.String("node_id", nodeID.String()),
			zap.Error(err))
		return nil, node.err
	}

	owners := resolved[nodeID]
	if owners == nil {
		owners = []models.ResolvedOwnerView{}
	}
	node.state = models.NodeStateLoaded
	node.owners = owners

	for _, view := range owners {
		if view.Enrichment != nil {
			s.identities.Observe(enrichmentIdentity(*view.Enrichment))
		}
	}

	s.logger.Debug("Node expanded",
		zap.String("node_id", nodeID.String()),
		zap.Int("owners", len(owners)))
	return owners, nil
}

// Collapse hides nodeID. Its cached owners are kept and served by the next Expand.
func (s *OwnershipSession) Collapse(nodeID uuid.UUID) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collapsed[nodeID] = true
}

// IsCollapsed reports whether nodeID is currently collapsed.
func (s *OwnershipSession) IsCollapsed(nodeID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collapsed[nodeID]
}

// GetCachedChildren returns the cached owners of nodeID without fetching.
// The boolean is false unless the node is loaded.
func (s *OwnershipSession) GetCachedChildren(nodeID uuid.UUID) ([]models.ResolvedOwnerView, bool) {
	s.touch()
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[nodeID]
	if !ok || node.state != models.NodeStateLoaded {
		return nil, false
	}
	return copyOwners(node.owners), true
}

// State returns the lazy-expansion state of nodeID.
func (s *OwnershipSession) State(nodeID uuid.UUID) models.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if node, ok := s.nodes[nodeID]; ok {
		return node.state
	}
	return models.NodeStateUnloaded
}

// NodeError returns the error of the last failed fetch of nodeID, if it is failed.
func (s *OwnershipSession) NodeError(nodeID uuid.UUID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if node, ok := s.nodes[nodeID]; ok && node.state == models.NodeStateFailed {
		return node.err
	}
	return nil
}

// RecordEntityDetail registers an entity's own record as the best identity for it.
func (s *OwnershipSession) RecordEntityDetail(entity models.LegalEntity) {
	s.identities.Observe(EntityDetailIdentity(entity))
}

// RecordBorrowerDetail registers a borrower's own record as the best identity for it.
func (s *OwnershipSession) RecordBorrowerDetail(borrower models.Borrower) {
	s.identities.Observe(BorrowerDetailIdentity(borrower))
}

// LoadDetails fetches the detail records of the given entities and borrowers and records them.
// Views already cached pick up the new identities on their next ResolveIdentity call.
func (s *OwnershipSession) LoadDetails(ctx context.Context, entityIDs, borrowerIDs []uuid.UUID) error {
	s.touch()
	entities, borrowers, err := s.aggregator.LoadDetails(ctx, entityIDs, borrowerIDs)
	if err != nil {
		return fmt.Errorf("failed to load owner details: %w", err)
	}
	for _, e := range entities {
		s.RecordEntityDetail(*e)
	}
	for _, b := range borrowers {
		s.RecordBorrowerDetail(*b)
	}
	return nil
}

// ResolveIdentity returns the display identity of view using the best source known to the session.
func (s *OwnershipSession) ResolveIdentity(view models.ResolvedOwnerView) models.OwnerIdentity {
	return s.identities.Resolve(view)
}

// Stats returns a snapshot of session counters.
func (s *OwnershipSession) Stats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.Nodes = len(s.nodes)
	for _, node := range s.nodes {
		switch node.state {
		case models.NodeStateLoaded:
			stats.Loaded++
		case models.NodeStateFailed:
			stats.Failed++
		}
	}
	return stats
}

// recordNodeIdentity loads the expanded node's own record when nothing about it is known yet,
// as happens for a traversal root. A failure only costs the display name.
func (s *OwnershipSession) recordNodeIdentity(ctx context.Context, nodeID uuid.UUID) {
	if _, ok := s.identities.Get(nodeID); ok {
		return
	}
	entities, _, err := s.aggregator.LoadDetails(ctx, []uuid.UUID{nodeID}, nil)
	if err != nil {
		s.logger.Warn("Failed to load expanded node record",
			zap.String("node_id", nodeID.String()),
			zap.Error(err))
		return
	}
	for _, e := range entities {
		s.RecordEntityDetail(*e)
	}
}

func enrichmentIdentity(e models.OwnerIdentity) models.OwnerIdentity {
	e.NameSource = models.IdentitySourceEnrichment
	e.DisplayIDSource = models.IdentitySourceEnrichment
	e.TypeSource = models.IdentitySourceEnrichment
	return e
}

func copyOwners(owners []models.ResolvedOwnerView) []models.ResolvedOwnerView {
	out := make([]models.ResolvedOwnerView, len(owners))
	copy(out, owners)
	return out
}
