package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ownership-engine/pkg/apperrors"
	"github.com/ekaya-inc/ownership-engine/pkg/metrics"
)

// AggregatorFactory returns the aggregator a new session for orgID reads through.
type AggregatorFactory func(orgID uuid.UUID) OwnershipAggregator

// SessionManagerConfig bounds the sessions a SessionManager holds.
type SessionManagerConfig struct {
	IdleTTL     time.Duration
	MaxSessions int
	// FetchTimeout bounds each node fetch; zero means DefaultFetchTimeout.
	FetchTimeout time.Duration
}

// SessionManager holds in-memory traversal sessions, keyed by session id and scoped by org.
type SessionManager struct {
	cfg        SessionManagerConfig
	aggregator AggregatorFactory
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*OwnershipSession
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager(cfg SessionManagerConfig, aggregator AggregatorFactory, m *metrics.Metrics, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		cfg:        cfg,
		aggregator: aggregator,
		metrics:    m,
		logger:     logger.Named("session-manager"),
		sessions:   make(map[uuid.UUID]*OwnershipSession),
	}
}

// Create starts a new session for orgID.
// Returns apperrors.ErrSessionLimitReached when MaxSessions sessions are already held.
func (m *SessionManager) Create(orgID uuid.UUID) (*OwnershipSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.logger.Warn("Traversal session limit reached",
			zap.Int("max_sessions", m.cfg.MaxSessions))
		return nil, apperrors.ErrSessionLimitReached
	}

	id := uuid.New()
	session := NewOwnershipSession(id, orgID, m.aggregator(orgID), m.metrics, m.logger)
	session.SetFetchTimeout(m.cfg.FetchTimeout)
	m.sessions[id] = session
	m.metrics.SetActiveSessions(len(m.sessions))

	m.logger.Debug("Created traversal session",
		zap.String("session_id", id.String()),
		zap.String("org_id", orgID.String()))
	return session, nil
}

// Get returns the session with sessionID if it belongs to orgID.
// A session of another org is reported as not found.
func (m *SessionManager) Get(orgID, sessionID uuid.UUID) (*OwnershipSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session.OrgID() != orgID {
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}

// Delete drops a session. Deleting an unknown session is not an error.
func (m *SessionManager) Delete(orgID, sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[sessionID]; ok && session.OrgID() == orgID {
		delete(m.sessions, sessionID)
		m.metrics.SetActiveSessions(len(m.sessions))
	}
}

// Len returns the number of sessions held.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than IdleTTL as of now and returns how many were dropped.
func (m *SessionManager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.cfg.IdleTTL)
	removed := 0
	for id, session := range m.sessions {
		if session.LastUsed().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.metrics.SetActiveSessions(len(m.sessions))
		m.logger.Debug("Swept idle traversal sessions",
			zap.Int("removed", removed),
			zap.Int("remaining", len(m.sessions)))
	}
	return removed
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (m *SessionManager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}
