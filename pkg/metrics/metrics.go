// Package metrics provides Prometheus instrumentation for ownership graph resolution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store call kinds.
const (
	StoreCallEdges     = "edges"
	StoreCallEntities  = "entities"
	StoreCallBorrowers = "borrowers"
)

// Metrics tracks record store traffic, node cache effectiveness and expansion outcomes.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	StoreCalls          *prometheus.CounterVec
	DanglingReferences  prometheus.Counter
	ResolveDuration     prometheus.Histogram
	Expansions          *prometheus.CounterVec
	NodeCacheHits       prometheus.Counter
	DisplayCacheLookups *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
}

// New creates a Metrics instance registered against reg.
// Tests pass prometheus.NewRegistry() to avoid global registration conflicts.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StoreCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ownership_store_calls_total",
			Help: "Batched record store calls issued by the ownership aggregator",
		}, []string{"kind"}),
		DanglingReferences: factory.NewCounter(prometheus.CounterOpts{
			Name: "ownership_dangling_references_total",
			Help: "Linked owner ids with no matching record, rendered as placeholders",
		}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ownership_resolve_duration_seconds",
			Help:    "Duration of one ResolveOwners batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Expansions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ownership_expansions_total",
			Help: "Node expansion outcomes by status",
		}, []string{"status"}),
		NodeCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "ownership_node_cache_hits_total",
			Help: "Expansions served from the session node cache",
		}),
		DisplayCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ownership_display_cache_lookups_total",
			Help: "Redis display-record cache lookups by kind and result",
		}, []string{"kind", "result"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ownership_active_sessions",
			Help: "Traversal sessions currently held in memory",
		}),
	}
}

// RecordStoreCall counts one batched store call of the given kind.
func (m *Metrics) RecordStoreCall(kind string) {
	if m == nil {
		return
	}
	m.StoreCalls.WithLabelValues(kind).Inc()
}

// RecordDangling counts n dangling references.
func (m *Metrics) RecordDangling(n int) {
	if m == nil || n == 0 {
		return
	}
	m.DanglingReferences.Add(float64(n))
}

// ObserveResolve records the duration of a ResolveOwners call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveResolve(start time.Time) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

// RecordExpansion counts one expansion outcome.
func (m *Metrics) RecordExpansion(status string, fromCache bool) {
	if m == nil {
		return
	}
	m.Expansions.WithLabelValues(status).Inc()
	if fromCache {
		m.NodeCacheHits.Inc()
	}
}

// RecordDisplayCache counts display-cache hits and misses for a kind.
func (m *Metrics) RecordDisplayCache(kind string, hits, misses int) {
	if m == nil {
		return
	}
	if hits > 0 {
		m.DisplayCacheLookups.WithLabelValues(kind, "hit").Add(float64(hits))
	}
	if misses > 0 {
		m.DisplayCacheLookups.WithLabelValues(kind, "miss").Add(float64(misses))
	}
}

// SetActiveSessions publishes the current session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
