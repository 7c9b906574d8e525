package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks limiter decisions, both as Prometheus collectors and as an
// in-process snapshot for tools that print a summary.
type Metrics struct {
	totalDecisions atomic.Int64
	acquired       atomic.Int64
	rejected       atomic.Int64
	takeovers      atomic.Int64
	storeErrors    atomic.Int64
	totalWaitNanos atomic.Int64

	// Per-key stats
	mu        sync.RWMutex
	keyStats  map[string]*KeyStats
	startTime time.Time

	DecisionsTotal *prometheus.CounterVec
	WaitSeconds    prometheus.Histogram
	TakeoversTotal prometheus.Counter
	StoreErrors    prometheus.Counter
}

// KeyStats tracks statistics for a single limiter key
type KeyStats struct {
	Key             string    `json:"key"`
	TotalDecisions  int64     `json:"total_decisions"`
	Acquired        int64     `json:"acquired"`
	Rejected        int64     `json:"rejected"`
	TotalWaitMillis int64     `json:"total_wait_millis"`
	LastDecisionAt  time.Time `json:"last_decision_at"`
	FirstDecisionAt time.Time `json:"first_decision_at"`
}

// NewMetrics creates a metrics tracker and registers its collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		keyStats:  make(map[string]*KeyStats),
		startTime: time.Now(),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "permitfence",
				Name:      "decisions_total",
				Help:      "Total limiter decisions",
			},
			[]string{"result"}, // result=acquired/rejected
		),
		WaitSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "permitfence",
				Name:      "wait_seconds",
				Help:      "Wait imposed on callers by granted reservations",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4.4m
			},
		),
		TakeoversTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "permitfence",
				Name:      "lock_takeovers_total",
				Help:      "Total lease locks taken over after the safety timeout",
			},
		),
		StoreErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "permitfence",
				Name:      "store_errors_total",
				Help:      "Total failed calls to the shared store",
			},
		),
	}
}

// RecordDecision records the outcome of a reservation or try-acquire
func (m *Metrics) RecordDecision(key string, acquired bool, wait time.Duration) {
	m.totalDecisions.Add(1)

	result := "rejected"
	if acquired {
		result = "acquired"
		m.acquired.Add(1)
		m.totalWaitNanos.Add(int64(wait))
		m.WaitSeconds.Observe(wait.Seconds())
	} else {
		m.rejected.Add(1)
	}
	m.DecisionsTotal.WithLabelValues(result).Inc()

	// Update per-key stats
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	stats, exists := m.keyStats[key]
	if !exists {
		stats = &KeyStats{
			Key:             key,
			FirstDecisionAt: now,
		}
		m.keyStats[key] = stats
	}

	stats.TotalDecisions++
	if acquired {
		stats.Acquired++
		stats.TotalWaitMillis += wait.Milliseconds()
	} else {
		stats.Rejected++
	}
	stats.LastDecisionAt = now
}

// RecordTakeover records a lease lock taken over from a stale holder
func (m *Metrics) RecordTakeover(key string) {
	m.takeovers.Add(1)
	m.TakeoversTotal.Inc()
}

// RecordStoreError records a failed call to the shared store
func (m *Metrics) RecordStoreError(key string) {
	m.storeErrors.Add(1)
	m.StoreErrors.Inc()
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Copy key stats
	topKeys := make([]*KeyStats, 0, len(m.keyStats))
	for _, stats := range m.keyStats {
		copied := *stats
		topKeys = append(topKeys, &copied)
	}

	// Sort by total decisions (top 10)
	sortByTotalDecisions(topKeys)
	if len(topKeys) > 10 {
		topKeys = topKeys[:10]
	}

	var avgWait float64
	if acquired := m.acquired.Load(); acquired > 0 {
		avgWait = float64(m.totalWaitNanos.Load()) / float64(acquired) / float64(time.Millisecond)
	}

	return &Snapshot{
		TotalDecisions: m.totalDecisions.Load(),
		Acquired:       m.acquired.Load(),
		Rejected:       m.rejected.Load(),
		Takeovers:      m.takeovers.Load(),
		StoreErrors:    m.storeErrors.Load(),
		AvgWaitMillis:  avgWait,
		UniqueKeys:     int64(len(m.keyStats)),
		TopKeys:        topKeys,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		StartTime:      m.startTime,
	}
}

// Snapshot represents a point-in-time view of metrics
type Snapshot struct {
	TotalDecisions int64       `json:"total_decisions"`
	Acquired       int64       `json:"acquired"`
	Rejected       int64       `json:"rejected"`
	Takeovers      int64       `json:"takeovers"`
	StoreErrors    int64       `json:"store_errors"`
	AvgWaitMillis  float64     `json:"avg_wait_millis"`
	UniqueKeys     int64       `json:"unique_keys"`
	TopKeys        []*KeyStats `json:"top_keys"`
	UptimeSeconds  int64       `json:"uptime_seconds"`
	StartTime      time.Time   `json:"start_time"`
}

// Helper to sort keys by total decisions
func sortByTotalDecisions(keys []*KeyStats) {
	for i := 0; i < len(keys)-1; i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j].TotalDecisions > keys[i].TotalDecisions {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
}
