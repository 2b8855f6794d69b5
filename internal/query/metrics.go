package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch outcomes.
const (
	outcomeHit    = "hit"
	outcomeMiss   = "miss"
	outcomeJoined = "joined"
)

// Load results.
const (
	resultOK        = "ok"
	resultError     = "error"
	resultDiscarded = "discarded"
)

// Metrics holds the cache collectors. A nil *Metrics records nothing.
type Metrics struct {
	fetches       *prometheus.CounterVec
	loads         *prometheus.CounterVec
	loadDuration  *prometheus.HistogramVec
	invalidations *prometheus.CounterVec
	entries       prometheus.Gauge
}

// NewMetrics creates the cache collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gepdash",
			Subsystem: "query",
			Name:      "fetch_total",
			Help:      "Fetch calls by kind and outcome (hit, miss, joined).",
		}, []string{"kind", "outcome"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gepdash",
			Subsystem: "query",
			Name:      "load_total",
			Help:      "Loader calls by kind and result (ok, error, discarded).",
		}, []string{"kind", "result"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gepdash",
			Subsystem: "query",
			Name:      "load_duration_seconds",
			Help:      "Loader call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gepdash",
			Subsystem: "query",
			Name:      "invalidations_total",
			Help:      "Entries newly marked stale.",
		}, []string{"kind"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gepdash",
			Subsystem: "query",
			Name:      "entries",
			Help:      "Cached query identities.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.loads, m.loadDuration, m.invalidations, m.entries)
	}
	return m
}

func (m *Metrics) fetch(k Key, outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(string(k.Kind), outcome).Inc()
}

func (m *Metrics) load(k Key, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(string(k.Kind), result).Inc()
	m.loadDuration.WithLabelValues(string(k.Kind)).Observe(d.Seconds())
}

func (m *Metrics) invalidated(k Key) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(string(k.Kind)).Inc()
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}
