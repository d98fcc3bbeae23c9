// Package monitoring exposes Prometheus metrics for the rotation engine.
//
// Metrics cover proxy selection, rotation events, circuit breaker
// transitions, rate-limit denials and sticky session lookups. A JSON
// snapshot mirror serves the settings surface without a Prometheus scrape.
package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for one engine instance.
type Metrics struct {
	// Selection metrics
	SelectionsTotal *prometheus.CounterVec
	SelectionErrors *prometheus.CounterVec
	AcquireDuration *prometheus.HistogramVec

	// Rotation metrics
	RotationsTotal *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerTransitions *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitDenials *prometheus.CounterVec

	// Sticky session metrics
	StickyLookups *prometheus.CounterVec

	// Lease metrics
	ActiveLeases prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON settings surface.
type Snapshot struct {
	TotalSelections  int64   `json:"total_selections"`
	TotalErrors      int64   `json:"total_errors"`
	TotalRotations   int64   `json:"total_rotations"`
	TotalDenials     int64   `json:"total_denials"`
	ActiveLeases     int64   `json:"active_leases"`
	StickyHits       int64   `json:"sticky_hits"`
	StickyMisses     int64   `json:"sticky_misses"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	TotalDuration    float64 `json:"-"` // sum of acquire durations
	SelectionSamples int64   `json:"-"` // count for averaging
}

// NewMetrics creates a metrics collector registered on the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector on a caller-owned registerer.
// Tests and multi-instance processes use this to avoid duplicate
// registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		SelectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_selections_total",
				Help: "Total number of proxy selections",
			},
			[]string{"strategy", "group"},
		),
		SelectionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_selection_errors_total",
				Help: "Total number of failed proxy selections",
			},
			[]string{"reason"},
		),
		AcquireDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_acquire_duration_seconds",
				Help:    "Proxy acquisition duration in seconds",
				Buckets: []float64{.00001, .0001, .001, .005, .01, .05, .1},
			},
			[]string{"strategy"},
		),
		RotationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_rotations_total",
				Help: "Total number of proxy rotations",
			},
			[]string{"reason"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_breaker_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),
		RateLimitDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_rate_limit_denials_total",
				Help: "Total number of rate limit denials",
			},
			[]string{"class", "reason"},
		),
		StickyLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_sticky_lookups_total",
				Help: "Total number of sticky session lookups",
			},
			[]string{"result"},
		),
		ActiveLeases: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_active_leases",
				Help: "Number of proxy leases currently held",
			},
		),
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "engine_uptime_seconds",
				Help: "Engine uptime in seconds",
			},
		),
	}

	return m
}

// RecordSelection tracks one successful proxy selection.
func (m *Metrics) RecordSelection(strategy, group string, duration time.Duration) {
	m.SelectionsTotal.WithLabelValues(strategy, group).Inc()
	m.AcquireDuration.WithLabelValues(strategy).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalSelections++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.SelectionSamples++
	m.mu.Unlock()
}

// RecordSelectionError tracks one failed selection.
func (m *Metrics) RecordSelectionError(reason string) {
	m.SelectionErrors.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.snapshot.TotalErrors++
	m.mu.Unlock()
}

// RecordRotation tracks one emitted rotation event.
func (m *Metrics) RecordRotation(reason string) {
	m.RotationsTotal.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.snapshot.TotalRotations++
	m.mu.Unlock()
}

// RecordBreakerTransition tracks one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(from, to string) {
	m.BreakerTransitions.WithLabelValues(from, to).Inc()
}

// RecordDenial tracks one rate limit denial.
func (m *Metrics) RecordDenial(class, reason string) {
	m.RateLimitDenials.WithLabelValues(class, reason).Inc()

	m.mu.Lock()
	m.snapshot.TotalDenials++
	m.mu.Unlock()
}

// RecordStickyLookup tracks one sticky table lookup.
func (m *Metrics) RecordStickyLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.StickyLookups.WithLabelValues(result).Inc()

	m.mu.Lock()
	if hit {
		m.snapshot.StickyHits++
	} else {
		m.snapshot.StickyMisses++
	}
	m.mu.Unlock()
}

// LeaseStarted tracks a newly acquired lease.
func (m *Metrics) LeaseStarted() {
	m.ActiveLeases.Inc()

	m.mu.Lock()
	m.snapshot.ActiveLeases++
	m.mu.Unlock()
}

// LeaseEnded tracks a released lease.
func (m *Metrics) LeaseEnded() {
	m.ActiveLeases.Dec()

	m.mu.Lock()
	if m.snapshot.ActiveLeases > 0 {
		m.snapshot.ActiveLeases--
	}
	m.mu.Unlock()
}

// GetSnapshot returns current values for the JSON settings surface.
func (m *Metrics) GetSnapshot() Snapshot {
	uptime := time.Since(m.startTime).Seconds()
	m.Uptime.Set(uptime)

	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snapshot
	snap.UptimeSeconds = uptime
	return snap
}

// AverageAcquireSeconds returns the mean acquire duration.
func (m *Metrics) AverageAcquireSeconds() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot.SelectionSamples == 0 {
		return 0
	}
	return m.snapshot.TotalDuration / float64(m.snapshot.SelectionSamples)
}
