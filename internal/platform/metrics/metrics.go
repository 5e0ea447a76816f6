package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the playback controller.
// A nil *Metrics is valid and records nothing, so components can run without
// a registry (e.g. in tests).
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal prometheus.Counter
	errorsTotal   prometheus.Counter

	statusTransitions *prometheus.CounterVec
	initAttempts      *prometheus.CounterVec
	qualitySwitches   *prometheus.CounterVec
	activeSessions    prometheus.Gauge

	networkSpeed  prometheus.Gauge
	networkTier   prometheus.Gauge
	probeFailures prometheus.Counter

	bufferAhead    prometheus.Gauge
	bufferTarget   prometheus.Gauge
	bufferRequests prometheus.Counter

	avDrift         prometheus.Gauge
	syncCorrections *prometheus.CounterVec

	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	cacheEntries prometheus.Gauge
}

// New creates and registers the player metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_http_requests_total",
			Help: "Total number of control API requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_http_errors_total",
			Help: "Total number of control API responses with error status (4xx or 5xx)",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_status_transitions_total",
			Help: "Playback status transitions by source and target status",
		}, []string{"from", "to"}),
		initAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_init_attempts_total",
			Help: "Initialization attempts by result",
		}, []string{"result"}),
		qualitySwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_quality_switches_total",
			Help: "Quality change requests by outcome",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_active_sessions",
			Help: "Number of initialized, not yet disposed playback sessions",
		}),
		networkSpeed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_network_speed_bytes_per_second",
			Help: "Recency-weighted network speed estimate",
		}),
		networkTier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_network_tier",
			Help: "Current network quality tier (0 unknown, 1 very poor .. 5 excellent)",
		}),
		probeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_network_probe_failures_total",
			Help: "Speed probes that failed and were ignored",
		}),
		bufferAhead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_buffer_ahead_seconds",
			Help: "Buffered playback time ahead of the current position",
		}),
		bufferTarget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_buffer_target_seconds",
			Help: "Target look-ahead buffer derived from predicted speed",
		}),
		bufferRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_buffer_requests_total",
			Help: "Requests for more media issued by the buffer planner",
		}),
		avDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_av_drift_seconds",
			Help: "Smoothed video minus audio clock drift",
		}),
		syncCorrections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_sync_corrections_total",
			Help: "Audio/video drift corrections by corrected track",
		}, []string{"track"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_manifest_cache_hits_total",
			Help: "Manifest cache lookups served from cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_manifest_cache_misses_total",
			Help: "Manifest cache lookups that missed",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_manifest_cache_entries",
			Help: "Catalogues currently held by the manifest cache",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.statusTransitions,
		m.initAttempts,
		m.qualitySwitches,
		m.activeSessions,
		m.networkSpeed,
		m.networkTier,
		m.probeFailures,
		m.bufferAhead,
		m.bufferTarget,
		m.bufferRequests,
		m.avDrift,
		m.syncCorrections,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEntries,
	)

	return m
}

// Registry exposes the underlying registry (for tests and extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObserveStatusTransition counts a status change.
func (m *Metrics) ObserveStatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// ObserveInitAttempt counts one initialization attempt ("success"/"failure").
func (m *Metrics) ObserveInitAttempt(result string) {
	if m == nil {
		return
	}
	m.initAttempts.WithLabelValues(result).Inc()
}

// ObserveQualitySwitch counts a quality change outcome.
func (m *Metrics) ObserveQualitySwitch(result string) {
	if m == nil {
		return
	}
	m.qualitySwitches.WithLabelValues(result).Inc()
}

// AddActiveSessions moves the active sessions gauge by delta.
func (m *Metrics) AddActiveSessions(delta int) {
	if m == nil {
		return
	}
	m.activeSessions.Add(float64(delta))
}

// SetNetwork records the smoothed speed and tier.
func (m *Metrics) SetNetwork(bytesPerSecond float64, tier int) {
	if m == nil {
		return
	}
	m.networkSpeed.Set(bytesPerSecond)
	m.networkTier.Set(float64(tier))
}

// IncProbeFailures counts a failed speed probe.
func (m *Metrics) IncProbeFailures() {
	if m == nil {
		return
	}
	m.probeFailures.Inc()
}

// SetBuffer records the current and target look-ahead.
func (m *Metrics) SetBuffer(ahead, target time.Duration) {
	if m == nil {
		return
	}
	m.bufferAhead.Set(ahead.Seconds())
	m.bufferTarget.Set(target.Seconds())
}

// IncBufferRequests counts a request for more media.
func (m *Metrics) IncBufferRequests() {
	if m == nil {
		return
	}
	m.bufferRequests.Inc()
}

// SetDrift records the smoothed audio/video drift.
func (m *Metrics) SetDrift(d time.Duration) {
	if m == nil {
		return
	}
	m.avDrift.Set(d.Seconds())
}

// IncSyncCorrections counts a correction applied to track ("audio"/"video"),
// or "resync" for a realigning seek.
func (m *Metrics) IncSyncCorrections(track string) {
	if m == nil {
		return
	}
	m.syncCorrections.WithLabelValues(track).Inc()
}

// ObserveCacheLookup counts a manifest cache hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// SetCacheEntries sets the manifest cache size gauge.
func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. cache size).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
