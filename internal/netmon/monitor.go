// Package netmon estimates network speed from periodic range probes and
// classifies it into quality tiers.
package netmon

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"hls-player/internal/estimate"
	"hls-player/internal/media"
	"hls-player/internal/platform/metrics"

	"github.com/dustin/go-humanize"
)

// Thresholds are the lower bounds, in megabits per second, of each tier.
type Thresholds struct {
	Excellent float64
	Good      float64
	Fair      float64
	Poor      float64
}

// Config holds the monitor parameters.
type Config struct {
	Interval   time.Duration // probe period; the first probe runs immediately
	WindowSize int           // samples kept for smoothing
	StableCV   float64       // coefficient of variation below which the link is stable
	Thresholds Thresholds
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		Interval:   30 * time.Second,
		WindowSize: 10,
		StableCV:   0.3,
		Thresholds: Thresholds{Excellent: 25, Good: 10, Fair: 5, Poor: 1},
	}
}

// Snapshot is a read-only view of the monitor state.
type Snapshot struct {
	SmoothedSpeed     float64           `json:"smoothed_bytes_per_second"`
	LastSpeed         float64           `json:"last_bytes_per_second"`
	Samples           int               `json:"samples"`
	Tier              media.QualityTier `json:"-"`
	TierName          string            `json:"tier"`
	RecommendedHeight int               `json:"recommended_height"`
	Stable            bool              `json:"stable"`
	Variation         float64           `json:"coefficient_of_variation"`
}

// Monitor keeps a recency-weighted speed estimate. Samples come from the
// probe loop or from ReportSample.
type Monitor struct {
	cfg     Config
	prober  Prober
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	window    *estimate.Window
	tier      media.QualityTier
	sampleFns []func(bytesPerSecond float64)
	tierFns   []func(media.QualityTier)

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a monitor. prober may be nil when only ReportSample is used.
func New(cfg Config, prober Prober, log *slog.Logger, m *metrics.Metrics) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.StableCV <= 0 {
		cfg.StableCV = def.StableCV
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:     cfg,
		prober:  prober,
		log:     log.With("component", "netmon"),
		metrics: m,
		window:  estimate.NewWindow(cfg.WindowSize),
	}
}

// OnSample registers fn to receive every accepted sample.
func (m *Monitor) OnSample(fn func(bytesPerSecond float64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleFns = append(m.sampleFns, fn)
}

// OnTierChange registers fn to be called when the tier changes.
func (m *Monitor) OnTierChange(fn func(media.QualityTier)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tierFns = append(m.tierFns, fn)
}

// StartProbing probes target now and then every Interval until StopProbing.
// Calling it while running restarts the loop against the new target.
func (m *Monitor) StartProbing(target string) {
	if m.prober == nil {
		return
	}

	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	m.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	go m.run(ctx, target, done)
	m.log.Info("network probing started",
		slog.String("target", target),
		slog.Duration("interval", m.cfg.Interval))
}

// StopProbing stops the probe loop and waits for it to exit. No sample
// callbacks run after it returns.
func (m *Monitor) StopProbing() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.stopLocked() {
		m.log.Debug("network probing stopped")
	}
}

// stopLocked cancels the running loop, if any. Caller must hold m.loopMu.
func (m *Monitor) stopLocked() bool {
	if m.cancel == nil {
		return false
	}
	m.cancel()
	<-m.done
	m.cancel, m.done = nil, nil
	return true
}

func (m *Monitor) run(ctx context.Context, target string, done chan struct{}) {
	defer close(done)

	m.ProbeOnce(ctx, target)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeOnce(ctx, target)
		}
	}
}

// ProbeOnce runs one probe and records its sample. A failed probe leaves the
// estimate untouched.
func (m *Monitor) ProbeOnce(ctx context.Context, target string) {
	if m.prober == nil {
		return
	}
	bps, err := m.prober.Probe(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.metrics.IncProbeFailures()
		m.log.Warn("speed probe failed, keeping last estimate",
			slog.String("target", target),
			slog.String("error", err.Error()))
		return
	}
	m.ReportSample(bps)
}

// ReportSample adds a speed sample in bytes per second.
func (m *Monitor) ReportSample(bytesPerSecond float64) {
	if bytesPerSecond < 0 || math.IsNaN(bytesPerSecond) || math.IsInf(bytesPerSecond, 0) {
		return
	}

	m.mu.Lock()
	m.window.Add(bytesPerSecond)
	smoothed := m.window.WeightedMean()
	prev := m.tier
	m.tier = m.cfg.Thresholds.TierFor(smoothed)
	tier := m.tier
	sampleFns := slices.Clone(m.sampleFns)
	var tierFns []func(media.QualityTier)
	if tier != prev {
		tierFns = append(tierFns, m.tierFns...)
	}
	m.mu.Unlock()

	m.metrics.SetNetwork(smoothed, int(tier))
	m.log.Debug("network sample",
		slog.String("sample", humanize.Bytes(uint64(bytesPerSecond))+"/s"),
		slog.String("smoothed", humanize.Bytes(uint64(smoothed))+"/s"),
		slog.String("tier", tier.String()))
	if tier != prev {
		m.log.Info("network tier changed",
			slog.String("from", prev.String()),
			slog.String("to", tier.String()),
			slog.Int("recommended_height", tier.RecommendedHeight()))
	}

	for _, fn := range sampleFns {
		fn(bytesPerSecond)
	}
	for _, fn := range tierFns {
		fn(tier)
	}
}

// CurrentTier returns the tier of the smoothed speed (TierUnknown before
// the first sample).
func (m *Monitor) CurrentTier() media.QualityTier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tier
}

// RecommendedHeight returns the height the current tier can sustain.
func (m *Monitor) RecommendedHeight() int {
	return m.CurrentTier().RecommendedHeight()
}

// SmoothedSpeed returns the recency-weighted speed in bytes per second.
func (m *Monitor) SmoothedSpeed() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.window.WeightedMean()
}

// IsStable reports whether the sample spread is below the stability
// threshold. Fewer than two samples are never stable.
func (m *Monitor) IsStable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.window.Len() >= 2 && m.window.CoefficientOfVariation() < m.cfg.StableCV
}

// Snapshot returns the current estimate.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	last, _ := m.window.Last()
	cv := m.window.CoefficientOfVariation()
	if math.IsInf(cv, 0) {
		cv = 0
	}
	return Snapshot{
		SmoothedSpeed:     m.window.WeightedMean(),
		LastSpeed:         last,
		Samples:           m.window.Len(),
		Tier:              m.tier,
		TierName:          m.tier.String(),
		RecommendedHeight: m.tier.RecommendedHeight(),
		Stable:            m.window.Len() >= 2 && m.window.CoefficientOfVariation() < m.cfg.StableCV,
		Variation:         cv,
	}
}

// TierFor classifies a speed in bytes per second.
func (t Thresholds) TierFor(bytesPerSecond float64) media.QualityTier {
	mbps := bytesPerSecond * 8 / 1e6
	switch {
	case mbps >= t.Excellent:
		return media.TierExcellent
	case mbps >= t.Good:
		return media.TierGood
	case mbps >= t.Fair:
		return media.TierFair
	case mbps >= t.Poor:
		return media.TierPoor
	default:
		return media.TierVeryPoor
	}
}
