// Package buffer sizes the read-ahead buffer from the predicted network
// speed and asks the owner for more data when the buffer runs short.
package buffer

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"hls-player/internal/estimate"
	"hls-player/internal/platform/metrics"

	"github.com/dustin/go-humanize"
)

// Config holds the planner parameters. Speeds are in bytes per second.
type Config struct {
	Interval      time.Duration
	FullTarget    time.Duration
	ReducedTarget time.Duration
	MinTarget     time.Duration
	MaxBuffer     time.Duration
	FullSpeed     float64
	ReducedSpeed  float64
	WindowSize    int
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		Interval:      500 * time.Millisecond,
		FullTarget:    30 * time.Second,
		ReducedTarget: 20 * time.Second,
		MinTarget:     5 * time.Second,
		MaxBuffer:     60 * time.Second,
		FullSpeed:     1_000_000,
		ReducedSpeed:  500_000,
		WindowSize:    10,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.FullTarget <= 0 {
		c.FullTarget = def.FullTarget
	}
	if c.ReducedTarget <= 0 {
		c.ReducedTarget = def.ReducedTarget
	}
	if c.MinTarget <= 0 {
		c.MinTarget = def.MinTarget
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = def.MaxBuffer
	}
	if c.FullSpeed <= 0 {
		c.FullSpeed = def.FullSpeed
	}
	if c.ReducedSpeed <= 0 {
		c.ReducedSpeed = def.ReducedSpeed
	}
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	return c
}

// Snapshot is the state published after every evaluation.
type Snapshot struct {
	Position       time.Duration `json:"position"`
	Duration       time.Duration `json:"duration"`
	Ahead          time.Duration `json:"ahead"`
	Target         time.Duration `json:"target"`
	Buffering      bool          `json:"buffering"`
	Speed          float64       `json:"bytes_per_second"`
	PredictedSpeed float64       `json:"predicted_bytes_per_second"`
}

// Planner decides when more media should be fetched. It never touches the
// player; requestMore is its only way to act.
type Planner struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	speeds      *estimate.Window
	buffering   bool
	reported    time.Duration
	hasReported bool
	last        Snapshot
	positionFn  func() time.Duration
	durationFn  func() time.Duration
	requestFn   func(target time.Duration)
	snapshotFns []func(Snapshot)

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped planner.
func New(cfg Config, log *slog.Logger, m *metrics.Metrics) *Planner {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		cfg:     cfg,
		log:     log.With("component", "buffer"),
		metrics: m,
		speeds:  estimate.NewWindow(cfg.WindowSize),
	}
}

// OnSnapshot registers fn to receive the snapshot of every evaluation.
func (p *Planner) OnSnapshot(fn func(Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshotFns = append(p.snapshotFns, fn)
}

// Start begins periodic evaluation. Restarting replaces the sources and
// clears the buffering flag and any reported buffer level.
func (p *Planner) Start(position, duration func() time.Duration, requestMore func(target time.Duration)) {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	p.stopLocked()

	p.mu.Lock()
	p.positionFn, p.durationFn, p.requestFn = position, duration, requestMore
	p.buffering = false
	p.hasReported = false
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go p.run(ctx, done)

	p.log.Debug("buffer monitoring started", slog.Duration("interval", p.cfg.Interval))
}

// Stop ends evaluation and waits for the loop to exit.
func (p *Planner) Stop() {
	p.loopMu.Lock()
	defer p.loopMu.Unlock()
	if p.stopLocked() {
		p.log.Debug("buffer monitoring stopped")
	}
}

func (p *Planner) stopLocked() bool {
	if p.cancel == nil {
		return false
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
	return true
}

func (p *Planner) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Evaluate()
		}
	}
}

// UpdateNetworkSpeed feeds a speed sample in bytes per second.
func (p *Planner) UpdateNetworkSpeed(bytesPerSecond float64) {
	if bytesPerSecond < 0 || math.IsNaN(bytesPerSecond) || math.IsInf(bytesPerSecond, 0) {
		return
	}
	p.mu.Lock()
	p.speeds.Add(bytesPerSecond)
	p.mu.Unlock()
}

// ReportBufferedAhead records the buffer level measured by the player. Once
// reported it replaces the estimate derived from the target.
func (p *Planner) ReportBufferedAhead(ahead time.Duration) {
	if ahead < 0 {
		ahead = 0
	}
	p.mu.Lock()
	p.reported, p.hasReported = ahead, true
	p.mu.Unlock()
}

// PredictedSpeed returns the recency-weighted speed estimate.
func (p *Planner) PredictedSpeed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speeds.WeightedMean()
}

// TargetFor maps a predicted speed to a buffer target. With no samples the
// full target is used.
func (p *Planner) TargetFor(predicted float64, samples int) time.Duration {
	switch {
	case samples == 0 || predicted >= p.cfg.FullSpeed:
		return p.cfg.FullTarget
	case predicted >= p.cfg.ReducedSpeed:
		return p.cfg.ReducedTarget
	default:
		return p.cfg.MinTarget
	}
}

// Evaluate runs one planning step and returns the published snapshot.
func (p *Planner) Evaluate() Snapshot {
	p.mu.Lock()
	if p.positionFn == nil || p.durationFn == nil {
		snap := p.last
		p.mu.Unlock()
		return snap
	}
	positionFn, durationFn := p.positionFn, p.durationFn
	p.mu.Unlock()

	// Player accessors may block; read them without holding the lock.
	pos, dur := positionFn(), durationFn()

	p.mu.Lock()
	predicted := p.speeds.WeightedMean()
	target := p.TargetFor(predicted, p.speeds.Len())

	remaining := time.Duration(math.MaxInt64)
	if dur > 0 {
		remaining = max(dur-pos, 0)
	}
	ahead := min(target, remaining)
	if p.hasReported {
		ahead = min(p.reported, remaining)
	}
	complete := dur > 0 && ahead >= remaining

	var request func(time.Duration)
	switch {
	case p.buffering && (ahead > p.cfg.MaxBuffer || ahead >= target || complete):
		p.buffering = false
	case !p.buffering && ahead < target && !complete:
		p.buffering = true
		request = p.requestFn
	}

	speed, _ := p.speeds.Last()
	snap := Snapshot{
		Position:       pos,
		Duration:       dur,
		Ahead:          ahead,
		Target:         target,
		Buffering:      p.buffering,
		Speed:          speed,
		PredictedSpeed: predicted,
	}
	p.last = snap
	fns := slices.Clone(p.snapshotFns)
	p.mu.Unlock()

	p.metrics.SetBuffer(ahead, target)
	if request != nil {
		p.metrics.IncBufferRequests()
		p.log.Debug("requesting more media",
			slog.Duration("ahead", ahead),
			slog.Duration("target", target),
			slog.String("predicted", humanize.Bytes(uint64(predicted))+"/s"))
		request(target)
	}
	for _, fn := range fns {
		fn(snap)
	}
	return snap
}

// Snapshot returns the last published snapshot.
func (p *Planner) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
