// Package avsync tracks drift between the video and audio clocks and asks
// for corrections when it grows past a threshold.
package avsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hls-player/internal/estimate"
	"hls-player/internal/platform/metrics"
)

// Config holds the corrector parameters.
type Config struct {
	Interval      time.Duration // extra sampling tick
	WindowSize    int
	Threshold     time.Duration // soft correction
	HardThreshold time.Duration // NeedsCorrection
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		Interval:      100 * time.Millisecond,
		WindowSize:    50,
		Threshold:     40 * time.Millisecond,
		HardThreshold: 200 * time.Millisecond,
	}
}

// Snapshot is a read-only view of the drift state.
type Snapshot struct {
	Audio           time.Duration `json:"audio"`
	Video           time.Duration `json:"video"`
	LastDrift       time.Duration `json:"last_drift"`
	AverageDrift    time.Duration `json:"average_drift"`
	Samples         int           `json:"samples"`
	NeedsCorrection bool          `json:"needs_correction"`
	Corrections     int           `json:"corrections"`
}

// Corrector keeps a window of drift samples (video minus audio). When the
// average crosses Threshold it fires one correction; it re-arms once the
// average falls back under Threshold or on Reset. Crossing HardThreshold is
// latched separately, so drift that keeps growing after a soft correction
// still reaches the hard handler.
type Corrector struct {
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	window      *estimate.Window
	audio       time.Duration
	video       time.Duration
	hasAudio    bool
	hasVideo    bool
	latched     bool
	hardLatched bool
	corrections int
	onAudio     func(offset time.Duration)
	onVideo     func(offset time.Duration)
	onHard      func(avg time.Duration) bool

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped corrector.
func New(cfg Config, log *slog.Logger, m *metrics.Metrics) *Corrector {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.HardThreshold <= 0 {
		cfg.HardThreshold = def.HardThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Corrector{
		cfg:     cfg,
		log:     log.With("component", "avsync"),
		metrics: m,
		window:  estimate.NewWindow(cfg.WindowSize),
	}
}

// Start installs the correction callbacks and starts the sampling tick.
// onAudio receives a positive offset when audio leads; onVideo receives a
// negative offset when video leads. Each is half the average drift.
func (c *Corrector) Start(onAudio, onVideo func(offset time.Duration)) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	c.stopLocked()

	c.mu.Lock()
	c.onAudio, c.onVideo = onAudio, onVideo
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	go c.run(ctx, done)
}

// OnHardDrift installs fn for an average drift past HardThreshold. fn
// reports whether it realigned the clocks; when it did not, the next
// sample past the threshold calls it again. Stop drops it.
func (c *Corrector) OnHardDrift(fn func(avg time.Duration) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHard = fn
}

// Stop ends the tick and drops the callbacks.
func (c *Corrector) Stop() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	c.stopLocked()

	c.mu.Lock()
	c.onAudio, c.onVideo, c.onHard = nil, nil, nil
	c.mu.Unlock()
}

func (c *Corrector) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel, c.done = nil, nil
}

func (c *Corrector) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

// ReportAudioTimestamp records the audio clock.
func (c *Corrector) ReportAudioTimestamp(t time.Duration) {
	c.mu.Lock()
	c.audio, c.hasAudio = t, true
	c.mu.Unlock()
	c.sample()
}

// ReportVideoTimestamp records the video clock.
func (c *Corrector) ReportVideoTimestamp(t time.Duration) {
	c.mu.Lock()
	c.video, c.hasVideo = t, true
	c.mu.Unlock()
	c.sample()
}

// Reset forgets all clocks and drift history. Call it whenever the stream
// is replaced.
func (c *Corrector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.Reset()
	c.audio, c.video = 0, 0
	c.hasAudio, c.hasVideo = false, false
	c.latched = false
	c.hardLatched = false
	c.metrics.SetDrift(0)
}

// sample takes one drift sample once both clocks are known.
func (c *Corrector) sample() {
	c.mu.Lock()
	if !c.hasAudio || !c.hasVideo {
		c.mu.Unlock()
		return
	}
	c.window.Add(float64(c.video - c.audio))
	avg := time.Duration(c.window.Mean())

	var fn func(time.Duration)
	var offset time.Duration
	var track string
	switch {
	case absDuration(avg) <= c.cfg.Threshold:
		c.latched = false
	case !c.latched:
		c.latched = true
		c.corrections++
		if avg > 0 {
			fn, offset, track = c.onVideo, -avg/2, "video"
		} else {
			fn, offset, track = c.onAudio, -avg/2, "audio"
		}
	}

	var hard func(time.Duration) bool
	if absDuration(avg) <= c.cfg.HardThreshold {
		c.hardLatched = false
	} else if !c.hardLatched && c.onHard != nil {
		c.hardLatched = true
		hard = c.onHard
	}
	c.mu.Unlock()

	c.metrics.SetDrift(avg)
	if track != "" {
		c.metrics.IncSyncCorrections(track)
		c.log.Info("drift correction",
			slog.String("track", track),
			slog.Duration("average_drift", avg),
			slog.Duration("offset", offset))
		if fn != nil {
			fn(offset)
		}
	}
	if hard == nil {
		return
	}
	c.metrics.IncSyncCorrections("resync")
	c.log.Warn("drift past hard threshold", slog.Duration("average_drift", avg))
	if !hard(avg) {
		c.mu.Lock()
		c.hardLatched = false
		c.mu.Unlock()
	}
}

// AverageDrift returns the mean drift over the window.
func (c *Corrector) AverageDrift() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.window.Mean())
}

// NeedsCorrection reports whether the average drift exceeds the hard
// threshold, where a soft nudge is not enough.
func (c *Corrector) NeedsCorrection() bool {
	return absDuration(c.AverageDrift()) > c.cfg.HardThreshold
}

// Snapshot returns the current drift state.
func (c *Corrector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, _ := c.window.Last()
	avg := time.Duration(c.window.Mean())
	return Snapshot{
		Audio:           c.audio,
		Video:           c.video,
		LastDrift:       time.Duration(last),
		AverageDrift:    avg,
		Samples:         c.window.Len(),
		NeedsCorrection: absDuration(avg) > c.cfg.HardThreshold,
		Corrections:     c.corrections,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
