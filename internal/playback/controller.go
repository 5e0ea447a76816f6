// Package playback implements the adaptive playback controller: it opens a
// source at a selected variant, switches variants without glitches, and
// runs the network, buffer and sync monitors against the one shared
// playback session.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"hls-player/internal/avsync"
	"hls-player/internal/buffer"
	"hls-player/internal/catalogue"
	"hls-player/internal/engine"
	"hls-player/internal/manifest"
	"hls-player/internal/media"
	"hls-player/internal/netmon"
	"hls-player/internal/platform/metrics"
	"hls-player/internal/selector"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Deps are the collaborators of a Controller. Cache may be shared by many
// controllers; everything else belongs to one. Prober, Logger and Metrics
// are optional.
type Deps struct {
	Cache    *manifest.Cache
	Resolver catalogue.Resolver
	Player   engine.Player
	Prober   netmon.Prober
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// InitOptions control Initialize.
type InitOptions struct {
	AutoPlay          bool `json:"auto_play"`
	ChooseBestQuality bool `json:"choose_best_quality"`
	DesiredHeight     int  `json:"desired_height" validate:"gte=0"`
}

// session is the state of one opened source.
type session struct {
	source        media.SourceID
	catalogue     *media.Catalogue
	video         media.Variant
	audio         media.Variant
	audioAttached bool
	height        int // requested height, 0 for auto
	best          bool
	stopped       bool
}

// Controller drives one playback session.
//
// Observers registered with OnStatus, OnProgress and OnQualities run
// synchronously on the goroutine that caused the change and must not call
// back into the Controller.
type Controller struct {
	id       string
	cfg      Config
	cache    *manifest.Cache
	resolver catalogue.Resolver
	player   engine.Player
	log      *slog.Logger
	metrics  *metrics.Metrics
	selector *selector.Selector

	network *netmon.Monitor
	buffer  *buffer.Planner
	sync    *avsync.Corrector

	// adaptive paces automatic switches.
	adaptive *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	initGroup singleflight.Group
	wg        sync.WaitGroup

	// initMu runs initializations of different sources one at a time.
	initMu sync.Mutex

	statusMu sync.Mutex
	status   atomic.Int32
	lastErr  error

	// mu guards the session and the flags below.
	mu           sync.Mutex
	sess         *session
	initializing bool
	swapping     bool
	swapDone     chan struct{} // closed when the swap in flight ends
	resumePlay   bool
	rate         float64
	disposed     bool
	qualities    []media.QualityOption

	// adaptiveTimer is set while an adaptive switch is deferred. Guarded
	// by mu.
	adaptiveTimer *time.Timer

	// opMu serializes sequences of engine mutations.
	opMu sync.Mutex

	// monMu serializes starting and stopping the monitors.
	monMu     sync.Mutex
	monClosed bool

	obsMu       sync.RWMutex
	statusFns   []func(Status)
	progressFns []func(position, duration time.Duration)
	qualityFns  []func([]media.QualityOption)

	disposeOnce sync.Once
}

// New returns an idle controller and starts consuming the engine's events.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Cache == nil || deps.Resolver == nil || deps.Player == nil {
		return nil, errors.New("playback: cache, resolver and player are required")
	}
	cfg = cfg.withDefaults()
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	log = log.With("component", "playback", "session_id", id)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:       id,
		cfg:      cfg,
		cache:    deps.Cache,
		resolver: deps.Resolver,
		player:   deps.Player,
		log:      log,
		metrics:  deps.Metrics,
		selector: selector.New(cfg.Policy),
		network:  netmon.New(cfg.Network, deps.Prober, log, deps.Metrics),
		buffer:   buffer.New(cfg.Buffer, log, deps.Metrics),
		sync:     avsync.New(cfg.Sync, log, deps.Metrics),
		adaptive: rate.NewLimiter(rate.Every(cfg.AdaptiveInterval), 1),
		ctx:      ctx,
		cancel:   cancel,
		rate:     1,
	}
	c.network.OnSample(c.buffer.UpdateNetworkSpeed)
	c.network.OnTierChange(c.onTierChange)
	c.metrics.AddActiveSessions(1)

	c.wg.Add(1)
	go c.eventLoop()
	return c, nil
}

// ID returns the session identifier used in logs.
func (c *Controller) ID() string { return c.id }

// Status returns the current status.
func (c *Controller) Status() Status {
	return Status(c.status.Load())
}

// Err returns the error behind the last transition to StatusError.
func (c *Controller) Err() error {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.lastErr
}

// OnStatus registers fn for every distinct status transition.
func (c *Controller) OnStatus(fn func(Status)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.statusFns = append(c.statusFns, fn)
}

// OnProgress registers fn for position updates.
func (c *Controller) OnProgress(fn func(position, duration time.Duration)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.progressFns = append(c.progressFns, fn)
}

// OnQualities registers fn for the quality list published after each
// successful initialization.
func (c *Controller) OnQualities(fn func([]media.QualityOption)) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.qualityFns = append(c.qualityFns, fn)
}

// Qualities returns the last published quality list.
func (c *Controller) Qualities() []media.QualityOption {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.QualityOption(nil), c.qualities...)
}

// setStatus is the only writer of the status. Observers are notified once
// per distinct transition, in transition order. Nothing leaves Disposed.
func (c *Controller) setStatus(next Status) bool {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	prev := Status(c.status.Load())
	if prev == next || prev == StatusDisposed {
		return false
	}
	c.status.Store(int32(next))
	c.metrics.ObserveStatusTransition(prev.String(), next.String())
	c.log.Info("status changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()))

	c.obsMu.RLock()
	fns := slices.Clone(c.statusFns)
	c.obsMu.RUnlock()
	for _, fn := range fns {
		fn(next)
	}
	return true
}

// fail tears the session down and moves to StatusError.
func (c *Controller) fail(err error) {
	c.log.Error("playback failed", slog.String("error", err.Error()))
	c.mu.Lock()
	c.sess = nil
	c.endSwap()
	c.mu.Unlock()
	c.stopMonitors(false)

	c.statusMu.Lock()
	c.lastErr = err
	c.statusMu.Unlock()
	c.setStatus(StatusError)
}

func (c *Controller) publishProgress(position, duration time.Duration) {
	c.obsMu.RLock()
	fns := slices.Clone(c.progressFns)
	c.obsMu.RUnlock()
	for _, fn := range fns {
		fn(position, duration)
	}
}

func (c *Controller) publishQualities(q []media.QualityOption) {
	c.mu.Lock()
	c.qualities = q
	c.mu.Unlock()

	c.obsMu.RLock()
	fns := slices.Clone(c.qualityFns)
	c.obsMu.RUnlock()
	for _, fn := range fns {
		fn(append([]media.QualityOption(nil), q...))
	}
}

// startMonitors starts the three monitors against locator. It does
// nothing once the controller is disposed.
func (c *Controller) startMonitors(locator string) {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	if c.monClosed {
		return
	}
	c.network.StartProbing(locator)
	c.buffer.Start(c.player.Position, c.player.Duration, c.requestMore)
	c.sync.Reset()
	c.sync.Start(c.correctAudio, c.correctVideo)
	c.sync.OnHardDrift(c.resync)
}

// stopMonitors stops the monitors; after a final stop they never restart.
// No monitor callback runs after it returns.
func (c *Controller) stopMonitors(final bool) {
	c.monMu.Lock()
	defer c.monMu.Unlock()
	c.network.StopProbing()
	c.buffer.Stop()
	c.sync.Stop()
	c.sync.Reset()
	if final {
		c.monClosed = true
	}
}

// current returns a copy of the session when one is open and no swap is
// in flight.
func (c *Controller) current() (session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.swapping {
		return session{}, false
	}
	return *c.sess, true
}

func (c *Controller) eventLoop() {
	defer c.wg.Done()
	events := c.player.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Controller) handleEvent(ev engine.Event) {
	sess, ok := c.current()
	if !ok {
		return
	}
	switch ev.Kind {
	case engine.EventPosition:
		c.buffer.ReportBufferedAhead(ev.BufferedAhead)
		c.sync.ReportVideoTimestamp(ev.Position)
		if sess.audioAttached {
			c.sync.ReportAudioTimestamp(ev.AudioPosition)
		}
		c.publishProgress(ev.Position, ev.Duration)
	case engine.EventDuration:
		c.publishProgress(c.player.Position(), ev.Duration)
	case engine.EventCompleted:
		c.mu.Lock()
		if c.sess != nil {
			c.sess.stopped = true
		}
		c.mu.Unlock()
		c.log.Info("playback completed")
		c.setStatus(StatusStopped)
	case engine.EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("engine error")
		}
		c.fail(err)
	}
}

// requestMore forwards a read-ahead request to engines that accept one.
func (c *Controller) requestMore(target time.Duration) {
	if p, ok := c.player.(engine.Prefetcher); ok {
		p.Prefetch(target)
	}
}

// correctAudio and correctVideo nudge engines that can shift a clock.
// Other engines only get the hard resync.
func (c *Controller) correctAudio(offset time.Duration) {
	if adj, ok := c.player.(engine.SyncAdjuster); ok {
		adj.AdjustAudio(offset)
	}
}

func (c *Controller) correctVideo(offset time.Duration) {
	if adj, ok := c.player.(engine.SyncAdjuster); ok {
		adj.AdjustVideo(offset)
	}
}

// resync realigns both tracks with a seek to the current position. It
// reports false when it did not run, either because another engine
// sequence holds opMu or because the seek failed, so the next sample past
// the hard threshold retries.
func (c *Controller) resync(avg time.Duration) bool {
	if !c.opMu.TryLock() {
		return false
	}
	defer c.opMu.Unlock()
	pos := c.player.Position()
	if err := c.player.Seek(c.ctx, pos); err != nil {
		c.log.Warn("resync seek failed", slog.String("error", err.Error()))
		return false
	}
	c.log.Info("resynced tracks",
		slog.Duration("position", pos),
		slog.Duration("average_drift", avg))
	c.sync.Reset()
	return true
}

// Dispose stops the monitors, aborts any in-flight initialization or swap,
// and releases the engine. It is idempotent.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		c.mu.Lock()
		c.disposed = true
		c.sess = nil
		c.endSwap()
		if c.adaptiveTimer != nil {
			c.adaptiveTimer.Stop()
			c.adaptiveTimer = nil
		}
		c.mu.Unlock()

		c.cancel()
		c.stopMonitors(true)

		c.opMu.Lock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.player.Stop(ctx); err != nil {
			c.log.Debug("engine stop on dispose", slog.String("error", err.Error()))
		}
		cancel()
		if err := c.player.Close(); err != nil {
			c.log.Warn("engine close failed", slog.String("error", err.Error()))
		}
		c.opMu.Unlock()

		c.wg.Wait()
		c.metrics.AddActiveSessions(-1)
		c.setStatus(StatusDisposed)
	})
}

// Diagnostics is a point-in-time view of the controller and its monitors.
type Diagnostics struct {
	SessionID    string          `json:"session_id"`
	Status       string          `json:"status"`
	Source       media.SourceID  `json:"source,omitempty"`
	ActiveHeight int             `json:"active_height"`
	Variant      string          `json:"variant,omitempty"`
	Locator      string          `json:"locator,omitempty"`
	AudioTrack   string          `json:"audio_track,omitempty"`
	Position     time.Duration   `json:"position"`
	Duration     time.Duration   `json:"duration"`
	Rate         float64         `json:"rate"`
	LastError    string          `json:"last_error,omitempty"`
	Network      netmon.Snapshot `json:"network"`
	Buffer       buffer.Snapshot `json:"buffer"`
	Sync         avsync.Snapshot `json:"sync"`
}

// Diagnostics gathers the current state.
func (c *Controller) Diagnostics() Diagnostics {
	d := Diagnostics{
		SessionID: c.id,
		Status:    c.Status().String(),
		Network:   c.network.Snapshot(),
		Buffer:    c.buffer.Snapshot(),
		Sync:      c.sync.Snapshot(),
	}
	if err := c.Err(); err != nil {
		d.LastError = err.Error()
	}

	c.mu.Lock()
	d.Rate = c.rate
	if s := c.sess; s != nil {
		d.Source = s.source
		d.ActiveHeight = s.height
		d.Variant = s.video.Label()
		d.Locator = s.video.Locator
		if s.audioAttached {
			d.AudioTrack = s.audio.Locator
		}
	}
	open := c.sess != nil
	c.mu.Unlock()

	if open {
		d.Position = c.player.Position()
		d.Duration = c.player.Duration()
	}
	return d
}
