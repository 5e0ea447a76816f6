// Package sim is an in-memory engine.Player whose clock advances with wall
// time. It reports a configurable audio lag, honours prefetch hints and
// supports failure injection for Open and SetAudioTrack.
package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"hls-player/internal/engine"
)

var (
	ErrClosed   = errors.New("sim: player closed")
	ErrNotOpen  = errors.New("sim: nothing open")
	ErrInjected = errors.New("sim: injected failure")
)

// Options configure a Player.
type Options struct {
	Duration time.Duration // media length
	Tick     time.Duration // event period; zero disables position events
	AudioLag time.Duration // how far the audio clock trails the video clock
	Prefill  time.Duration // buffered after Open or Seek
	Now      func() time.Time
}

const eventBuffer = 64

// Player implements engine.Player, engine.Prefetcher and
// engine.SyncAdjuster.
type Player struct {
	opts Options

	mu            sync.Mutex
	locator       string
	audioLocator  string
	opened        bool
	playing       bool
	base          time.Duration
	anchor        time.Time
	rate          float64
	volume        float64
	audioAdjust   time.Duration
	bufferedUntil time.Duration
	failOpen      int
	openErr       error
	openDelay     time.Duration
	audioErr      error
	calls         map[string]int
	closed        bool

	events chan engine.Event
	stop   chan struct{}
	done   chan struct{}
}

var (
	_ engine.Player       = (*Player)(nil)
	_ engine.Prefetcher   = (*Player)(nil)
	_ engine.SyncAdjuster = (*Player)(nil)
)

// New returns an idle player and starts its event loop when Tick is set.
func New(opts Options) *Player {
	if opts.Duration <= 0 {
		opts.Duration = 10 * time.Minute
	}
	if opts.Prefill <= 0 {
		opts.Prefill = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p := &Player{
		opts:   opts,
		rate:   1,
		volume: 1,
		calls:  make(map[string]int),
		events: make(chan engine.Event, eventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if opts.Tick > 0 {
		go p.run()
	} else {
		close(p.done)
	}
	return p
}

// FailOpen makes the next n Open calls fail with err (ErrInjected if nil).
func (p *Player) FailOpen(n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOpen, p.openErr = n, err
}

// FailAudioTrack makes SetAudioTrack fail with err until cleared with nil.
func (p *Player) FailAudioTrack(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audioErr = err
}

// SetOpenDelay makes Open block for d or until its context ends.
func (p *Player) SetOpenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openDelay = d
}

// Calls returns how many times the named method was invoked.
func (p *Player) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// Locator returns the open video locator.
func (p *Player) Locator() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locator
}

// AudioTrack returns the attached audio locator.
func (p *Player) AudioTrack() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audioLocator
}

// Rate returns the playback rate.
func (p *Player) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *Player) Open(ctx context.Context, locator string, startAt time.Duration, autoPlay bool) error {
	p.mu.Lock()
	p.calls["Open"]++
	delay := p.openDelay
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.failOpen > 0 {
		p.failOpen--
		return p.openErr
	}
	p.locator = locator
	p.audioLocator = ""
	p.audioAdjust = 0
	p.opened = true
	p.base = p.clamp(startAt)
	p.anchor = p.opts.Now()
	p.playing = autoPlay
	p.bufferedUntil = p.clamp(p.base + p.opts.Prefill)
	p.emitLocked(engine.Event{Kind: engine.EventDuration, Duration: p.opts.Duration})
	p.emitLocked(engine.Event{Kind: engine.EventPlaying, Playing: autoPlay})
	return nil
}

func (p *Player) Play(ctx context.Context) error {
	return p.setPlaying("Play", true)
}

func (p *Player) Pause(ctx context.Context) error {
	return p.setPlaying("Pause", false)
}

func (p *Player) setPlaying(method string, playing bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[method]++
	if err := p.usableLocked(); err != nil {
		return err
	}
	if p.playing == playing {
		return nil
	}
	p.base = p.positionLocked()
	p.anchor = p.opts.Now()
	p.playing = playing
	p.emitLocked(engine.Event{Kind: engine.EventPlaying, Playing: playing})
	return nil
}

func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["Stop"]++
	if p.closed {
		return ErrClosed
	}
	wasPlaying := p.playing
	p.opened, p.playing = false, false
	p.base, p.bufferedUntil = 0, 0
	if wasPlaying {
		p.emitLocked(engine.Event{Kind: engine.EventPlaying, Playing: false})
	}
	return nil
}

func (p *Player) Seek(ctx context.Context, position time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["Seek"]++
	if err := p.usableLocked(); err != nil {
		return err
	}
	p.base = p.clamp(position)
	p.anchor = p.opts.Now()
	p.audioAdjust = 0
	if p.bufferedUntil < p.base {
		p.bufferedUntil = p.clamp(p.base + p.opts.Prefill)
	}
	return nil
}

func (p *Player) SetRate(ctx context.Context, rate float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["SetRate"]++
	if err := p.usableLocked(); err != nil {
		return err
	}
	p.base = p.positionLocked()
	p.anchor = p.opts.Now()
	p.rate = rate
	return nil
}

func (p *Player) SetVolume(ctx context.Context, volume float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["SetVolume"]++
	if p.closed {
		return ErrClosed
	}
	p.volume = min(max(volume, 0), 1)
	return nil
}

func (p *Player) SetAudioTrack(ctx context.Context, locator string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["SetAudioTrack"]++
	if err := p.usableLocked(); err != nil {
		return err
	}
	if p.audioErr != nil {
		return p.audioErr
	}
	p.audioLocator = locator
	p.audioAdjust = 0
	return nil
}

func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return 0
	}
	return p.opts.Duration
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Events() <-chan engine.Event {
	return p.events
}

// Prefetch extends the buffered range to ahead past the current position.
func (p *Player) Prefetch(ahead time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["Prefetch"]++
	if !p.opened {
		return
	}
	p.bufferedUntil = max(p.bufferedUntil, p.clamp(p.positionLocked()+ahead))
}

// AdjustAudio shifts the audio clock by offset.
func (p *Player) AdjustAudio(offset time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["AdjustAudio"]++
	p.audioAdjust += offset
}

// AdjustVideo shifts the video clock by offset.
func (p *Player) AdjustVideo(offset time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["AdjustVideo"]++
	p.base = p.clamp(p.base + offset)
}

// Close stops the event loop and closes the event channel.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.opened, p.playing = false, false
	close(p.stop)
	p.mu.Unlock()

	<-p.done

	p.mu.Lock()
	close(p.events)
	p.mu.Unlock()
	return nil
}

func (p *Player) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Player) tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened || p.closed {
		return
	}
	pos := p.positionLocked()
	p.emitLocked(engine.Event{
		Kind:          engine.EventPosition,
		Position:      pos,
		AudioPosition: max(pos-p.opts.AudioLag+p.audioAdjust, 0),
		Duration:      p.opts.Duration,
		BufferedAhead: max(p.bufferedUntil-pos, 0),
		Playing:       p.playing,
	})
	if p.playing && pos >= p.opts.Duration {
		p.base, p.playing = p.opts.Duration, false
		p.emitLocked(engine.Event{Kind: engine.EventCompleted, Position: pos})
	}
}

func (p *Player) usableLocked() error {
	if p.closed {
		return ErrClosed
	}
	if !p.opened {
		return ErrNotOpen
	}
	return nil
}

func (p *Player) positionLocked() time.Duration {
	if !p.opened {
		return 0
	}
	if !p.playing {
		return p.base
	}
	elapsed := p.opts.Now().Sub(p.anchor)
	return p.clamp(p.base + time.Duration(float64(elapsed)*p.rate))
}

func (p *Player) clamp(d time.Duration) time.Duration {
	return min(max(d, 0), p.opts.Duration)
}

// emitLocked drops the event when nobody is draining the channel.
func (p *Player) emitLocked(ev engine.Event) {
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}
