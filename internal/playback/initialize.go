package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hls-player/internal/media"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits n*unit before the n-th retry.
type linearBackOff struct {
	unit    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.unit
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// Initialize opens source and brings the session to Playing or Paused.
//
// It returns immediately when the session is already open for source.
// Concurrent calls for the same source join the attempt in flight; a call
// for another source runs after it and replaces the session. A quality
// switch in flight is allowed to finish first.
// The whole sequence is retried InitRetries times with linear backoff and
// bounded by InitTimeout; on failure the status moves to Error and the
// error wraps one of ErrCatalogueResolution, ErrNoCompatibleVariant,
// ErrSessionOpen or ErrTimeout. ctx only bounds how long this caller waits.
func (c *Controller) Initialize(ctx context.Context, source media.SourceID, opts InitOptions) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.openFor(source) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ch := c.initGroup.DoChan(string(source), func() (any, error) {
		return nil, c.initialize(source, opts)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openFor reports whether a healthy session for source is open. Caller
// must hold c.mu.
func (c *Controller) openFor(source media.SourceID) bool {
	return c.sess != nil && c.sess.source == source && c.Status() != StatusError
}

func (c *Controller) initialize(source media.SourceID, opts InitOptions) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if err := c.awaitSwap(); err != nil {
		return err
	}
	// awaitSwap returns holding c.mu.
	if c.openFor(source) {
		c.mu.Unlock()
		return nil
	}
	replacing := c.sess != nil
	c.sess = nil
	c.initializing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.initializing = false
		c.mu.Unlock()
	}()

	if replacing {
		c.stopMonitors(false)
	}
	c.setStatus(StatusInitializing)
	c.log.Info("initializing",
		slog.String("source", string(source)),
		slog.Bool("auto_play", opts.AutoPlay),
		slog.Int("desired_height", opts.DesiredHeight))

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.InitTimeout)
	defer cancel()

	attempt := 0
	op := func() error {
		attempt++
		err := c.initAttempt(ctx, source, opts)
		switch {
		case err == nil:
			c.metrics.ObserveInitAttempt("success")
		case errors.Is(err, ErrNoCompatibleVariant), errors.Is(err, ErrDisposed):
			c.metrics.ObserveInitAttempt("fatal")
			return backoff.Permanent(err)
		default:
			c.metrics.ObserveInitAttempt("failure")
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("initialization attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{unit: c.cfg.RetryUnit}, uint64(c.cfg.InitRetries)),
		ctx)
	err := backoff.RetryNotify(op, b, notify)
	if err == nil {
		return nil
	}

	if c.ctx.Err() != nil {
		return ErrDisposed
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrTimeout, c.cfg.InitTimeout, err)
	}
	c.log.Error("initialization failed",
		slog.String("source", string(source)),
		slog.Int("attempts", attempt))
	c.fail(err)
	return err
}

// awaitSwap waits until no quality switch is in flight and returns with
// c.mu held, or with ErrDisposed and c.mu released.
func (c *Controller) awaitSwap() error {
	for {
		c.mu.Lock()
		if c.disposed {
			c.mu.Unlock()
			return ErrDisposed
		}
		if !c.swapping {
			return nil
		}
		done := c.swapDone
		c.mu.Unlock()

		select {
		case <-done:
		case <-c.ctx.Done():
		}
		// The switch holds opMu until it has resumed playback and
		// restarted the monitors.
		c.opMu.Lock()
		c.opMu.Unlock()
	}
}

// initAttempt runs one full initialization sequence. Nothing is committed
// to the controller unless every fatal step succeeds.
func (c *Controller) initAttempt(ctx context.Context, source media.SourceID, opts InitOptions) error {
	cat, err := c.resolveCatalogue(ctx, source)
	if err != nil {
		return err
	}

	sel, err := c.selector.Select(cat, c.initialHeight(opts))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoCompatibleVariant, source, err)
	}
	audio, hasAudio := c.selector.SelectAudio(cat)

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.player.Open(ctx, sel.Variant.Locator, 0, false); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSessionOpen, sel.Variant.Locator, err)
	}
	attached := hasAudio && c.attachAudio(ctx, audio)

	if opts.AutoPlay {
		if err := c.player.Play(ctx); err != nil {
			c.release()
			return fmt.Errorf("%w: play: %w", ErrSessionOpen, err)
		}
	}

	height := opts.DesiredHeight
	if opts.ChooseBestQuality {
		height = media.AutoHeight
	}
	sess := &session{
		source:        source,
		catalogue:     cat,
		video:         sel.Variant,
		audio:         audio,
		audioAttached: attached,
		height:        height,
		best:          opts.ChooseBestQuality,
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		c.release()
		return err
	}
	c.sess = sess
	c.rate = 1
	c.resumePlay = opts.AutoPlay
	c.mu.Unlock()
	c.startMonitors(sel.Variant.Locator)

	c.log.Info("session opened",
		slog.String("source", string(source)),
		slog.String("variant", sel.Variant.Label()),
		slog.String("tier", sel.Tier.String()),
		slog.Bool("audio_attached", attached))
	c.publishQualities(c.selector.Qualities(cat))
	if opts.AutoPlay {
		c.setStatus(StatusPlaying)
	} else {
		c.setStatus(StatusPaused)
	}
	return nil
}

// resolveCatalogue serves from the shared cache, fetching and caching on
// a miss.
func (c *Controller) resolveCatalogue(ctx context.Context, source media.SourceID) (*media.Catalogue, error) {
	if cat, ok := c.cache.Get(source); ok {
		return cat, nil
	}
	cat, err := c.resolver.Resolve(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogueResolution, source, err)
	}
	if err := c.cache.Put(source, cat); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCatalogueResolution, source, err)
	}
	return cat, nil
}

// initialHeight picks the height to select at startup: the top variant for
// ChooseBestQuality, the requested height, or what the network supports.
func (c *Controller) initialHeight(opts InitOptions) int {
	switch {
	case opts.ChooseBestQuality:
		return media.AutoHeight
	case opts.DesiredHeight > 0:
		return opts.DesiredHeight
	default:
		return c.network.RecommendedHeight()
	}
}

// attachAudio reports whether the audio track was attached. A failure is
// logged and playback continues with video only.
func (c *Controller) attachAudio(ctx context.Context, audio media.Variant) bool {
	if err := c.player.SetAudioTrack(ctx, audio.Locator); err != nil {
		c.log.Warn("continuing without separate audio",
			slog.String("audio", audio.Locator),
			slog.String("error", fmt.Errorf("%w: %w", ErrAudioAttach, err).Error()))
		return false
	}
	return true
}

// release stops the engine after a partially completed sequence.
func (c *Controller) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.player.Stop(ctx); err != nil {
		c.log.Debug("engine stop failed", slog.String("error", err.Error()))
	}
}
