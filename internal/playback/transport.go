package playback

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Play starts or resumes playback. After Stop it reopens the current
// variant from the start. During a quality switch it only records that
// playback should resume afterwards.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	if c.sess == nil || c.initializing {
		c.mu.Unlock()
		return nil
	}
	if c.swapping {
		c.resumePlay = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	sess, ok := c.current()
	if !ok {
		return nil
	}
	if sess.stopped {
		if err := c.reopen(ctx, sess); err != nil {
			return err
		}
	}
	if err := c.player.Play(ctx); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	c.setStatus(StatusPlaying)
	return nil
}

// reopen opens the session's variant at zero after a Stop. Caller must
// hold c.opMu.
func (c *Controller) reopen(ctx context.Context, sess session) error {
	if err := c.player.Open(ctx, sess.video.Locator, 0, false); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSessionOpen, sess.video.Locator, err)
	}
	attached := sess.audio.Locator != "" && c.attachAudio(ctx, sess.audio)

	c.mu.Lock()
	rate := c.rate
	if c.sess != nil {
		c.sess.stopped = false
		c.sess.audioAttached = attached
	}
	c.mu.Unlock()

	if rate != 1 {
		if err := c.player.SetRate(ctx, rate); err != nil {
			c.log.Warn("restoring rate failed", slog.String("error", err.Error()))
		}
	}
	c.sync.Reset()
	return nil
}

// Pause pauses playback. During a quality switch it only records that
// playback should stay paused afterwards.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	if c.sess == nil || c.initializing {
		c.mu.Unlock()
		return nil
	}
	if c.swapping {
		c.resumePlay = false
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	sess, ok := c.current()
	if !ok || sess.stopped {
		return nil
	}
	if err := c.player.Pause(ctx); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	c.setStatus(StatusPaused)
	return nil
}

// Stop stops playback and unloads the variant; the session stays open so
// Play can restart it.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	sess, ok := c.current()
	if !ok || sess.stopped {
		return nil
	}
	if err := c.player.Stop(ctx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	c.mu.Lock()
	if c.sess != nil {
		c.sess.stopped = true
	}
	c.mu.Unlock()
	c.sync.Reset()
	c.setStatus(StatusStopped)
	return nil
}

// Seek moves to position, clamped to [0, duration].
func (c *Controller) Seek(ctx context.Context, position time.Duration) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	sess, ok := c.current()
	if !ok || sess.stopped {
		return nil
	}
	dur := c.player.Duration()
	position = max(position, 0)
	if dur > 0 {
		position = min(position, dur)
	}
	if err := c.player.Seek(ctx, position); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	c.sync.Reset()
	c.publishProgress(position, dur)
	return nil
}

// Speed sets the playback rate, clamped to [MinRate, MaxRate]. It is a
// no-op when the clamped rate is already active.
func (c *Controller) Speed(ctx context.Context, rate float64) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	sess, ok := c.current()
	if !ok {
		return nil
	}
	rate = min(max(rate, c.cfg.MinRate), c.cfg.MaxRate)

	c.mu.Lock()
	unchanged := rate == c.rate
	c.mu.Unlock()
	if unchanged {
		return nil
	}
	if !sess.stopped {
		if err := c.player.SetRate(ctx, rate); err != nil {
			return fmt.Errorf("set rate: %w", err)
		}
	}
	c.mu.Lock()
	c.rate = rate
	c.mu.Unlock()
	c.log.Debug("rate changed", slog.Float64("rate", rate))
	return nil
}

// Rate returns the active playback rate.
func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}
