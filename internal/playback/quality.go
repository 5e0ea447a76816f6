package playback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hls-player/internal/media"
	"hls-player/internal/selector"
)

// SetQuality switches to the variant for height (0 for auto). It is a
// no-op before initialization completes, while another switch is running,
// or when height is already the active height. Switching to a variant with
// the same locator only records the new height.
func (c *Controller) SetQuality(ctx context.Context, height int) error {
	if height < 0 {
		return nil
	}
	c.mu.Lock()
	if c.sess == nil || c.initializing || c.swapping || height == c.sess.height {
		c.mu.Unlock()
		return nil
	}
	c.beginSwap()
	c.resumePlay = c.Status() == StatusPlaying
	sess := *c.sess
	c.mu.Unlock()

	target := height
	if height == media.AutoHeight {
		target = c.network.RecommendedHeight()
	}
	return c.switchTo(sess, height, target)
}

// onTierChange follows the network while the session is in auto mode.
// Switches are at least AdaptiveInterval apart: a change arriving sooner
// is deferred, and the tier current when the interval has passed is
// applied then.
func (c *Controller) onTierChange(tier media.QualityTier) {
	if !c.cfg.AdaptiveAuto {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.adaptiveEligible() || c.adaptiveTimer != nil {
		return
	}
	if d := c.adaptive.Reserve().Delay(); d > 0 {
		c.adaptiveTimer = time.AfterFunc(d, c.adaptiveDue)
		c.log.Debug("adaptive switch deferred",
			slog.String("tier", tier.String()),
			slog.Duration("delay", d))
		return
	}
	c.beginAdaptiveSwitch(tier.RecommendedHeight())
}

// adaptiveDue runs a deferred adaptive switch.
func (c *Controller) adaptiveDue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adaptiveTimer = nil
	if !c.adaptiveEligible() {
		return
	}
	c.beginAdaptiveSwitch(c.network.RecommendedHeight())
}

// adaptiveEligible reports whether the session follows the network. Caller
// must hold c.mu.
func (c *Controller) adaptiveEligible() bool {
	return !c.disposed && c.sess != nil && !c.initializing && !c.swapping &&
		c.sess.height == media.AutoHeight && !c.sess.best
}

// beginAdaptiveSwitch starts a switch to target in the background. Caller
// must hold c.mu.
func (c *Controller) beginAdaptiveSwitch(target int) {
	c.beginSwap()
	c.resumePlay = c.Status() == StatusPlaying
	sess := *c.sess
	c.wg.Add(1)

	// The probe loop delivers tier changes and switchTo restarts that loop.
	go func() {
		defer c.wg.Done()
		if err := c.switchTo(sess, media.AutoHeight, target); err != nil {
			c.log.Warn("adaptive switch failed", slog.String("error", err.Error()))
		}
	}()
}

// beginSwap marks a switch in flight. Caller must hold c.mu.
func (c *Controller) beginSwap() {
	c.swapping = true
	c.swapDone = make(chan struct{})
}

// endSwap clears the switch in flight, if any, and wakes initializations
// waiting for it. Caller must hold c.mu.
func (c *Controller) endSwap() {
	if !c.swapping {
		return
	}
	c.swapping = false
	close(c.swapDone)
}

// switchTo runs one quality change. The caller has called beginSwap; every
// path ends the swap.
func (c *Controller) switchTo(sess session, requested, target int) error {
	sel, err := c.selector.Select(sess.catalogue, target)
	if err != nil {
		c.log.Warn("no variant for requested quality, keeping current",
			slog.Int("height", target),
			slog.String("error", err.Error()))
		sel = selector.Selection{Variant: sess.video}
	}

	if sel.Variant.Locator == sess.video.Locator || sess.stopped {
		c.mu.Lock()
		if c.sess != nil {
			c.sess.height = requested
			c.sess.video = sel.Variant
		}
		c.endSwap()
		c.mu.Unlock()
		c.metrics.ObserveQualitySwitch("unchanged")
		c.log.Info("quality recorded without reopening",
			slog.Int("height", requested),
			slog.String("variant", sel.Variant.Label()))
		return nil
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	pos := c.player.Position()
	vol := c.player.Volume()
	c.setStatus(StatusQualityChanging)
	c.sync.Stop()
	c.log.Info("switching quality",
		slog.String("from", sess.video.Label()),
		slog.String("to", sel.Variant.Label()),
		slog.Duration("position", pos))

	attached, err := c.swap(sess, sel.Variant, pos, vol)
	result := "switched"
	if err != nil {
		if c.ctx.Err() != nil {
			return c.abandonSwap()
		}
		c.log.Warn("quality switch failed, retrying on a safe variant",
			slog.String("variant", sel.Variant.Label()),
			slog.String("error", err.Error()))
		safe, serr := c.selector.SelectSafe(sess.catalogue, target)
		if serr != nil {
			err = fmt.Errorf("%w (no safe variant: %w)", err, serr)
		} else {
			attached, err = c.swap(sess, safe.Variant, pos, vol)
			sel = safe
		}
		if err != nil {
			if c.ctx.Err() != nil {
				return c.abandonSwap()
			}
			c.metrics.ObserveQualitySwitch("failed")
			_ = c.player.SetVolume(c.ctx, vol)
			c.fail(err)
			return err
		}
		result = "recovered"
	}

	c.mu.Lock()
	if c.disposed || c.sess == nil {
		c.mu.Unlock()
		return c.abandonSwap()
	}
	c.sess.video = sel.Variant
	c.sess.height = requested
	c.sess.audioAttached = attached
	resume := c.resumePlay
	c.endSwap()
	c.mu.Unlock()

	next := StatusPaused
	if resume {
		if err := c.player.Play(c.ctx); err != nil {
			c.log.Warn("resume after switch failed", slog.String("error", err.Error()))
		} else {
			next = StatusPlaying
		}
	}
	c.startMonitors(sel.Variant.Locator)
	c.metrics.ObserveQualitySwitch(result)
	c.setStatus(next)
	return nil
}

// abandonSwap ends a switch whose session went away underneath it.
func (c *Controller) abandonSwap() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endSwap()
	if c.disposed {
		return ErrDisposed
	}
	return ErrSessionClosed
}

// swap replaces the open variant at pos with the volume faded out and back
// in. It reports whether the audio track was attached.
func (c *Controller) swap(sess session, v media.Variant, pos time.Duration, vol float64) (bool, error) {
	ctx := c.ctx
	c.fade(ctx, vol, 0)
	if err := c.player.Stop(ctx); err != nil {
		return false, fmt.Errorf("%w: stop: %w", ErrSessionOpen, err)
	}
	if err := sleepCtx(ctx, c.cfg.SettleDelay); err != nil {
		return false, err
	}
	if err := c.player.Open(ctx, v.Locator, pos, false); err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrSessionOpen, v.Locator, err)
	}
	attached := sess.audio.Locator != "" && c.attachAudio(ctx, sess.audio)

	c.mu.Lock()
	rate := c.rate
	c.mu.Unlock()
	if rate != 1 {
		if err := c.player.SetRate(ctx, rate); err != nil {
			c.log.Warn("restoring rate failed", slog.String("error", err.Error()))
		}
	}
	c.fade(ctx, 0, vol)
	return attached, nil
}

// fade ramps the volume from -> to in FadeSteps steps.
func (c *Controller) fade(ctx context.Context, from, to float64) {
	steps := c.cfg.FadeSteps
	for i := 1; i <= steps; i++ {
		v := from + (to-from)*float64(i)/float64(steps)
		if err := c.player.SetVolume(ctx, v); err != nil {
			c.log.Debug("fade step failed", slog.String("error", err.Error()))
		}
		if i < steps && sleepCtx(ctx, c.cfg.FadeStepDelay) != nil {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
