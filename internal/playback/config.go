package playback

import (
	"time"

	"hls-player/internal/avsync"
	"hls-player/internal/buffer"
	"hls-player/internal/netmon"
	"hls-player/internal/selector"
)

// Config holds the controller parameters and those of the monitors it owns.
type Config struct {
	InitRetries   int           // retries after the first attempt
	RetryUnit     time.Duration // attempt n waits n*RetryUnit before retrying
	InitTimeout   time.Duration
	SettleDelay   time.Duration // pause between stop and reopen during a swap
	FadeSteps     int
	FadeStepDelay time.Duration
	MinRate       float64
	MaxRate       float64
	// AdaptiveAuto switches variants on network tier changes while the
	// session is in auto mode.
	AdaptiveAuto bool
	// AdaptiveInterval is the minimum spacing of adaptive switches; a tier
	// change arriving sooner is applied once the interval has passed.
	AdaptiveInterval time.Duration

	Policy  selector.Policy
	Network netmon.Config
	Buffer  buffer.Config
	Sync    avsync.Config
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		InitRetries:      3,
		RetryUnit:        time.Second,
		InitTimeout:      30 * time.Second,
		SettleDelay:      150 * time.Millisecond,
		FadeSteps:        5,
		FadeStepDelay:    30 * time.Millisecond,
		MinRate:          0.25,
		MaxRate:          3.0,
		AdaptiveAuto:     true,
		AdaptiveInterval: 10 * time.Second,
		Policy:           selector.DefaultPolicy(),
		Network:          netmon.DefaultConfig(),
		Buffer:           buffer.DefaultConfig(),
		Sync:             avsync.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitRetries < 0 {
		c.InitRetries = 0
	}
	if c.RetryUnit <= 0 {
		c.RetryUnit = def.RetryUnit
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = def.InitTimeout
	}
	if c.AdaptiveInterval <= 0 {
		c.AdaptiveInterval = def.AdaptiveInterval
	}
	if c.FadeSteps <= 0 {
		c.FadeSteps = 1
	}
	if c.MinRate <= 0 {
		c.MinRate = def.MinRate
	}
	if c.MaxRate < c.MinRate {
		c.MaxRate = max(def.MaxRate, c.MinRate)
	}
	if len(c.Policy.SafeHeights) == 0 {
		c.Policy = def.Policy
	}
	return c
}
