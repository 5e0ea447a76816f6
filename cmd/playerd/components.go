package main

import (
	"hls-player/internal/avsync"
	"hls-player/internal/buffer"
	"hls-player/internal/catalogue"
	"hls-player/internal/engine/sim"
	"hls-player/internal/netmon"
	"hls-player/internal/platform/config"
	"hls-player/internal/playback"
	"hls-player/internal/selector"
)

func playbackConfig(cfg *config.Config) playback.Config {
	p := cfg.Playback
	return playback.Config{
		InitRetries:      p.InitRetries,
		RetryUnit:        p.RetryUnit,
		InitTimeout:      p.InitTimeout,
		SettleDelay:      p.SettleDelay,
		FadeSteps:        p.FadeSteps,
		FadeStepDelay:    p.FadeStepDelay,
		MinRate:          p.MinRate,
		MaxRate:          p.MaxRate,
		AdaptiveAuto:     p.AdaptiveAuto,
		AdaptiveInterval: p.AdaptiveInterval,
		Policy:           selector.DefaultPolicy().WithCeiling(p.Ceiling, p.EmergencyCeiling),
		Network: netmon.Config{
			Interval:   cfg.Network.ProbeInterval,
			WindowSize: cfg.Network.WindowSize,
			StableCV:   cfg.Network.StableCV,
			Thresholds: netmon.Thresholds{
				Excellent: cfg.Network.ExcellentMbps,
				Good:      cfg.Network.GoodMbps,
				Fair:      cfg.Network.FairMbps,
				Poor:      cfg.Network.PoorMbps,
			},
		},
		Buffer: buffer.Config{
			Interval:      cfg.Buffer.Interval,
			FullTarget:    cfg.Buffer.FullTarget,
			ReducedTarget: cfg.Buffer.ReducedTarget,
			MinTarget:     cfg.Buffer.MinTarget,
			MaxBuffer:     cfg.Buffer.MaxBuffer,
			FullSpeed:     cfg.Buffer.FullSpeed,
			ReducedSpeed:  cfg.Buffer.ReducedSpeed,
			WindowSize:    cfg.Buffer.WindowSize,
		},
		Sync: avsync.Config{
			Interval:      cfg.Sync.Interval,
			WindowSize:    cfg.Sync.WindowSize,
			Threshold:     cfg.Sync.Threshold,
			HardThreshold: cfg.Sync.HardThreshold,
		},
	}
}

func breakerSettings(cfg *config.Config) catalogue.BreakerSettings {
	return catalogue.BreakerSettings{
		ConsecutiveFailures: cfg.Resolver.BreakerFailures,
		OpenTimeout:         cfg.Resolver.BreakerOpenTimeout,
		HalfOpenRequests:    cfg.Resolver.BreakerHalfOpenReqs,
	}
}

func engineOptions(cfg *config.Config) sim.Options {
	return sim.Options{
		Duration: cfg.Engine.Duration,
		Tick:     cfg.Engine.Tick,
		Prefill:  cfg.Engine.Prefill,
	}
}
