package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override the configuration.
// Nested keys are separated by a double underscore, e.g.
// PLAYER_NETWORK__PROBE_INTERVAL=10s sets network.probe_interval.
const EnvPrefix = "PLAYER_"

// PathEnvVar names a YAML configuration file.
const PathEnvVar = "PLAYER_CONFIG"

// Config is the complete daemon configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Cache    CacheConfig    `koanf:"cache"`
	Resolver ResolverConfig `koanf:"resolver"`
	Network  NetworkConfig  `koanf:"network"`
	Buffer   BufferConfig   `koanf:"buffer"`
	Sync     SyncConfig     `koanf:"sync"`
	Playback PlaybackConfig `koanf:"playback"`
	Engine   EngineConfig   `koanf:"engine"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// CORSOrigins is a comma separated list when set from the environment.
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimit       int           `koanf:"rate_limit"` // control requests per window and client; 0 disables
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type CacheConfig struct {
	Capacity int `koanf:"capacity"`
}

// ResolverConfig covers catalogue fetching and its circuit breaker.
type ResolverConfig struct {
	Timeout             time.Duration `koanf:"timeout"`
	BreakerFailures     uint32        `koanf:"breaker_failures"`
	BreakerOpenTimeout  time.Duration `koanf:"breaker_open_timeout"`
	BreakerHalfOpenReqs uint32        `koanf:"breaker_half_open_requests"`
}

type NetworkConfig struct {
	ProbeInterval time.Duration `koanf:"probe_interval"`
	ProbeBytes    int64         `koanf:"probe_bytes"`
	ProbeTimeout  time.Duration `koanf:"probe_timeout"`
	WindowSize    int           `koanf:"window_size"`
	StableCV      float64       `koanf:"stable_cv"`
	ExcellentMbps float64       `koanf:"excellent_mbps"`
	GoodMbps      float64       `koanf:"good_mbps"`
	FairMbps      float64       `koanf:"fair_mbps"`
	PoorMbps      float64       `koanf:"poor_mbps"`
}

type BufferConfig struct {
	Interval      time.Duration `koanf:"interval"`
	FullTarget    time.Duration `koanf:"full_target"`
	ReducedTarget time.Duration `koanf:"reduced_target"`
	MinTarget     time.Duration `koanf:"min_target"`
	MaxBuffer     time.Duration `koanf:"max_buffer"`
	FullSpeed     float64       `koanf:"full_speed"`
	ReducedSpeed  float64       `koanf:"reduced_speed"`
	WindowSize    int           `koanf:"window_size"`
}

type SyncConfig struct {
	Interval      time.Duration `koanf:"interval"`
	WindowSize    int           `koanf:"window_size"`
	Threshold     time.Duration `koanf:"threshold"`
	HardThreshold time.Duration `koanf:"hard_threshold"`
}

type PlaybackConfig struct {
	InitRetries      int           `koanf:"init_retries"`
	RetryUnit        time.Duration `koanf:"retry_unit"`
	InitTimeout      time.Duration `koanf:"init_timeout"`
	SettleDelay      time.Duration `koanf:"settle_delay"`
	FadeSteps        int           `koanf:"fade_steps"`
	FadeStepDelay    time.Duration `koanf:"fade_step_delay"`
	MinRate          float64       `koanf:"min_rate"`
	MaxRate          float64       `koanf:"max_rate"`
	AdaptiveAuto     bool          `koanf:"adaptive_auto"`
	AdaptiveInterval time.Duration `koanf:"adaptive_interval"`
	Ceiling          int           `koanf:"ceiling"`
	EmergencyCeiling int           `koanf:"emergency_ceiling"`
}

// EngineConfig parameterises the simulated engine the daemon drives.
type EngineConfig struct {
	Duration time.Duration `koanf:"duration"`
	Tick     time.Duration `koanf:"tick"`
	Prefill  time.Duration `koanf:"prefill"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       120,
			RateLimitWindow: time.Minute,
		},
		Log:    LogConfig{Level: "info", Format: "json"},
		Cache:  CacheConfig{Capacity: 10},
		Resolver: ResolverConfig{
			Timeout:             10 * time.Second,
			BreakerFailures:     5,
			BreakerOpenTimeout:  30 * time.Second,
			BreakerHalfOpenReqs: 1,
		},
		Network: NetworkConfig{
			ProbeInterval: 30 * time.Second,
			ProbeBytes:    1 << 20,
			ProbeTimeout:  10 * time.Second,
			WindowSize:    10,
			StableCV:      0.3,
			ExcellentMbps: 25,
			GoodMbps:      10,
			FairMbps:      5,
			PoorMbps:      1,
		},
		Buffer: BufferConfig{
			Interval:      500 * time.Millisecond,
			FullTarget:    30 * time.Second,
			ReducedTarget: 20 * time.Second,
			MinTarget:     5 * time.Second,
			MaxBuffer:     60 * time.Second,
			FullSpeed:     1_000_000,
			ReducedSpeed:  500_000,
			WindowSize:    10,
		},
		Sync: SyncConfig{
			Interval:      100 * time.Millisecond,
			WindowSize:    50,
			Threshold:     40 * time.Millisecond,
			HardThreshold: 200 * time.Millisecond,
		},
		Playback: PlaybackConfig{
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
			Ceiling:          1080,
			EmergencyCeiling: 1080,
		},
		Engine: EngineConfig{
			Duration: 10 * time.Minute,
			Tick:     250 * time.Millisecond,
			Prefill:  2 * time.Second,
		},
	}
}

// New builds the configuration from the defaults, then the YAML file at
// path (or $PLAYER_CONFIG when path is empty; a missing file is skipped),
// then PLAYER_ environment variables.
func New(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := Defaults()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Slices arrive from the environment as one string.
	if v, ok := k.Get("server.cors_origins").(string); ok {
		if err := k.Set("server.cors_origins", splitList(v)); err != nil {
			return nil, fmt.Errorf("server.cors_origins: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envKey maps PLAYER_BUFFER__FULL_TARGET to buffer.full_target.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == strings.TrimPrefix(PathEnvVar, EnvPrefix) {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks values no component can repair with its own defaults.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateLimitWindow <= 0) {
		errs = append(errs, errors.New("server.rate_limit needs a positive rate_limit_window"))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity))
	}
	if c.Playback.InitRetries < 0 {
		errs = append(errs, fmt.Errorf("playback.init_retries must not be negative, got %d", c.Playback.InitRetries))
	}
	if c.Playback.MinRate <= 0 || c.Playback.MaxRate < c.Playback.MinRate {
		errs = append(errs, fmt.Errorf("playback rate range [%v, %v] is invalid", c.Playback.MinRate, c.Playback.MaxRate))
	}
	n := c.Network
	if !(n.ExcellentMbps > n.GoodMbps && n.GoodMbps > n.FairMbps && n.FairMbps > n.PoorMbps && n.PoorMbps > 0) {
		errs = append(errs, errors.New("network tier thresholds must be positive and strictly decreasing"))
	}
	b := c.Buffer
	if !(b.MinTarget <= b.ReducedTarget && b.ReducedTarget <= b.FullTarget && b.FullTarget <= b.MaxBuffer) {
		errs = append(errs, errors.New("buffer targets must satisfy min <= reduced <= full <= max"))
	}
	if c.Sync.Threshold > c.Sync.HardThreshold {
		errs = append(errs, errors.New("sync.threshold must not exceed sync.hard_threshold"))
	}
	return errors.Join(errs...)
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}
