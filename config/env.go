package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/orbiterhq/orbiter/engine/breaker"
	"github.com/orbiterhq/orbiter/engine/ratelimit"
)

// Config holds engine-wide defaults. Per-config strategy parameters come
// from the external store; these are the ambient knobs.
type Config struct {
	Breaker BreakerConfig
	Limiter LimiterConfig
	Sticky  StickyConfig
	Logging LogConfig
}

// BreakerConfig holds circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	Window           time.Duration `envconfig:"BREAKER_WINDOW" default:"60s"`
	Cooldown         time.Duration `envconfig:"BREAKER_COOLDOWN" default:"30s"`
	SuccessesToClose int           `envconfig:"BREAKER_SUCCESSES_TO_CLOSE" default:"1"`
}

// Settings converts to breaker.Settings.
func (c BreakerConfig) Settings() breaker.Settings {
	return breaker.Settings{
		FailureThreshold: c.FailureThreshold,
		Window:           c.Window,
		Cooldown:         c.Cooldown,
		SuccessesToClose: c.SuccessesToClose,
	}
}

// LimiterConfig holds the global budget and the default per-class budget.
type LimiterConfig struct {
	GlobalMaxRequests   int           `envconfig:"LIMIT_GLOBAL_MAX_REQUESTS" default:"120"`
	GlobalWindow        time.Duration `envconfig:"LIMIT_GLOBAL_WINDOW" default:"60s"`
	GlobalMaxConcurrent int           `envconfig:"LIMIT_GLOBAL_MAX_CONCURRENT" default:"8"`

	ClassMaxRequests   int           `envconfig:"LIMIT_CLASS_MAX_REQUESTS" default:"30"`
	ClassWindow        time.Duration `envconfig:"LIMIT_CLASS_WINDOW" default:"60s"`
	ClassMinDelay      time.Duration `envconfig:"LIMIT_CLASS_MIN_DELAY" default:"2s"`
	ClassMaxConcurrent int           `envconfig:"LIMIT_CLASS_MAX_CONCURRENT" default:"3"`
}

// Global converts to ratelimit.GlobalConfig.
func (c LimiterConfig) Global() ratelimit.GlobalConfig {
	return ratelimit.GlobalConfig{
		MaxRequests:   c.GlobalMaxRequests,
		Window:        c.GlobalWindow,
		MaxConcurrent: c.GlobalMaxConcurrent,
	}
}

// ClassDefaults converts to the default ratelimit.ClassConfig.
func (c LimiterConfig) ClassDefaults() ratelimit.ClassConfig {
	return ratelimit.ClassConfig{
		MaxRequests:   c.ClassMaxRequests,
		Window:        c.ClassWindow,
		MinDelay:      c.ClassMinDelay,
		MaxConcurrent: c.ClassMaxConcurrent,
	}
}

// StickyConfig holds sticky session defaults applied when a sticky config
// omits its TTL.
type StickyConfig struct {
	DefaultTTL time.Duration `envconfig:"STICKY_DEFAULT_TTL" default:"10m"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from ORBITER_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("orbiter", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           60 * time.Second,
			Cooldown:         30 * time.Second,
			SuccessesToClose: 1,
		},
		Limiter: LimiterConfig{
			GlobalMaxRequests:   120,
			GlobalWindow:        60 * time.Second,
			GlobalMaxConcurrent: 8,
			ClassMaxRequests:    30,
			ClassWindow:         60 * time.Second,
			ClassMinDelay:       2 * time.Second,
			ClassMaxConcurrent:  3,
		},
		Sticky: StickyConfig{
			DefaultTTL: 10 * time.Minute,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
