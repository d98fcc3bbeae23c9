package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoAvailableProxy means the pool was empty after health and
	// region filtering. Fatal to the current attempt; the caller should
	// retry later or alert.
	ErrNoAvailableProxy = errors.New("no available proxy")

	// ErrRateLimitExceeded means a budget denied admission. Not fatal;
	// the caller should back off for the carried wait hint.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCircuitOpen is surfaced only when a caller explicitly targets a
	// proxy whose circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrInvalidStrategy means an unknown strategy name reached the
	// config-load boundary.
	ErrInvalidStrategy = errors.New("invalid rotation strategy")

	// ErrInvalidConfig means strategy parameters were malformed. Fatal at
	// config load; never silently replaced with a default strategy.
	ErrInvalidConfig = errors.New("invalid rotation config")

	// ErrWaitTimeout means waitForLimit gave up before admission.
	ErrWaitTimeout = errors.New("timed out waiting for rate limit")
)

// NoProxyError wraps ErrNoAvailableProxy with the filtering context.
type NoProxyError struct {
	TargetGroup string
	Region      string
	PoolSize    int
}

func (e *NoProxyError) Error() string {
	if e.Region != "" {
		return fmt.Sprintf("no available proxy in group %q region %q (pool size %d)", e.TargetGroup, e.Region, e.PoolSize)
	}
	return fmt.Sprintf("no available proxy in group %q (pool size %d)", e.TargetGroup, e.PoolSize)
}

func (e *NoProxyError) Unwrap() error { return ErrNoAvailableProxy }

// RateLimitError wraps ErrRateLimitExceeded with the denying bucket and the
// suggested back-off.
type RateLimitError struct {
	Class  string
	Reason string
	Wait   time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %q (%s, retry in %s)", e.Class, e.Reason, e.Wait)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// ConfigError wraps ErrInvalidConfig or ErrInvalidStrategy with the
// offending config and field.
type ConfigError struct {
	ConfigID string
	Field    string
	Detail   string
	kind     error
}

// NewConfigError builds a ConfigError carrying ErrInvalidConfig.
func NewConfigError(configID, field, detail string) *ConfigError {
	return &ConfigError{ConfigID: configID, Field: field, Detail: detail, kind: ErrInvalidConfig}
}

// NewStrategyError builds a ConfigError carrying ErrInvalidStrategy.
func NewStrategyError(configID, detail string) *ConfigError {
	return &ConfigError{ConfigID: configID, Field: "strategy", Detail: detail, kind: ErrInvalidStrategy}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %q: %s: %s", e.ConfigID, e.Field, e.Detail)
}

func (e *ConfigError) Unwrap() error { return e.kind }
