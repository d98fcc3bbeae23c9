package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/orbiterhq/orbiter/engine/types"
)

// DenyReason explains why Check refused admission.
type DenyReason string

const (
	DenyConcurrent  DenyReason = "concurrent_limit"
	DenyMinDelay    DenyReason = "min_delay"
	DenyEngineLimit DenyReason = "engine_limit"
	DenyGlobalLimit DenyReason = "global_limit"
)

// ClassConfig is the budget of one destination class.
type ClassConfig struct {
	// MaxRequests tokens accumulate per Window.
	MaxRequests int
	Window      time.Duration
	// MinDelay is the minimum gap between request starts. Zero disables.
	MinDelay time.Duration
	// MaxConcurrent caps in-flight requests. Zero disables.
	MaxConcurrent int
}

// GlobalConfig is the aggregate budget across all classes.
type GlobalConfig struct {
	MaxRequests   int
	Window        time.Duration
	MaxConcurrent int
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Wait is the suggested back-off when denied. Zero when no useful
	// hint exists (e.g. waiting on a concurrency slot).
	Wait   time.Duration
	Reason DenyReason
}

// Err converts a denial into a types.RateLimitError. Returns nil for an
// allowed decision.
func (d Decision) Err(class string) error {
	if d.Allowed {
		return nil
	}
	return &types.RateLimitError{Class: class, Reason: string(d.Reason), Wait: d.Wait}
}

// bucket combines a rate.Limiter token bucket with a concurrency gate and
// the min-delay stamp. All fields are guarded by mu; independent classes
// never share a bucket. The limiter is driven with explicit timestamps, so
// tests inject a fake clock through Limiter.now.
type bucket struct {
	mu sync.Mutex

	// tokens is nil when the token budget is disabled (non-positive
	// MaxRequests or Window).
	tokens *rate.Limiter
	burst  int

	minDelay      time.Duration
	maxConcurrent int

	active    int
	lastStart time.Time
}

func newBucket(maxRequests int, window, minDelay time.Duration, maxConcurrent int) *bucket {
	b := &bucket{
		minDelay:      minDelay,
		maxConcurrent: maxConcurrent,
	}
	if maxRequests > 0 && window > 0 {
		// maxRequests tokens accumulate per window, capped at a full
		// window's worth.
		b.tokens = rate.NewLimiter(rate.Limit(float64(maxRequests)/window.Seconds()), maxRequests)
		b.burst = maxRequests
	}
	return b
}

// hasToken reports whether a full token is available at now without
// consuming it. Caller holds b.mu.
func (b *bucket) hasToken(now time.Time) bool {
	return b.tokens == nil || b.tokens.TokensAt(now) >= 1
}

// consume takes one token at now. Caller holds b.mu and has checked
// hasToken.
func (b *bucket) consume(now time.Time) {
	if b.tokens != nil {
		b.tokens.AllowN(now, 1)
	}
}

// untilNextToken returns the time until one full token accumulates, via a
// reservation that is cancelled immediately. Caller holds b.mu.
func (b *bucket) untilNextToken(now time.Time) time.Duration {
	if b.tokens == nil {
		return 0
	}
	r := b.tokens.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return wait
}

// Limiter owns the per-class buckets and the global bucket.
type Limiter struct {
	defaults ClassConfig
	now      func() time.Time

	mu      sync.RWMutex
	classes map[string]*bucket
	global  *bucket

	// pollInterval bounds how often Wait re-checks when no better hint
	// is available.
	pollInterval time.Duration
}

// New creates a limiter with the given global budget and per-class
// defaults. Classes appear lazily on first use; SetClassConfig overrides
// individual classes.
func New(global GlobalConfig, defaults ClassConfig) *Limiter {
	return &Limiter{
		defaults:     defaults,
		now:          time.Now,
		classes:      make(map[string]*bucket),
		global:       newBucket(global.MaxRequests, global.Window, 0, global.MaxConcurrent),
		pollInterval: 25 * time.Millisecond,
	}
}

// SetClassConfig installs a dedicated budget for one class, replacing its
// bucket.
func (l *Limiter) SetClassConfig(class string, cfg ClassConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.classes[class] = newBucket(cfg.MaxRequests, cfg.Window, cfg.MinDelay, cfg.MaxConcurrent)
}

// class returns the bucket for a destination class, creating it from the
// defaults if needed.
func (l *Limiter) class(name string) *bucket {
	l.mu.RLock()
	b, ok := l.classes[name]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.classes[name]; ok {
		return b
	}
	d := l.defaults
	b = newBucket(d.MaxRequests, d.Window, d.MinDelay, d.MaxConcurrent)
	l.classes[name] = b
	return b
}

// Check runs one admission check for the class. An allowed check consumes
// one token from the class bucket and one from the global bucket.
//
// Precedence: class concurrency, global concurrency, min delay, class
// tokens, global tokens.
func (l *Limiter) Check(class string) Decision {
	cb := l.class(class)
	gb := l.global
	now := l.now()

	// Lock order is always class then global.
	cb.mu.Lock()
	defer cb.mu.Unlock()
	gb.mu.Lock()
	defer gb.mu.Unlock()

	if cb.maxConcurrent > 0 && cb.active >= cb.maxConcurrent {
		return Decision{Reason: DenyConcurrent}
	}
	if gb.maxConcurrent > 0 && gb.active >= gb.maxConcurrent {
		return Decision{Reason: DenyConcurrent}
	}

	if cb.minDelay > 0 && !cb.lastStart.IsZero() {
		elapsed := now.Sub(cb.lastStart)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed < cb.minDelay {
			return Decision{Reason: DenyMinDelay, Wait: cb.minDelay - elapsed}
		}
	}

	if !cb.hasToken(now) {
		return Decision{Reason: DenyEngineLimit, Wait: cb.untilNextToken(now)}
	}
	if !gb.hasToken(now) {
		return Decision{Reason: DenyGlobalLimit, Wait: gb.untilNextToken(now)}
	}

	// Admission consumes one attempt from both budgets.
	cb.consume(now)
	gb.consume(now)
	return Decision{Allowed: true}
}

// StartRequest marks a request in flight for the class and the global
// bucket, and stamps the class for min-delay enforcement.
func (l *Limiter) StartRequest(class string) {
	cb := l.class(class)
	now := l.now()

	cb.mu.Lock()
	cb.active++
	cb.lastStart = now
	cb.mu.Unlock()

	gb := l.global
	gb.mu.Lock()
	gb.active++
	gb.mu.Unlock()
}

// EndRequest releases an in-flight slot. Calling it without a matching
// StartRequest is a no-op: active counts never go negative.
func (l *Limiter) EndRequest(class string) {
	cb := l.class(class)

	cb.mu.Lock()
	released := cb.active > 0
	if released {
		cb.active--
	}
	cb.mu.Unlock()

	if !released {
		return
	}

	gb := l.global
	gb.mu.Lock()
	if gb.active > 0 {
		gb.active--
	}
	gb.mu.Unlock()
}

// Wait polls Check until admission, the timeout elapses, or ctx is
// canceled. Timeout and cancellation are distinct errors: a canceled wait
// returns the context's error, an expired one wraps types.ErrWaitTimeout.
func (l *Limiter) Wait(ctx context.Context, class string, timeout time.Duration) error {
	deadline := l.now().Add(timeout)

	for {
		d := l.Check(class)
		if d.Allowed {
			return nil
		}

		remaining := deadline.Sub(l.now())
		if remaining <= 0 {
			return fmt.Errorf("class %q: %w", class, types.ErrWaitTimeout)
		}

		sleep := d.Wait
		if sleep <= 0 || sleep > l.pollInterval {
			sleep = l.pollInterval
		}
		if sleep > remaining {
			sleep = remaining
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Execute runs fn between StartRequest and EndRequest. EndRequest runs on
// both success and error return.
func (l *Limiter) Execute(ctx context.Context, class string, fn func(context.Context) error) error {
	l.StartRequest(class)
	defer l.EndRequest(class)
	return fn(ctx)
}

// Stats is a point-in-time view of one bucket.
type Stats struct {
	Tokens float64
	Active int
}

// ClassStats returns the current state of every class bucket plus the
// global bucket under the "" key.
func (l *Limiter) ClassStats() map[string]Stats {
	now := l.now()

	l.mu.RLock()
	buckets := make(map[string]*bucket, len(l.classes)+1)
	for name, b := range l.classes {
		buckets[name] = b
	}
	l.mu.RUnlock()
	buckets[""] = l.global

	out := make(map[string]Stats, len(buckets))
	for name, b := range buckets {
		b.mu.Lock()
		s := Stats{Active: b.active}
		if b.tokens != nil {
			s.Tokens = b.tokens.TokensAt(now)
		}
		out[name] = s
		b.mu.Unlock()
	}
	return out
}

// Reset restores every bucket to full tokens and zero in-flight state.
// Process-level reinitialization, not a traffic operation.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	reset := func(b *bucket) {
		b.mu.Lock()
		if b.tokens != nil {
			// a fresh limiter starts with a full burst
			b.tokens = rate.NewLimiter(b.tokens.Limit(), b.burst)
		}
		b.active = 0
		b.lastStart = time.Time{}
		b.mu.Unlock()
	}
	for _, b := range l.classes {
		reset(b)
	}
	reset(l.global)
}
