package selector

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbiterhq/orbiter/engine/logging"
	"github.com/orbiterhq/orbiter/engine/monitoring"
	"github.com/orbiterhq/orbiter/engine/sticky"
	"github.com/orbiterhq/orbiter/engine/types"
)

// BreakerGate reports per-proxy circuit state. Satisfied by
// breaker.Tracker.
type BreakerGate interface {
	IsOpen(proxyID string) bool
}

// UsageSource provides cumulative request counts for the least-used
// strategy. The counts live outside the selector (usage stats store).
type UsageSource interface {
	RequestCount(proxyID string) int64
}

// Context carries the per-call selection inputs.
type Context struct {
	Domain           string
	DestinationClass string
	Region           string
}

// Change describes one observed rotation: the selected proxy differs from
// the group's previous selection.
type Change struct {
	TargetGroup     string
	ConfigID        string
	Domain          string
	PreviousProxyID string
	NewProxyID      string
	Reason          types.RotationReason
}

// Options configures a Selector. Breaker is the only required
// collaborator.
type Options struct {
	Breaker BreakerGate
	Sticky  *sticky.Table
	Usage   UsageSource
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	// OnRotation fires after a selection lands on a different proxy than
	// the group's previous one.
	OnRotation func(Change)
	// Seed fixes the PRNG for deterministic replay; 0 seeds from the
	// clock. Fairness is all that matters here, not unpredictability.
	Seed int64
	// DefaultStickyTTL applies when sticky params omit ttl_seconds.
	DefaultStickyTTL time.Duration
}

// Selector picks proxies according to the active rotation config.
type Selector struct {
	gate     BreakerGate
	table    *sticky.Table
	usage    UsageSource
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	onRotate func(Change)

	stickyTTL time.Duration
	now       func() time.Time

	rngMu sync.Mutex
	src   *rand.PCG
	rng   *rand.Rand

	cursorMu sync.Mutex
	cursors  map[string]*atomic.Uint64

	lastMu sync.Mutex
	last   map[string]string // target group -> previously selected proxy id
}

// New creates a selector.
func New(opts Options) *Selector {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	ttl := opts.DefaultStickyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	src := rand.NewPCG(uint64(seed), uint64(seed))

	return &Selector{
		gate:      opts.Breaker,
		table:     opts.Sticky,
		usage:     opts.Usage,
		logger:    logger,
		metrics:   opts.Metrics,
		onRotate:  opts.OnRotation,
		stickyTTL: ttl,
		now:       time.Now,
		src:       src,
		rng:       rand.New(src),
		cursors:   make(map[string]*atomic.Uint64),
		last:      make(map[string]string),
	}
}

// result carries a picked proxy plus the rotation reason the strategy
// suggests if the pick turns out to differ from the previous one.
type result struct {
	proxy  types.Proxy
	reason types.RotationReason
	// sticky reuse suppresses rotation tracking entirely
	stickyReuse bool
}

// Next returns the proxy to use for the next request. The pool must already
// be narrowed to the config's rotation group and to enabled proxies; Next
// additionally drops proxies whose circuit is open. Errors leave all
// selector state untouched.
func (s *Selector) Next(pool []types.Proxy, cfg *types.RotationConfig, sctx Context) (types.Proxy, error) {
	if cfg == nil || cfg.Params == nil {
		return types.Proxy{}, types.NewConfigError("", "params", "selection requires a loaded config")
	}
	if cfg.Params.Strategy() != cfg.Strategy {
		return types.Proxy{}, types.NewConfigError(cfg.ID, "params",
			fmt.Sprintf("params are for strategy %q, config says %q", cfg.Params.Strategy(), cfg.Strategy))
	}

	healthy := s.filterHealthy(pool)
	if len(healthy) == 0 {
		return types.Proxy{}, &types.NoProxyError{TargetGroup: cfg.TargetGroup, PoolSize: len(pool)}
	}

	res, err := s.dispatch(healthy, pool, cfg, sctx)
	if err != nil {
		return types.Proxy{}, err
	}

	if !res.stickyReuse {
		s.trackRotation(res, pool, cfg, sctx)
	}
	return res.proxy, nil
}

// dispatch routes to the strategy implementation. The switch is exhaustive
// over the params union; an unknown concrete type means a config slipped
// past the load boundary.
func (s *Selector) dispatch(healthy, pool []types.Proxy, cfg *types.RotationConfig, sctx Context) (result, error) {
	switch params := cfg.Params.(type) {
	case types.RoundRobinParams:
		return s.nextRoundRobin(healthy, cfg)
	case types.RandomParams:
		return s.nextRandom(healthy)
	case types.WeightedParams:
		return s.nextWeighted(healthy)
	case types.LeastUsedParams:
		return s.nextLeastUsed(healthy)
	case types.FastestParams:
		return s.nextFastest(healthy)
	case types.FailureAwareParams:
		return s.nextFailureAware(healthy)
	case types.StickyParams:
		return s.nextSticky(healthy, cfg, params, sctx)
	case types.GeographicParams:
		return s.nextGeographic(healthy, cfg, params, sctx)
	case types.TimeBasedParams:
		return s.nextTimeBased(healthy, pool, cfg, params)
	case types.CustomParams:
		return s.nextCustom(healthy, pool, cfg, params, sctx)
	default:
		return result{}, types.NewStrategyError(cfg.ID, fmt.Sprintf("unhandled params type %T", cfg.Params))
	}
}

// subDispatch runs a leaf sub-strategy for the compound strategies. An
// unset sub-strategy means weighted.
func (s *Selector) subDispatch(strategy types.Strategy, healthy []types.Proxy, cfg *types.RotationConfig) (result, error) {
	if strategy == "" {
		strategy = types.StrategyWeighted
	}
	switch strategy {
	case types.StrategyRoundRobin:
		return s.nextRoundRobin(healthy, cfg)
	case types.StrategyRandom:
		return s.nextRandom(healthy)
	case types.StrategyWeighted:
		return s.nextWeighted(healthy)
	case types.StrategyLeastUsed:
		return s.nextLeastUsed(healthy)
	case types.StrategyFastest:
		return s.nextFastest(healthy)
	case types.StrategyFailureAware:
		return s.nextFailureAware(healthy)
	default:
		return result{}, types.NewConfigError(cfg.ID, "sub-strategy",
			fmt.Sprintf("strategy %q cannot act as a sub-strategy", strategy))
	}
}

func (s *Selector) filterHealthy(pool []types.Proxy) []types.Proxy {
	if s.gate == nil {
		return pool
	}
	healthy := make([]types.Proxy, 0, len(pool))
	for _, p := range pool {
		if !s.gate.IsOpen(p.ID) {
			healthy = append(healthy, p)
		}
	}
	return healthy
}

// pinned resolves an explicit proxy id from a rule or schedule window. The
// raw pool distinguishes a cooling-down proxy from a missing one.
func (s *Selector) pinned(proxyID string, healthy, pool []types.Proxy, cfg *types.RotationConfig) (types.Proxy, error) {
	for _, p := range healthy {
		if p.ID == proxyID {
			return p, nil
		}
	}
	for _, p := range pool {
		if p.ID == proxyID {
			return types.Proxy{}, fmt.Errorf("proxy %q: %w", proxyID, types.ErrCircuitOpen)
		}
	}
	return types.Proxy{}, &types.NoProxyError{TargetGroup: cfg.TargetGroup, PoolSize: len(pool)}
}

// trackRotation updates the per-group last selection and fires the rotation
// callback when the proxy changed. Reasons beyond the strategy's own hint
// are derived from why the previous proxy is gone.
func (s *Selector) trackRotation(res result, pool []types.Proxy, cfg *types.RotationConfig, sctx Context) {
	group := cfg.TargetGroup

	s.lastMu.Lock()
	prev, seen := s.last[group]
	if seen && prev == res.proxy.ID {
		s.lastMu.Unlock()
		return
	}
	s.last[group] = res.proxy.ID
	s.lastMu.Unlock()

	reason := res.reason
	if !seen {
		reason = types.ReasonStartup
	} else if reason == "" || reason == types.ReasonScheduled {
		reason = s.departureReason(prev, pool)
	}

	if s.onRotate != nil {
		s.onRotate(Change{
			TargetGroup:     group,
			ConfigID:        cfg.ID,
			Domain:          sctx.Domain,
			PreviousProxyID: prev,
			NewProxyID:      res.proxy.ID,
			Reason:          reason,
		})
	}
}

// departureReason classifies why the previous proxy lost the slot: cooling
// down behind an open breaker, gone from the pool, or plain rotation.
func (s *Selector) departureReason(prev string, pool []types.Proxy) types.RotationReason {
	inPool := false
	for _, p := range pool {
		if p.ID == prev {
			inPool = true
			break
		}
	}
	switch {
	case !inPool:
		return types.ReasonFailure
	case s.gate != nil && s.gate.IsOpen(prev):
		return types.ReasonCooldown
	default:
		return types.ReasonScheduled
	}
}

// ResetCursor clears the round-robin cursor and rotation memory of a target
// group. Used when a group's pool is reconfigured wholesale.
func (s *Selector) ResetCursor(targetGroup string) {
	s.cursorMu.Lock()
	delete(s.cursors, targetGroup)
	s.cursorMu.Unlock()

	s.lastMu.Lock()
	delete(s.last, targetGroup)
	s.lastMu.Unlock()
}
