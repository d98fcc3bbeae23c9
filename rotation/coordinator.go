package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/orbiterhq/orbiter/engine/breaker"
	"github.com/orbiterhq/orbiter/engine/config"
	"github.com/orbiterhq/orbiter/engine/logging"
	"github.com/orbiterhq/orbiter/engine/monitoring"
	"github.com/orbiterhq/orbiter/engine/ratelimit"
	"github.com/orbiterhq/orbiter/engine/selector"
	"github.com/orbiterhq/orbiter/engine/shared/id"
	"github.com/orbiterhq/orbiter/engine/sticky"
	"github.com/orbiterhq/orbiter/engine/types"
)

// DefaultClass is the destination class used when a request does not name
// one. It shares the class-default budget like any other class.
const DefaultClass = "default"

// Request carries the inputs of one proxy acquisition.
type Request struct {
	// Domain is the destination host. Required for sticky-session
	// configs, advisory for custom rules.
	Domain string
	// DestinationClass picks the rate-limit bucket (e.g. "google").
	// Empty means DefaultClass.
	DestinationClass string
	// TargetGroup selects which rotation config and proxy pool apply.
	// Empty is the null group.
	TargetGroup string
	// Region narrows geographic selection when the config does not pin
	// one.
	Region string
}

// Outcome is what the caller observed while using the leased proxy.
type Outcome struct {
	Success   bool
	LatencyMs float64
	Bytes     int64
}

// Lease is one granted proxy acquisition. The caller must call Release
// exactly once when the request finishes; extra calls are no-ops.
type Lease struct {
	ID         id.LeaseID
	Proxy      types.Proxy
	AcquiredAt time.Time

	class string

	c        *Coordinator
	released atomic.Bool
}

// Release reports the request outcome and frees the concurrency slot.
func (l *Lease) Release(outcome Outcome) {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	c := l.c

	c.limiter.EndRequest(l.class)
	c.tracker.ReportOutcome(l.Proxy.ID, outcome.Success)
	if c.usageSink != nil {
		c.usageSink.RecordOutcome(l.Proxy.ID, outcome.Success, outcome.LatencyMs, outcome.Bytes)
	}

	c.active.Add(-1)
	if c.metrics != nil {
		c.metrics.LeaseEnded()
	}
}

// Options configures a Coordinator. Configs and Pool are required; every
// other collaborator has a working default.
type Options struct {
	Configs ConfigProvider
	Pool    ProxyPoolProvider

	// Usage receives per-request outcomes; nil discards them.
	Usage UsageStatsSink
	// Events receives rotation events; nil discards them.
	Events RotationEventSink

	// Engine supplies breaker/limiter/sticky defaults; nil means
	// config.Default().
	Engine *config.Config
	// Limiter overrides the limiter built from Engine. Lets several
	// coordinators share one budget, or tests inject a tuned instance.
	Limiter *ratelimit.Limiter

	Logger  *logging.Logger
	Metrics *monitoring.Metrics

	// OnBreakerChange observes per-proxy circuit transitions.
	OnBreakerChange func(proxyID string, from, to breaker.State)

	// Seed fixes the selection PRNG for deterministic replay; 0 seeds
	// from the clock.
	Seed int64
	// EventBuffer sizes the async event queue (default 256).
	EventBuffer int
}

// Coordinator orchestrates one acquire/release cycle: sticky affinity,
// strategy selection, rate-limit admission, and outcome fan-out.
type Coordinator struct {
	instanceID string

	configs   ConfigProvider
	pool      ProxyPoolProvider
	usageSink UsageStatsSink

	tracker *breaker.Tracker
	limiter *ratelimit.Limiter
	table   *sticky.Table
	sel     *selector.Selector
	usage   *usageCounter

	logger  *logging.Logger
	metrics *monitoring.Metrics
	emitter *emitter

	onBreakerChange func(proxyID string, from, to breaker.State)

	// badReports throttles logging of outcome reports for unknown
	// proxies, which otherwise could flood the log at traffic rate.
	badReports *rate.Limiter

	now    func() time.Time
	active atomic.Int64

	statsMu  sync.Mutex
	acquired int64
	manual   map[string]bool
	lastRot  map[string]types.RotationEvent
}

// New builds a coordinator. It owns its breaker tracker and sticky table;
// the rate limiter is owned too unless Options.Limiter injects one.
func New(opts Options) (*Coordinator, error) {
	if opts.Configs == nil {
		return nil, errors.New("rotation: config provider is required")
	}
	if opts.Pool == nil {
		return nil, errors.New("rotation: proxy pool provider is required")
	}

	eng := opts.Engine
	if eng == nil {
		eng = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("rotation")

	c := &Coordinator{
		instanceID:      uuid.NewString(),
		configs:         opts.Configs,
		pool:            opts.Pool,
		usageSink:       opts.Usage,
		limiter:         opts.Limiter,
		table:           sticky.NewTable(),
		usage:           newUsageCounter(),
		logger:          logger,
		metrics:         opts.Metrics,
		onBreakerChange: opts.OnBreakerChange,
		badReports:      rate.NewLimiter(rate.Every(5*time.Second), 3),
		now:             time.Now,
		manual:          make(map[string]bool),
		lastRot:         make(map[string]types.RotationEvent),
	}

	settings := eng.Breaker.Settings()
	settings.OnStateChange = c.breakerChanged
	c.tracker = breaker.New(settings)

	if c.limiter == nil {
		c.limiter = ratelimit.New(eng.Limiter.Global(), eng.Limiter.ClassDefaults())
	}

	c.sel = selector.New(selector.Options{
		Breaker:          c.tracker,
		Sticky:           c.table,
		Usage:            c.usage,
		Logger:           logger,
		Metrics:          opts.Metrics,
		OnRotation:       c.rotated,
		Seed:             opts.Seed,
		DefaultStickyTTL: eng.Sticky.DefaultTTL,
	})

	if opts.Events != nil {
		c.emitter = newEmitter(opts.Events, logger, opts.EventBuffer)
	}

	logger.Info("coordinator ready", zap.String("instance_id", c.instanceID))
	return c, nil
}

// Acquire picks a proxy for one outbound request. The returned lease holds
// a concurrency slot until released. Denials and selection failures leave
// all state untouched.
func (c *Coordinator) Acquire(ctx context.Context, req Request) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := c.now()

	cfg, err := c.configs.ActiveConfig(req.TargetGroup)
	if err != nil {
		c.selectionError("config_provider")
		return nil, fmt.Errorf("load active config: %w", err)
	}
	if cfg == nil {
		c.selectionError("no_active_config")
		return nil, types.NewConfigError("", "target_group",
			fmt.Sprintf("no active rotation config for group %q", req.TargetGroup))
	}

	pool, err := c.pool.ListEnabled(req.TargetGroup)
	if err != nil {
		c.selectionError("pool_provider")
		return nil, fmt.Errorf("list proxy pool: %w", err)
	}
	c.usage.observePool(pool)

	proxy, err := c.sel.Next(pool, cfg, selector.Context{
		Domain:           req.Domain,
		DestinationClass: req.DestinationClass,
		Region:           req.Region,
	})
	if err != nil {
		c.selectionError(errorReason(err))
		return nil, err
	}

	class := req.DestinationClass
	if class == "" {
		class = DefaultClass
	}
	decision := c.limiter.Check(class)
	if !decision.Allowed {
		if c.metrics != nil {
			c.metrics.RecordDenial(class, string(decision.Reason))
		}
		return nil, decision.Err(class)
	}
	c.limiter.StartRequest(class)
	c.usage.increment(proxy.ID)

	lease := &Lease{
		ID:         id.NewLeaseID(),
		Proxy:      proxy,
		AcquiredAt: start,
		class:      class,
		c:          c,
	}

	c.active.Add(1)
	c.statsMu.Lock()
	c.acquired++
	c.statsMu.Unlock()
	if c.metrics != nil {
		c.metrics.LeaseStarted()
		c.metrics.RecordSelection(string(cfg.Strategy), cfg.TargetGroup, c.now().Sub(start))
	}
	return lease, nil
}

// ReportOutcome feeds an outcome for a proxy that was used outside the
// lease flow (e.g. a long-lived tunnel). Reports for proxies never seen in
// a pool snapshot are logged and ignored so a misbehaving caller cannot
// poison breaker state.
func (c *Coordinator) ReportOutcome(proxyID string, success bool, latencyMs float64, bytes int64) {
	if !c.usage.knownProxy(proxyID) {
		if c.badReports.Allow() {
			c.logger.Warn("outcome report for unknown proxy ignored",
				zap.String("proxy_id", proxyID))
		}
		return
	}
	c.tracker.ReportOutcome(proxyID, success)
	if c.usageSink != nil {
		c.usageSink.RecordOutcome(proxyID, success, latencyMs, bytes)
	}
}

// RotateNow forces a fresh selection for the group and tags the resulting
// change as a manual rotation. Sticky bindings for the group's domains are
// left alone; only the group-level rotation moves.
func (c *Coordinator) RotateNow(targetGroup string) (types.Proxy, error) {
	cfg, err := c.configs.ActiveConfig(targetGroup)
	if err != nil {
		return types.Proxy{}, fmt.Errorf("load active config: %w", err)
	}
	if cfg == nil {
		return types.Proxy{}, types.NewConfigError("", "target_group",
			fmt.Sprintf("no active rotation config for group %q", targetGroup))
	}
	pool, err := c.pool.ListEnabled(targetGroup)
	if err != nil {
		return types.Proxy{}, fmt.Errorf("list proxy pool: %w", err)
	}
	c.usage.observePool(pool)

	c.statsMu.Lock()
	c.manual[targetGroup] = true
	c.statsMu.Unlock()
	defer func() {
		c.statsMu.Lock()
		delete(c.manual, targetGroup)
		c.statsMu.Unlock()
	}()

	return c.sel.Next(pool, cfg, selector.Context{})
}

// Breaker exposes the coordinator's circuit tracker for the settings
// surface (state inspection, manual reset).
func (c *Coordinator) Breaker() *breaker.Tracker { return c.tracker }

// Limiter exposes the rate limiter for per-class budget configuration.
func (c *Coordinator) Limiter() *ratelimit.Limiter { return c.limiter }

// InvalidateProxy drops sticky bindings for a proxy that left the pool.
func (c *Coordinator) InvalidateProxy(proxyID string) int {
	return c.table.InvalidateByProxy(proxyID)
}

// Stats is a point-in-time operational snapshot.
type Stats struct {
	InstanceID    string
	ActiveLeases  int64
	AcquiredTotal int64
	EventsDropped int64
	LastRotation  map[string]types.RotationEvent
	Breakers      map[string]breaker.Info
	RateLimits    map[string]ratelimit.Stats
}

// Stats snapshots coordinator state. The maps are copies.
func (c *Coordinator) Stats() Stats {
	c.statsMu.Lock()
	last := make(map[string]types.RotationEvent, len(c.lastRot))
	for g, ev := range c.lastRot {
		last[g] = ev
	}
	acquired := c.acquired
	c.statsMu.Unlock()

	s := Stats{
		InstanceID:    c.instanceID,
		ActiveLeases:  c.active.Load(),
		AcquiredTotal: acquired,
		LastRotation:  last,
		Breakers:      c.tracker.Snapshot(),
		RateLimits:    c.limiter.ClassStats(),
	}
	if c.emitter != nil {
		s.EventsDropped = c.emitter.dropped.Load()
	}
	return s
}

// Close flushes queued rotation events and stops the delivery goroutine.
// Call after in-flight acquisitions have drained.
func (c *Coordinator) Close() {
	if c.emitter != nil {
		c.emitter.close()
	}
	c.logger.Info("coordinator closed", zap.String("instance_id", c.instanceID))
}

// rotated handles a selection landing on a different proxy than the
// group's previous one. Runs inline on the acquire path, so it only stamps
// the event and hands it to the async emitter.
func (c *Coordinator) rotated(ch selector.Change) {
	reason := ch.Reason

	c.statsMu.Lock()
	if c.manual[ch.TargetGroup] {
		reason = types.ReasonManual
	}
	ev := types.RotationEvent{
		ID:              string(id.NewEventID()),
		Timestamp:       c.now(),
		PreviousProxyID: ch.PreviousProxyID,
		NewProxyID:      ch.NewProxyID,
		Reason:          reason,
		Domain:          ch.Domain,
		ConfigID:        ch.ConfigID,
	}
	c.lastRot[ch.TargetGroup] = ev
	c.statsMu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordRotation(string(reason))
	}
	if c.emitter != nil {
		c.emitter.emit(ev)
	}
	c.logger.Debug("proxy rotated",
		zap.String("target_group", ch.TargetGroup),
		zap.String("previous", ch.PreviousProxyID),
		zap.String("new", ch.NewProxyID),
		zap.String("reason", string(reason)))
}

// breakerChanged reacts to circuit transitions: a proxy tripping open loses
// its sticky bindings so affinity traffic reroutes immediately.
func (c *Coordinator) breakerChanged(proxyID string, from, to breaker.State) {
	if c.metrics != nil {
		c.metrics.RecordBreakerTransition(from.String(), to.String())
	}
	if to == breaker.StateOpen {
		if dropped := c.table.InvalidateByProxy(proxyID); dropped > 0 {
			c.logger.Info("sticky bindings invalidated for open circuit",
				zap.String("proxy_id", proxyID),
				zap.Int("dropped", dropped))
		}
	}
	if c.onBreakerChange != nil {
		c.onBreakerChange(proxyID, from, to)
	}
}

// errorReason maps a selection error to a metrics label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, types.ErrNoAvailableProxy):
		return "no_available_proxy"
	case errors.Is(err, types.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, types.ErrInvalidConfig), errors.Is(err, types.ErrInvalidStrategy):
		return "invalid_config"
	default:
		return "internal"
	}
}

func (c *Coordinator) selectionError(reason string) {
	if c.metrics != nil {
		c.metrics.RecordSelectionError(reason)
	}
}
