package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbiterhq/orbiter/engine/breaker"
	"github.com/orbiterhq/orbiter/engine/ratelimit"
	"github.com/orbiterhq/orbiter/engine/types"
)

// staticConfigs serves one config per target group.
type staticConfigs map[string]*types.RotationConfig

func (c staticConfigs) ActiveConfig(group string) (*types.RotationConfig, error) {
	return c[group], nil
}

// staticPool serves a fixed proxy snapshot per target group.
type staticPool map[string][]types.Proxy

func (p staticPool) ListEnabled(group string) ([]types.Proxy, error) {
	return p[group], nil
}

type failingConfigs struct{}

func (failingConfigs) ActiveConfig(string) (*types.RotationConfig, error) {
	return nil, errors.New("store offline")
}

// recordingUsage captures RecordOutcome calls.
type recordingUsage struct {
	mu    sync.Mutex
	calls []usageCall
}

type usageCall struct {
	proxyID   string
	success   bool
	latencyMs float64
	bytes     int64
}

func (s *recordingUsage) RecordOutcome(proxyID string, success bool, latencyMs float64, bytes int64) {
	s.mu.Lock()
	s.calls = append(s.calls, usageCall{proxyID, success, latencyMs, bytes})
	s.mu.Unlock()
}

func (s *recordingUsage) snapshot() []usageCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]usageCall(nil), s.calls...)
}

// recordingEvents captures emitted rotation events.
type recordingEvents struct {
	mu     sync.Mutex
	events []types.RotationEvent
}

func (s *recordingEvents) Record(ev types.RotationEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingEvents) snapshot() []types.RotationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.RotationEvent(nil), s.events...)
}

func roundRobinConfig(group string) *types.RotationConfig {
	return &types.RotationConfig{
		ID:          "cfg-" + group,
		Strategy:    types.StrategyRoundRobin,
		TargetGroup: group,
		Enabled:     true,
		Params:      types.RoundRobinParams{},
	}
}

func testPool(ids ...string) []types.Proxy {
	out := make([]types.Proxy, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Proxy{ID: id, Weight: 1, Status: types.ProxyActive, SuccessRate: 100})
	}
	return out
}

func TestAcquireReleaseCycle(t *testing.T) {
	usage := &recordingUsage{}
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1", "p2")},
		Usage:   usage,
	})
	require.NoError(t, err)
	defer c.Close()

	lease, err := c.Acquire(context.Background(), Request{DestinationClass: "google"})
	require.NoError(t, err)
	assert.Equal(t, "p1", lease.Proxy.ID)
	assert.NotEmpty(t, lease.ID)
	assert.Equal(t, int64(1), c.Stats().ActiveLeases)

	lease.Release(Outcome{Success: true, LatencyMs: 120, Bytes: 4096})

	assert.Equal(t, int64(0), c.Stats().ActiveLeases)

	calls := usage.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, usageCall{"p1", true, 120, 4096}, calls[0])

	// In-flight slots are freed.
	stats := c.Limiter().ClassStats()
	assert.Equal(t, 0, stats["google"].Active)
	assert.Equal(t, 0, stats[""].Active)
}

func TestAcquireRoundRobinAdvances(t *testing.T) {
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1", "p2", "p3")},
	})
	require.NoError(t, err)
	defer c.Close()

	var got []string
	for i := 0; i < 4; i++ {
		lease, err := c.Acquire(context.Background(), Request{})
		require.NoError(t, err)
		got = append(got, lease.Proxy.ID)
		lease.Release(Outcome{Success: true})
	}
	assert.Equal(t, []string{"p1", "p2", "p3", "p1"}, got)
}

func TestReleaseIsIdempotent(t *testing.T) {
	usage := &recordingUsage{}
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1")},
		Usage:   usage,
	})
	require.NoError(t, err)
	defer c.Close()

	lease, err := c.Acquire(context.Background(), Request{DestinationClass: "google"})
	require.NoError(t, err)

	lease.Release(Outcome{Success: true})
	lease.Release(Outcome{Success: false})
	lease.Release(Outcome{Success: false})

	assert.Len(t, usage.snapshot(), 1)
	assert.Equal(t, int64(0), c.Stats().ActiveLeases)
	assert.Equal(t, 0, c.Limiter().ClassStats()["google"].Active)
}

func TestAcquireDeniedByConcurrencyLimit(t *testing.T) {
	limiter := ratelimit.New(
		ratelimit.GlobalConfig{MaxRequests: 100, Window: time.Minute, MaxConcurrent: 10},
		ratelimit.ClassConfig{MaxRequests: 100, Window: time.Minute, MaxConcurrent: 1},
	)
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1", "p2")},
		Limiter: limiter,
	})
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Acquire(context.Background(), Request{DestinationClass: "google"})
	require.NoError(t, err)

	_, err = c.Acquire(context.Background(), Request{DestinationClass: "google"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRateLimitExceeded)

	var rle *types.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "google", rle.Class)
	assert.Equal(t, string(ratelimit.DenyConcurrent), rle.Reason)

	// Another class still has room under the shared global budget.
	other, err := c.Acquire(context.Background(), Request{DestinationClass: "bing"})
	require.NoError(t, err)
	other.Release(Outcome{Success: true})

	first.Release(Outcome{Success: true})
	again, err := c.Acquire(context.Background(), Request{DestinationClass: "google"})
	require.NoError(t, err)
	again.Release(Outcome{Success: true})
}

func TestAcquireNoActiveConfig(t *testing.T) {
	c, err := New(Options{
		Configs: staticConfigs{},
		Pool:    staticPool{},
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Acquire(context.Background(), Request{TargetGroup: "ghost"})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestAcquireConfigProviderError(t *testing.T) {
	c, err := New(Options{
		Configs: failingConfigs{},
		Pool:    staticPool{},
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Acquire(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")
}

func TestAcquireEmptyPool(t *testing.T) {
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": nil},
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Acquire(context.Background(), Request{})
	assert.ErrorIs(t, err, types.ErrNoAvailableProxy)
}

func TestAcquireCancelledContext(t *testing.T) {
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1")},
	})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Acquire(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStickyAcquireReturnsSameProxy(t *testing.T) {
	cfg := &types.RotationConfig{
		ID:       "cfg-sticky",
		Strategy: types.StrategySticky,
		Enabled:  true,
		Params:   types.StickyParams{TTLSeconds: 600},
	}
	c, err := New(Options{
		Configs: staticConfigs{"": cfg},
		Pool:    staticPool{"": testPool("p1", "p2", "p3")},
		Seed:    9,
	})
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Acquire(context.Background(), Request{Domain: "x.com"})
	require.NoError(t, err)
	first.Release(Outcome{Success: true})

	for i := 0; i < 5; i++ {
		lease, err := c.Acquire(context.Background(), Request{Domain: "x.com"})
		require.NoError(t, err)
		assert.Equal(t, first.Proxy.ID, lease.Proxy.ID)
		lease.Release(Outcome{Success: true})
	}
}

func TestRotationEventsEmitted(t *testing.T) {
	events := &recordingEvents{}
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1", "p2")},
		Events:  events,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		lease, err := c.Acquire(context.Background(), Request{Domain: "x.com"})
		require.NoError(t, err)
		lease.Release(Outcome{Success: true})
	}

	c.Close() // flushes the queue

	got := events.snapshot()
	require.Len(t, got, 2)

	assert.Equal(t, types.ReasonStartup, got[0].Reason)
	assert.Empty(t, got[0].PreviousProxyID)
	assert.Equal(t, "p1", got[0].NewProxyID)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())

	assert.Equal(t, types.ReasonScheduled, got[1].Reason)
	assert.Equal(t, "p1", got[1].PreviousProxyID)
	assert.Equal(t, "p2", got[1].NewProxyID)
}

func TestRotateNowTagsManualReason(t *testing.T) {
	events := &recordingEvents{}
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1", "p2")},
		Events:  events,
	})
	require.NoError(t, err)

	lease, err := c.Acquire(context.Background(), Request{})
	require.NoError(t, err)
	lease.Release(Outcome{Success: true})

	proxy, err := c.RotateNow("")
	require.NoError(t, err)
	assert.Equal(t, "p2", proxy.ID)

	c.Close()

	got := events.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, types.ReasonManual, got[1].Reason)
	assert.Equal(t, "p2", got[1].NewProxyID)
}

func TestUnknownProxyOutcomeIgnored(t *testing.T) {
	usage := &recordingUsage{}
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1")},
		Usage:   usage,
	})
	require.NoError(t, err)
	defer c.Close()

	c.ReportOutcome("ghost", false, 0, 0)
	c.ReportOutcome("ghost", false, 0, 0)

	assert.Empty(t, usage.snapshot())
	assert.Empty(t, c.Breaker().Snapshot())
}

func TestKnownProxyOutcomeFeedsBreaker(t *testing.T) {
	usage := &recordingUsage{}
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1", "p2")},
		Usage:   usage,
	})
	require.NoError(t, err)
	defer c.Close()

	// A pool snapshot registers the ids as known.
	lease, err := c.Acquire(context.Background(), Request{})
	require.NoError(t, err)
	lease.Release(Outcome{Success: true})

	for i := 0; i < 5; i++ {
		c.ReportOutcome("p2", false, 300, 0)
	}

	assert.True(t, c.Breaker().IsOpen("p2"))
	assert.Len(t, usage.snapshot(), 6)
}

func TestOpenBreakerExcludesProxyFromAcquire(t *testing.T) {
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1", "p2")},
	})
	require.NoError(t, err)
	defer c.Close()

	lease, err := c.Acquire(context.Background(), Request{})
	require.NoError(t, err)
	lease.Release(Outcome{Success: true})

	for i := 0; i < 5; i++ {
		c.ReportOutcome("p1", false, 0, 0)
	}

	for i := 0; i < 3; i++ {
		lease, err := c.Acquire(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "p2", lease.Proxy.ID)
		lease.Release(Outcome{Success: true})
	}
}

func TestOpenBreakerInvalidatesStickyBinding(t *testing.T) {
	cfg := &types.RotationConfig{
		ID:       "cfg-sticky",
		Strategy: types.StrategySticky,
		Enabled:  true,
		Params:   types.StickyParams{TTLSeconds: 600},
	}
	var transitions []string
	var mu sync.Mutex

	c, err := New(Options{
		Configs: staticConfigs{"": cfg},
		Pool:    staticPool{"": testPool("p1", "p2", "p3")},
		Seed:    9,
		OnBreakerChange: func(proxyID string, from, to breaker.State) {
			mu.Lock()
			transitions = append(transitions, proxyID+":"+from.String()+">"+to.String())
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Acquire(context.Background(), Request{Domain: "x.com"})
	require.NoError(t, err)
	first.Release(Outcome{Success: true})

	for i := 0; i < 5; i++ {
		c.ReportOutcome(first.Proxy.ID, false, 0, 0)
	}

	mu.Lock()
	assert.Contains(t, transitions, first.Proxy.ID+":closed>open")
	mu.Unlock()

	// The binding is gone, so affinity reroutes to a healthy proxy.
	assert.Nil(t, c.table.Get("x.com", cfg.ID))

	second, err := c.Acquire(context.Background(), Request{Domain: "x.com"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Proxy.ID, second.Proxy.ID)
	second.Release(Outcome{Success: true})
}

func TestLeastUsedSeesLeaseCounts(t *testing.T) {
	cfg := &types.RotationConfig{
		ID:       "cfg-lu",
		Strategy: types.StrategyLeastUsed,
		Enabled:  true,
		Params:   types.LeastUsedParams{},
	}
	c, err := New(Options{
		Configs: staticConfigs{"": cfg},
		Pool:    staticPool{"": testPool("p1", "p2")},
	})
	require.NoError(t, err)
	defer c.Close()

	// Counts start equal, so ids break the tie; each acquire then bumps
	// the winner and the next call flips to the other proxy.
	var got []string
	for i := 0; i < 4; i++ {
		lease, err := c.Acquire(context.Background(), Request{})
		require.NoError(t, err)
		got = append(got, lease.Proxy.ID)
		lease.Release(Outcome{Success: true})
	}
	assert.Equal(t, []string{"p1", "p2", "p1", "p2"}, got)
}

func TestStatsSnapshot(t *testing.T) {
	c, err := New(Options{
		Configs: staticConfigs{"": roundRobinConfig("")},
		Pool:    staticPool{"": testPool("p1", "p2")},
	})
	require.NoError(t, err)
	defer c.Close()

	lease, err := c.Acquire(context.Background(), Request{DestinationClass: "google"})
	require.NoError(t, err)

	s := c.Stats()
	assert.NotEmpty(t, s.InstanceID)
	assert.Equal(t, int64(1), s.ActiveLeases)
	assert.Equal(t, int64(1), s.AcquiredTotal)
	assert.Zero(t, s.EventsDropped)

	last, ok := s.LastRotation[""]
	require.True(t, ok)
	assert.Equal(t, "p1", last.NewProxyID)
	assert.Equal(t, types.ReasonStartup, last.Reason)

	assert.Equal(t, 1, s.RateLimits["google"].Active)

	lease.Release(Outcome{Success: true})
	assert.Equal(t, int64(0), c.Stats().ActiveLeases)
}

func TestNewRequiresProviders(t *testing.T) {
	_, err := New(Options{Pool: staticPool{}})
	assert.Error(t, err)

	_, err = New(Options{Configs: staticConfigs{}})
	assert.Error(t, err)
}

func TestIndependentCoordinatorsDoNotShareState(t *testing.T) {
	mk := func() *Coordinator {
		c, err := New(Options{
			Configs: staticConfigs{"": roundRobinConfig("")},
			Pool:    staticPool{"": testPool("p1", "p2")},
		})
		require.NoError(t, err)
		return c
	}
	a, b := mk(), mk()
	defer a.Close()
	defer b.Close()

	la, err := a.Acquire(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "p1", la.Proxy.ID)

	// b's cursor is untouched by a's acquisition.
	lb, err := b.Acquire(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "p1", lb.Proxy.ID)

	assert.NotEqual(t, a.Stats().InstanceID, b.Stats().InstanceID)

	la.Release(Outcome{Success: true})
	lb.Release(Outcome{Success: true})
}
