package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests drive the tracker's view of time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(settings Settings) (*Tracker, *fakeClock) {
	tr := New(settings)
	clock := newFakeClock()
	tr.now = clock.Now
	return tr, clock
}

func TestTrackerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		outcomes      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{FailureThreshold: 3},
			outcomes:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "stays closed below threshold",
			settings:      Settings{FailureThreshold: 3},
			outcomes:      []bool{false, false},
			expectedState: StateClosed,
		},
		{
			name:          "opens at threshold",
			settings:      Settings{FailureThreshold: 3},
			outcomes:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "successes between failures do not reset the window count",
			settings:      Settings{FailureThreshold: 3},
			outcomes:      []bool{false, true, false, true, false},
			expectedState: StateOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker(tt.settings)

			for _, success := range tt.outcomes {
				tr.ReportOutcome("p1", success)
			}

			state, _ := tr.State("p1")
			assert.Equal(t, tt.expectedState, state)
		})
	}
}

func TestTrackerOpensAtThresholdWithinWindow(t *testing.T) {
	tr, clock := newTestTracker(Settings{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
	})

	for i := 0; i < 5; i++ {
		tr.ReportOutcome("p1", false)
	}

	assert.True(t, tr.IsOpen("p1"))

	// Cooldown elapses: the next read flips to half-open, one success closes.
	clock.Advance(30 * time.Second)
	assert.False(t, tr.IsOpen("p1"))

	state, _ := tr.State("p1")
	assert.Equal(t, StateHalfOpen, state)

	tr.ReportOutcome("p1", true)

	state, failures := tr.State("p1")
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 0, failures)
}

func TestTrackerWindowSlides(t *testing.T) {
	tr, clock := newTestTracker(Settings{
		FailureThreshold: 5,
		Window:           60 * time.Second,
	})

	for i := 0; i < 4; i++ {
		tr.ReportOutcome("p1", false)
	}

	// The window expires before the fifth failure, so counting restarts.
	clock.Advance(61 * time.Second)
	tr.ReportOutcome("p1", false)

	state, failures := tr.State("p1")
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 1, failures)
}

func TestTrackerHalfOpenReopensOnFailure(t *testing.T) {
	tr, clock := newTestTracker(Settings{
		FailureThreshold: 2,
		Cooldown:         10 * time.Second,
	})

	tr.ReportOutcome("p1", false)
	tr.ReportOutcome("p1", false)
	assert.True(t, tr.IsOpen("p1"))

	clock.Advance(10 * time.Second)
	state, _ := tr.State("p1")
	assert.Equal(t, StateHalfOpen, state)

	tr.ReportOutcome("p1", false)
	assert.True(t, tr.IsOpen("p1"))

	// Reopening restarts the cooldown from the half-open failure.
	clock.Advance(9 * time.Second)
	assert.True(t, tr.IsOpen("p1"))
	clock.Advance(1 * time.Second)
	assert.False(t, tr.IsOpen("p1"))
}

func TestTrackerSuccessesToClose(t *testing.T) {
	tr, clock := newTestTracker(Settings{
		FailureThreshold: 1,
		Cooldown:         5 * time.Second,
		SuccessesToClose: 3,
	})

	tr.ReportOutcome("p1", false)
	clock.Advance(5 * time.Second)

	tr.ReportOutcome("p1", true)
	tr.ReportOutcome("p1", true)
	state, _ := tr.State("p1")
	assert.Equal(t, StateHalfOpen, state)

	tr.ReportOutcome("p1", true)
	state, _ = tr.State("p1")
	assert.Equal(t, StateClosed, state)
}

func TestTrackerProxiesAreIndependent(t *testing.T) {
	tr, _ := newTestTracker(Settings{FailureThreshold: 2})

	tr.ReportOutcome("p1", false)
	tr.ReportOutcome("p1", false)
	tr.ReportOutcome("p2", false)

	assert.True(t, tr.IsOpen("p1"))
	assert.False(t, tr.IsOpen("p2"))

	state, failures := tr.State("p2")
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 1, failures)
}

func TestTrackerUnknownProxyIsClosed(t *testing.T) {
	tr, _ := newTestTracker(Settings{})

	assert.False(t, tr.IsOpen("never-seen"))

	state, failures := tr.State("never-seen")
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 0, failures)
}

func TestTrackerCallbacks(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	settings := Settings{
		FailureThreshold: 2,
		Cooldown:         10 * time.Second,
		OnStateChange: func(proxyID string, from, to State) {
			mu.Lock()
			transitions = append(transitions, proxyID+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	}
	tr, clock := newTestTracker(settings)

	tr.ReportOutcome("p1", false)
	tr.ReportOutcome("p1", false)
	clock.Advance(10 * time.Second)
	tr.ReportOutcome("p1", true)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, transitions, "p1:closed->open")
	assert.Contains(t, transitions, "p1:open->half-open")
	assert.Contains(t, transitions, "p1:half-open->closed")
}

func TestTrackerSnapshotAndReset(t *testing.T) {
	tr, _ := newTestTracker(Settings{FailureThreshold: 2})

	tr.ReportOutcome("p1", false)
	tr.ReportOutcome("p1", false)
	tr.ReportOutcome("p2", true)

	snap := tr.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, StateOpen, snap["p1"].State)
	assert.Equal(t, StateClosed, snap["p2"].State)

	tr.Reset()
	assert.Empty(t, tr.Snapshot())
}

func TestTrackerConcurrentReports(t *testing.T) {
	tr, _ := newTestTracker(Settings{FailureThreshold: 1000000})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(fail bool) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				tr.ReportOutcome("p1", !fail)
				tr.ReportOutcome("p2", true)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	_, failures := tr.State("p1")
	assert.Equal(t, 2000, failures)
}
