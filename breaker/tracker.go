package breaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures breaker behavior. The same settings apply to every
// tracked proxy.
type Settings struct {
	// FailureThreshold is the number of failures within Window that trips
	// the breaker
	FailureThreshold int
	// Window is the sliding window failures are counted in
	Window time.Duration
	// Cooldown is the period of the open state until transitioning to half-open
	Cooldown time.Duration
	// SuccessesToClose is the number of consecutive half-open successes
	// required to close
	SuccessesToClose int
	// OnStateChange is called whenever a proxy's state changes
	OnStateChange func(proxyID string, from State, to State)
}

// Info is a point-in-time view of one proxy's breaker.
type Info struct {
	State        State
	FailureCount int
}

// Tracker holds one circuit breaker per proxy id.
type Tracker struct {
	settings Settings
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu                sync.Mutex
	state             State
	failureCount      int
	windowStart       time.Time
	openedAt          time.Time
	halfOpenSuccesses int
}

// New creates a tracker with the given settings.
func New(settings Settings) *Tracker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 5
	}
	if settings.Window <= 0 {
		settings.Window = 60 * time.Second
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.SuccessesToClose <= 0 {
		settings.SuccessesToClose = 1
	}

	return &Tracker{
		settings: settings,
		now:      time.Now,
		entries:  make(map[string]*entry),
	}
}

// ReportOutcome feeds one request outcome into the proxy's breaker. Unknown
// proxy ids create a breaker lazily. Never fails.
func (t *Tracker) ReportOutcome(proxyID string, success bool) {
	e := t.entry(proxyID)
	now := t.now()

	e.mu.Lock()
	from := e.state
	e.refresh(now, t.settings)
	mid := e.state

	if success {
		e.onSuccess(t.settings)
	} else {
		e.onFailure(now, t.settings)
	}
	to := e.state
	e.mu.Unlock()

	// A single report can cross two edges: the lazy open to half-open
	// refresh, then the outcome's own transition.
	t.notify(proxyID, from, mid)
	t.notify(proxyID, mid, to)
}

// IsOpen reports whether the proxy's circuit is open. Performs the lazy
// open to half-open transition as a read side effect.
func (t *Tracker) IsOpen(proxyID string) bool {
	state, _ := t.State(proxyID)
	return state == StateOpen
}

// State returns the proxy's current state and failure count.
func (t *Tracker) State(proxyID string) (State, int) {
	t.mu.RLock()
	e, ok := t.entries[proxyID]
	t.mu.RUnlock()
	if !ok {
		return StateClosed, 0
	}

	now := t.now()

	e.mu.Lock()
	from := e.state
	e.refresh(now, t.settings)
	state, failures := e.state, e.failureCount
	e.mu.Unlock()

	t.notify(proxyID, from, state)
	return state, failures
}

// Snapshot returns the current state of every tracked proxy.
func (t *Tracker) Snapshot() map[string]Info {
	t.mu.RLock()
	ids := make([]string, 0, len(t.entries))
	for proxyID := range t.entries {
		ids = append(ids, proxyID)
	}
	t.mu.RUnlock()

	out := make(map[string]Info, len(ids))
	for _, proxyID := range ids {
		state, failures := t.State(proxyID)
		out[proxyID] = Info{State: state, FailureCount: failures}
	}
	return out
}

// Reset forgets all tracked proxies. Process-level reinitialization, not a
// traffic-path operation.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.entries = make(map[string]*entry)
	t.mu.Unlock()
}

// entry returns the breaker for proxyID, creating it if needed.
func (t *Tracker) entry(proxyID string) *entry {
	t.mu.RLock()
	e, ok := t.entries[proxyID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[proxyID]; ok {
		return e
	}
	e = &entry{state: StateClosed}
	t.entries[proxyID] = e
	return e
}

func (t *Tracker) notify(proxyID string, from, to State) {
	if from != to && t.settings.OnStateChange != nil {
		t.settings.OnStateChange(proxyID, from, to)
	}
}

// refresh applies lazy transitions. Caller holds e.mu.
func (e *entry) refresh(now time.Time, s Settings) {
	switch e.state {
	case StateOpen:
		if now.Sub(e.openedAt) >= s.Cooldown {
			e.state = StateHalfOpen
			e.halfOpenSuccesses = 0
		}
	case StateClosed:
		if !e.windowStart.IsZero() && now.Sub(e.windowStart) > s.Window {
			e.failureCount = 0
			e.windowStart = time.Time{}
		}
	}
}

// onSuccess handles a successful outcome. Caller holds e.mu.
func (e *entry) onSuccess(s Settings) {
	switch e.state {
	case StateHalfOpen:
		e.halfOpenSuccesses++
		if e.halfOpenSuccesses >= s.SuccessesToClose {
			e.state = StateClosed
			e.failureCount = 0
			e.windowStart = time.Time{}
		}
	}
}

// onFailure handles a failed outcome. Caller holds e.mu.
func (e *entry) onFailure(now time.Time, s Settings) {
	switch e.state {
	case StateClosed:
		if e.windowStart.IsZero() || now.Sub(e.windowStart) > s.Window {
			e.windowStart = now
			e.failureCount = 0
		}
		e.failureCount++
		if e.failureCount >= s.FailureThreshold {
			e.state = StateOpen
			e.openedAt = now
		}
	case StateHalfOpen:
		// any failure while probing reopens immediately
		e.state = StateOpen
		e.openedAt = now
		e.halfOpenSuccesses = 0
	}
}
