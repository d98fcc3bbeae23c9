package rotation

import (
	"sync"

	"github.com/orbiterhq/orbiter/engine/types"
)

// usageCounter tracks in-process cumulative request counts per proxy for
// the least-used strategy, and remembers which proxy ids have appeared in a
// pool snapshot so stray outcome reports can be told apart from real ones.
type usageCounter struct {
	mu     sync.RWMutex
	counts map[string]int64
	known  map[string]struct{}
}

func newUsageCounter() *usageCounter {
	return &usageCounter{
		counts: make(map[string]int64),
		known:  make(map[string]struct{}),
	}
}

// RequestCount satisfies selector.UsageSource.
func (u *usageCounter) RequestCount(proxyID string) int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.counts[proxyID]
}

func (u *usageCounter) increment(proxyID string) {
	u.mu.Lock()
	u.counts[proxyID]++
	u.mu.Unlock()
}

func (u *usageCounter) observePool(pool []types.Proxy) {
	u.mu.Lock()
	for _, p := range pool {
		u.known[p.ID] = struct{}{}
	}
	u.mu.Unlock()
}

func (u *usageCounter) knownProxy(proxyID string) bool {
	u.mu.RLock()
	_, ok := u.known[proxyID]
	u.mu.RUnlock()
	return ok
}
