// Package sticky maintains TTL-bound domain to proxy affinity.
//
// A sticky entry binds one domain (optionally a wildcard pattern like
// "*.example.com") to one proxy for a limited time, keyed by the rotation
// config that created it. Expiry is lazy: expired entries are treated as
// absent on read and swept opportunistically.
package sticky

import (
	"strings"
	"sync"
	"time"

	"github.com/orbiterhq/orbiter/engine/shared/id"
)

// Entry is one domain->proxy binding.
type Entry struct {
	ID           id.EntryID
	Domain       string
	ConfigID     string
	ProxyID      string
	ExpiresAt    time.Time
	RequestCount int64
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Table holds at most one live entry per (domain, config) pair.
type Table struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

func key(domain, configID string) string {
	return configID + "\x00" + domain
}

// lookup resolves the live entry serving a domain. An exact domain match is
// preferred; otherwise the longest-suffix wildcard entry wins. Entries at
// or past their expiry are absent. Caller holds t.mu.
func (t *Table) lookup(domain, configID string, now time.Time) *Entry {
	if e, ok := t.entries[key(domain, configID)]; ok && !e.expired(now) {
		return e
	}

	var best *Entry
	for _, e := range t.entries {
		if e.ConfigID != configID || e.expired(now) {
			continue
		}
		if !MatchDomain(e.Domain, domain) {
			continue
		}
		if best == nil || len(e.Domain) > len(best.Domain) {
			best = e
		}
	}
	return best
}

// Get returns a copy of the live entry serving the domain, or nil.
func (t *Table) Get(domain, configID string) *Entry {
	now := t.now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	e := t.lookup(domain, configID, now)
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

// Upsert creates or refreshes the binding for (domain, configID) and
// returns a copy of it.
func (t *Table) Upsert(domain, configID, proxyID string, ttl time.Duration) Entry {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(domain, configID)
	e, ok := t.entries[k]
	if !ok || e.expired(now) || e.ProxyID != proxyID {
		e = &Entry{
			ID:       id.NewEntryID(),
			Domain:   domain,
			ConfigID: configID,
			ProxyID:  proxyID,
		}
		t.entries[k] = e
	}
	e.ExpiresAt = now.Add(ttl)
	return *e
}

// Touch increments the request count of the entry serving the domain,
// resolved exactly like Get (so a wildcard entry is touched through any
// domain it covers). A positive refresh extends the expiry to now+refresh
// (TTL-refresh-on-use). Touching a missing or expired entry is a no-op.
func (t *Table) Touch(domain, configID string, refresh time.Duration) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.lookup(domain, configID, now)
	if e == nil {
		return
	}
	e.RequestCount++
	if refresh > 0 {
		e.ExpiresAt = now.Add(refresh)
	}
}

// InvalidateByProxy removes every entry bound to the proxy and returns how
// many were dropped. Called when a proxy leaves the pool.
func (t *Table) InvalidateByProxy(proxyID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for k, e := range t.entries {
		if e.ProxyID == proxyID {
			delete(t.entries, k)
			dropped++
		}
	}
	return dropped
}

// PurgeExpired sweeps entries past their expiry and returns how many were
// removed. Optional housekeeping; reads already ignore expired entries.
func (t *Table) PurgeExpired() int {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for k, e := range t.entries {
		if e.expired(now) {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// MatchDomain reports whether a stored pattern covers the queried domain.
// Only leading-label wildcards are understood: "*.example.com" matches any
// subdomain of example.com but not example.com itself. Custom-rule domain
// conditions share this matcher.
func MatchDomain(pattern, domain string) bool {
	if !strings.HasPrefix(pattern, "*.") {
		return pattern == domain
	}
	suffix := pattern[1:] // ".example.com"
	return len(domain) > len(suffix) && strings.HasSuffix(domain, suffix)
}
