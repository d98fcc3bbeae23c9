package selector

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/orbiterhq/orbiter/engine/types"
)

// nextRoundRobin advances the group's monotonic cursor. The cursor is a
// lock-free atomic, so N concurrent callers over M healthy proxies spread
// evenly.
func (s *Selector) nextRoundRobin(healthy []types.Proxy, cfg *types.RotationConfig) (result, error) {
	cursor := s.cursor(cfg.TargetGroup)
	idx := (cursor.Add(1) - 1) % uint64(len(healthy))
	return result{proxy: healthy[idx], reason: types.ReasonScheduled}, nil
}

func (s *Selector) cursor(targetGroup string) *atomic.Uint64 {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	c, ok := s.cursors[targetGroup]
	if !ok {
		c = &atomic.Uint64{}
		s.cursors[targetGroup] = c
	}
	return c
}

// nextRandom picks uniformly over the healthy pool.
func (s *Selector) nextRandom(healthy []types.Proxy) (result, error) {
	s.rngMu.Lock()
	idx := s.rng.IntN(len(healthy))
	s.rngMu.Unlock()
	return result{proxy: healthy[idx], reason: types.ReasonScheduled}, nil
}

// nextWeighted draws proportionally to clamped weights. A zero-weight proxy
// is never drawn; an all-zero pool degrades to a uniform pick.
func (s *Selector) nextWeighted(healthy []types.Proxy) (result, error) {
	weights := make([]float64, len(healthy))
	for i, p := range healthy {
		weights[i] = p.EffectiveWeight()
	}
	return s.drawWeighted(healthy, weights)
}

// nextFailureAware is weighted selection with the recent success rate
// folded into each weight.
func (s *Selector) nextFailureAware(healthy []types.Proxy) (result, error) {
	weights := make([]float64, len(healthy))
	for i, p := range healthy {
		rate := p.SuccessRate
		if rate < 0 {
			rate = 0
		} else if rate > 100 {
			rate = 100
		}
		weights[i] = p.EffectiveWeight() * rate / 100
	}
	return s.drawWeighted(healthy, weights)
}

func (s *Selector) drawWeighted(healthy []types.Proxy, weights []float64) (result, error) {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return s.nextRandom(healthy)
	}

	s.rngMu.Lock()
	sampler := sampleuv.NewWeighted(weights, s.src)
	idx, ok := sampler.Take()
	s.rngMu.Unlock()
	if !ok {
		return s.nextRandom(healthy)
	}
	return result{proxy: healthy[idx], reason: types.ReasonScheduled}, nil
}

// nextLeastUsed picks the proxy with the smallest cumulative request count.
// Ties break on ascending proxy id for determinism.
func (s *Selector) nextLeastUsed(healthy []types.Proxy) (result, error) {
	best := healthy[0]
	bestCount := s.requestCount(best.ID)
	for _, p := range healthy[1:] {
		count := s.requestCount(p.ID)
		if count < bestCount || (count == bestCount && p.ID < best.ID) {
			best = p
			bestCount = count
		}
	}
	return result{proxy: best, reason: types.ReasonScheduled}, nil
}

func (s *Selector) requestCount(proxyID string) int64 {
	if s.usage == nil {
		return 0
	}
	return s.usage.RequestCount(proxyID)
}

// nextFastest picks the lowest measured latency. Unknown latency counts as
// +Inf, so unmeasured proxies lose to any measured one; a fully unmeasured
// pool falls back to ascending proxy id. Ties break on ascending id.
func (s *Selector) nextFastest(healthy []types.Proxy) (result, error) {
	best := healthy[0]
	bestLatency := latencyOf(best)
	for _, p := range healthy[1:] {
		latency := latencyOf(p)
		if latency < bestLatency || (latency == bestLatency && p.ID < best.ID) {
			best = p
			bestLatency = latency
		}
	}
	return result{proxy: best, reason: types.ReasonScheduled}, nil
}

func latencyOf(p types.Proxy) float64 {
	if p.LatencyMs == nil {
		return math.Inf(1)
	}
	return *p.LatencyMs
}
