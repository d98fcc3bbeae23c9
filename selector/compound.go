package selector

import (
	"time"

	"go.uber.org/zap"

	"github.com/orbiterhq/orbiter/engine/sticky"
	"github.com/orbiterhq/orbiter/engine/types"
)

// nextSticky serves a live domain binding when its proxy is still usable,
// and otherwise falls back to the configured sub-strategy and writes a
// fresh binding.
func (s *Selector) nextSticky(healthy []types.Proxy, cfg *types.RotationConfig, params types.StickyParams, sctx Context) (result, error) {
	if sctx.Domain == "" {
		return result{}, types.NewConfigError(cfg.ID, "domain", "sticky-session selection requires a domain")
	}
	if s.table == nil {
		return result{}, types.NewConfigError(cfg.ID, "sticky", "sticky-session selection requires a session table")
	}

	ttl := s.stickyTTL
	if params.TTLSeconds > 0 {
		ttl = time.Duration(params.TTLSeconds) * time.Second
	}

	if entry := s.table.Get(sctx.Domain, cfg.ID); entry != nil {
		for _, p := range healthy {
			if p.ID == entry.ProxyID {
				refresh := time.Duration(0)
				if params.RefreshOnUse {
					refresh = ttl
				}
				s.table.Touch(sctx.Domain, cfg.ID, refresh)
				s.recordSticky(true)
				return result{proxy: p, stickyReuse: true}, nil
			}
		}
		// bound proxy no longer usable; drop every binding it holds
		s.table.InvalidateByProxy(entry.ProxyID)
	}
	s.recordSticky(false)

	res, err := s.subDispatch(params.Fallback, healthy, cfg)
	if err != nil {
		return result{}, err
	}
	s.table.Upsert(sctx.Domain, cfg.ID, res.proxy.ID, ttl)
	res.reason = types.ReasonTTLExpired
	return res, nil
}

func (s *Selector) recordSticky(hit bool) {
	if s.metrics != nil {
		s.metrics.RecordStickyLookup(hit)
	}
}

// nextGeographic narrows the pool to one region before applying the
// sub-strategy. A region with no candidates is an error, never a silent
// widening of the constraint.
func (s *Selector) nextGeographic(healthy []types.Proxy, cfg *types.RotationConfig, params types.GeographicParams, sctx Context) (result, error) {
	region := params.Region
	if region == "" {
		region = sctx.Region
	}
	if region == "" {
		return result{}, types.NewConfigError(cfg.ID, "region", "geographic selection requires a region")
	}

	regional := make([]types.Proxy, 0, len(healthy))
	for _, p := range healthy {
		if p.Region == region {
			regional = append(regional, p)
		}
	}
	if len(regional) == 0 {
		return result{}, &types.NoProxyError{TargetGroup: cfg.TargetGroup, Region: region, PoolSize: len(healthy)}
	}
	return s.subDispatch(params.Fallback, regional, cfg)
}

// nextTimeBased evaluates schedule windows in priority order; the first
// window containing the current time wins.
func (s *Selector) nextTimeBased(healthy, pool []types.Proxy, cfg *types.RotationConfig, params types.TimeBasedParams) (result, error) {
	now := s.now()
	for i := range params.Windows {
		w := &params.Windows[i]
		if !w.Contains(now) {
			continue
		}
		if w.ProxyID != "" {
			proxy, err := s.pinned(w.ProxyID, healthy, pool, cfg)
			if err != nil {
				return result{}, err
			}
			return result{proxy: proxy, reason: types.ReasonScheduled}, nil
		}
		return s.subDispatch(w.SubStrategy, healthy, cfg)
	}
	return s.subDispatch(params.Default, healthy, cfg)
}

// nextCustom evaluates the rule list in priority order. The first rule
// whose conditions hold fires its action; with StopOnMatch off, later
// matches are still evaluated and logged, but the first action stands.
func (s *Selector) nextCustom(healthy, pool []types.Proxy, cfg *types.RotationConfig, params types.CustomParams, sctx Context) (result, error) {
	var fired *types.Rule
	for i := range params.Rules {
		rule := &params.Rules[i]
		if !s.ruleMatches(rule, pool, cfg, sctx) {
			continue
		}
		if fired == nil {
			fired = rule
			if rule.StopOnMatch {
				break
			}
			continue
		}
		s.logger.Debug("custom rule matched after action already chosen",
			zap.String("config_id", cfg.ID),
			zap.Int("priority", rule.Priority),
			zap.String("domain", sctx.Domain))
	}

	if fired == nil {
		return s.subDispatch(params.Default, healthy, cfg)
	}

	switch fired.Action.Kind {
	case types.ActionSelectProxy:
		proxy, err := s.pinned(fired.Action.ProxyID, healthy, pool, cfg)
		if err != nil {
			return result{}, err
		}
		return result{proxy: proxy, reason: types.ReasonRuleTriggered}, nil
	case types.ActionApplyStrategy:
		res, err := s.subDispatch(fired.Action.SubStrategy, healthy, cfg)
		if err != nil {
			return result{}, err
		}
		res.reason = types.ReasonRuleTriggered
		return res, nil
	default:
		return result{}, types.NewConfigError(cfg.ID, "rules", "unhandled action kind")
	}
}

func (s *Selector) ruleMatches(rule *types.Rule, pool []types.Proxy, cfg *types.RotationConfig, sctx Context) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	for i := range rule.Conditions {
		ok := s.conditionHolds(&rule.Conditions[i], pool, cfg, sctx)
		if rule.Logic == types.LogicOr && ok {
			return true
		}
		if rule.Logic != types.LogicOr && !ok {
			return false
		}
	}
	return rule.Logic != types.LogicOr
}

func (s *Selector) conditionHolds(cond *types.Condition, pool []types.Proxy, cfg *types.RotationConfig, sctx Context) bool {
	switch cond.Kind {
	case types.CondDomain:
		return sctx.Domain != "" && sticky.MatchDomain(cond.Pattern, sctx.Domain)
	case types.CondTime:
		return cond.Window != nil && cond.Window.Contains(s.now())
	case types.CondFailureRate:
		// evaluated against the group's previously selected proxy
		s.lastMu.Lock()
		prev, seen := s.last[cfg.TargetGroup]
		s.lastMu.Unlock()
		if !seen {
			return false
		}
		for _, p := range pool {
			if p.ID == prev {
				return cond.Op.Compare(100-p.SuccessRate, cond.Value)
			}
		}
		return false
	default:
		return false
	}
}
