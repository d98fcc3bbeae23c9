package config

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/orbiterhq/orbiter/engine/types"
)

// StoredConfig is the persisted shape of a rotation config: strategy by
// name, parameters as raw JSON. ParseConfig turns it into the typed model.
type StoredConfig struct {
	ID          string          `json:"id"`
	Strategy    string          `json:"strategy"`
	TargetGroup string          `json:"target_group,omitempty"`
	Priority    int             `json:"priority"`
	Enabled     bool            `json:"enabled"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// ParseConfig validates a stored config and decodes its parameters into the
// typed union. Unknown strategies and malformed parameters are load errors;
// there is no fallback strategy.
func ParseConfig(stored StoredConfig) (*types.RotationConfig, error) {
	strategy := types.Strategy(stored.Strategy)
	if !strategy.Valid() {
		return nil, types.NewStrategyError(stored.ID, "unknown strategy "+stored.Strategy)
	}

	params, err := DecodeParams(stored.ID, strategy, stored.Params)
	if err != nil {
		return nil, err
	}

	return &types.RotationConfig{
		ID:          stored.ID,
		Strategy:    strategy,
		TargetGroup: stored.TargetGroup,
		Priority:    stored.Priority,
		Enabled:     stored.Enabled,
		Params:      params,
	}, nil
}

// DecodeParams decodes and validates raw JSON strategy parameters for one
// strategy. Empty input yields the strategy's zero parameters where legal.
func DecodeParams(configID string, strategy types.Strategy, raw []byte) (types.StrategyParams, error) {
	switch strategy {
	case types.StrategyRoundRobin:
		return types.RoundRobinParams{}, nil
	case types.StrategyRandom:
		return types.RandomParams{}, nil
	case types.StrategyWeighted:
		return types.WeightedParams{}, nil
	case types.StrategyLeastUsed:
		return types.LeastUsedParams{}, nil
	case types.StrategyFastest:
		return types.FastestParams{}, nil
	case types.StrategyFailureAware:
		return types.FailureAwareParams{}, nil
	case types.StrategySticky:
		return decodeStickyParams(configID, raw)
	case types.StrategyGeographic:
		return decodeGeographicParams(configID, raw)
	case types.StrategyTimeBased:
		return decodeTimeBasedParams(configID, raw)
	case types.StrategyCustom:
		return decodeCustomParams(configID, raw)
	default:
		return nil, types.NewStrategyError(configID, "unknown strategy "+string(strategy))
	}
}

type stickyDTO struct {
	TTLSeconds   int    `json:"ttl_seconds"`
	RefreshOnUse bool   `json:"refresh_on_use"`
	Fallback     string `json:"fallback"`
}

func decodeStickyParams(configID string, raw []byte) (types.StrategyParams, error) {
	var dto stickyDTO
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &dto); err != nil {
			return nil, types.NewConfigError(configID, "params", err.Error())
		}
	}
	if dto.TTLSeconds < 0 {
		return nil, types.NewConfigError(configID, "ttl_seconds", "must not be negative")
	}
	fallback, err := subStrategy(configID, "fallback", dto.Fallback)
	if err != nil {
		return nil, err
	}
	return types.StickyParams{
		TTLSeconds:   dto.TTLSeconds,
		RefreshOnUse: dto.RefreshOnUse,
		Fallback:     fallback,
	}, nil
}

type geographicDTO struct {
	Region   string `json:"region"`
	Fallback string `json:"fallback"`
}

func decodeGeographicParams(configID string, raw []byte) (types.StrategyParams, error) {
	var dto geographicDTO
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &dto); err != nil {
			return nil, types.NewConfigError(configID, "params", err.Error())
		}
	}
	fallback, err := subStrategy(configID, "fallback", dto.Fallback)
	if err != nil {
		return nil, err
	}
	return types.GeographicParams{Region: dto.Region, Fallback: fallback}, nil
}

type windowDTO struct {
	Days     []string `json:"days"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Priority int      `json:"priority"`
	Strategy string   `json:"strategy"`
	ProxyID  string   `json:"proxy_id"`
}

type timeBasedDTO struct {
	Windows []windowDTO `json:"windows"`
	Default string      `json:"default"`
}

func decodeTimeBasedParams(configID string, raw []byte) (types.StrategyParams, error) {
	var dto timeBasedDTO
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &dto); err != nil {
			return nil, types.NewConfigError(configID, "params", err.Error())
		}
	}
	if len(dto.Windows) == 0 {
		return nil, types.NewConfigError(configID, "windows", "time-based strategy requires at least one window")
	}

	windows := make([]types.ScheduleWindow, 0, len(dto.Windows))
	for i, w := range dto.Windows {
		parsed, err := parseWindow(configID, i, w)
		if err != nil {
			return nil, err
		}
		windows = append(windows, parsed)
	}
	sortWindows(windows)

	def, err := subStrategy(configID, "default", dto.Default)
	if err != nil {
		return nil, err
	}
	return types.TimeBasedParams{Windows: windows, Default: def}, nil
}

func parseWindow(configID string, idx int, dto windowDTO) (types.ScheduleWindow, error) {
	var w types.ScheduleWindow

	for _, d := range dto.Days {
		day, ok := parseWeekday(d)
		if !ok {
			return w, types.NewConfigError(configID, "windows", "unknown weekday "+d)
		}
		w.Days = append(w.Days, day)
	}

	start, err := parseMinute(dto.Start)
	if err != nil {
		return w, types.NewConfigError(configID, "windows", "bad start time "+dto.Start)
	}
	end, err := parseMinute(dto.End)
	if err != nil {
		return w, types.NewConfigError(configID, "windows", "bad end time "+dto.End)
	}

	w.StartMinute = start
	w.EndMinute = end
	w.Priority = dto.Priority
	w.ProxyID = dto.ProxyID

	if dto.ProxyID == "" {
		sub, serr := subStrategy(configID, "windows", dto.Strategy)
		if serr != nil {
			return w, serr
		}
		w.SubStrategy = sub
	}
	return w, nil
}

type conditionDTO struct {
	Kind    string     `json:"kind"`
	Pattern string     `json:"pattern"`
	Window  *windowDTO `json:"window"`
	Op      string     `json:"op"`
	Value   float64    `json:"value"`
}

type actionDTO struct {
	Kind     string `json:"kind"`
	ProxyID  string `json:"proxy_id"`
	Strategy string `json:"strategy"`
}

type ruleDTO struct {
	Priority    int            `json:"priority"`
	Logic       string         `json:"logic"`
	Conditions  []conditionDTO `json:"conditions"`
	Action      actionDTO      `json:"action"`
	StopOnMatch *bool          `json:"stop_on_match"`
}

type customDTO struct {
	Rules   []ruleDTO `json:"rules"`
	Default string    `json:"default"`
}

func decodeCustomParams(configID string, raw []byte) (types.StrategyParams, error) {
	var dto customDTO
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &dto); err != nil {
			return nil, types.NewConfigError(configID, "params", err.Error())
		}
	}
	if len(dto.Rules) == 0 {
		return nil, types.NewConfigError(configID, "rules", "custom strategy requires at least one rule")
	}

	rules := make([]types.Rule, 0, len(dto.Rules))
	for _, r := range dto.Rules {
		parsed, err := parseRule(configID, r)
		if err != nil {
			return nil, err
		}
		rules = append(rules, parsed)
	}
	sortRules(rules)

	def, err := subStrategy(configID, "default", dto.Default)
	if err != nil {
		return nil, err
	}
	return types.CustomParams{Rules: rules, Default: def}, nil
}

func parseRule(configID string, dto ruleDTO) (types.Rule, error) {
	var rule types.Rule
	rule.Priority = dto.Priority

	switch strings.ToLower(dto.Logic) {
	case "", "and":
		rule.Logic = types.LogicAnd
	case "or":
		rule.Logic = types.LogicOr
	default:
		return rule, types.NewConfigError(configID, "rules", "unknown logic operator "+dto.Logic)
	}

	if len(dto.Conditions) == 0 {
		return rule, types.NewConfigError(configID, "rules", "rule has no conditions")
	}
	for _, c := range dto.Conditions {
		cond, err := parseCondition(configID, c)
		if err != nil {
			return rule, err
		}
		rule.Conditions = append(rule.Conditions, cond)
	}

	action, err := parseAction(configID, dto.Action)
	if err != nil {
		return rule, err
	}
	rule.Action = action

	// stop_on_match defaults to true: most rule lists want first-match-wins.
	rule.StopOnMatch = dto.StopOnMatch == nil || *dto.StopOnMatch
	return rule, nil
}

func parseCondition(configID string, dto conditionDTO) (types.Condition, error) {
	var cond types.Condition
	switch types.ConditionKind(dto.Kind) {
	case types.CondDomain:
		if dto.Pattern == "" {
			return cond, types.NewConfigError(configID, "rules", "domain condition requires a pattern")
		}
		cond.Kind = types.CondDomain
		cond.Pattern = dto.Pattern
	case types.CondTime:
		if dto.Window == nil {
			return cond, types.NewConfigError(configID, "rules", "time condition requires a window")
		}
		w, err := parseWindow(configID, 0, *dto.Window)
		if err != nil {
			return cond, err
		}
		cond.Kind = types.CondTime
		cond.Window = &w
	case types.CondFailureRate:
		op := types.CompareOp(dto.Op)
		switch op {
		case types.OpLT, types.OpLTE, types.OpGT, types.OpGTE:
		default:
			return cond, types.NewConfigError(configID, "rules", "unknown comparison operator "+dto.Op)
		}
		cond.Kind = types.CondFailureRate
		cond.Op = op
		cond.Value = dto.Value
	default:
		return cond, types.NewConfigError(configID, "rules", "unknown condition kind "+dto.Kind)
	}
	return cond, nil
}

func parseAction(configID string, dto actionDTO) (types.RuleAction, error) {
	var action types.RuleAction
	switch types.ActionKind(dto.Kind) {
	case types.ActionSelectProxy:
		if dto.ProxyID == "" {
			return action, types.NewConfigError(configID, "rules", "select_proxy action requires a proxy id")
		}
		action.Kind = types.ActionSelectProxy
		action.ProxyID = dto.ProxyID
	case types.ActionApplyStrategy:
		sub, err := subStrategy(configID, "rules", dto.Strategy)
		if err != nil {
			return action, err
		}
		action.Kind = types.ActionApplyStrategy
		action.SubStrategy = sub
	default:
		return action, types.NewConfigError(configID, "rules", "unknown action kind "+dto.Kind)
	}
	return action, nil
}

// subStrategy resolves an optional sub-strategy name. Empty means the
// weighted default; compound strategies never nest.
func subStrategy(configID, field, name string) (types.Strategy, error) {
	if name == "" {
		return types.StrategyWeighted, nil
	}
	s := types.Strategy(name)
	if !s.Valid() {
		return "", types.NewConfigError(configID, field, "unknown sub-strategy "+name)
	}
	if !s.Simple() {
		return "", types.NewConfigError(configID, field, "sub-strategy "+name+" cannot nest")
	}
	return s, nil
}

func parseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToLower(s) {
	case "sun", "sunday":
		return time.Sunday, true
	case "mon", "monday":
		return time.Monday, true
	case "tue", "tuesday":
		return time.Tuesday, true
	case "wed", "wednesday":
		return time.Wednesday, true
	case "thu", "thursday":
		return time.Thursday, true
	case "fri", "friday":
		return time.Friday, true
	case "sat", "saturday":
		return time.Saturday, true
	}
	return 0, false
}

// parseMinute parses "HH:MM" into minutes since midnight.
func parseMinute(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Stable descending priority; stored order breaks ties.
func sortWindows(windows []types.ScheduleWindow) {
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Priority > windows[j].Priority
	})
}

func sortRules(rules []types.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}
