package types

import "time"

// ScheduleWindow is one time-of-day/day-of-week window of a time-based
// schedule. Minutes are counted since local midnight; a window whose end is
// not after its start wraps past midnight.
type ScheduleWindow struct {
	Days        []time.Weekday
	StartMinute int
	EndMinute   int
	Priority    int
	// SubStrategy applies while the window is active. Ignored when
	// ProxyID pins an explicit proxy.
	SubStrategy Strategy
	// ProxyID pins selection to one proxy while the window is active.
	ProxyID string
}

// Contains reports whether t falls inside the window.
func (w *ScheduleWindow) Contains(t time.Time) bool {
	if len(w.Days) > 0 {
		day := t.Weekday()
		found := false
		for _, d := range w.Days {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	minute := t.Hour()*60 + t.Minute()
	if w.StartMinute < w.EndMinute {
		return minute >= w.StartMinute && minute < w.EndMinute
	}
	// wraps midnight
	return minute >= w.StartMinute || minute < w.EndMinute
}

// ConditionKind discriminates custom-rule conditions.
type ConditionKind string

const (
	CondDomain      ConditionKind = "domain"
	CondTime        ConditionKind = "time"
	CondFailureRate ConditionKind = "failure_rate"
)

// CompareOp is the comparison applied by failure-rate conditions.
type CompareOp string

const (
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
)

// Compare applies the operator to (have, want).
func (op CompareOp) Compare(have, want float64) bool {
	switch op {
	case OpLT:
		return have < want
	case OpLTE:
		return have <= want
	case OpGT:
		return have > want
	case OpGTE:
		return have >= want
	default:
		return false
	}
}

// LogicOp combines the conditions of a rule.
type LogicOp string

const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
)

// Condition is one predicate of a custom rule. Exactly the fields relevant
// to Kind are set; the config loader validates the rest are empty.
type Condition struct {
	Kind ConditionKind

	// CondDomain: wildcard-aware pattern, e.g. "*.example.com".
	Pattern string

	// CondTime: the window the current time must fall into.
	Window *ScheduleWindow

	// CondFailureRate: comparison against the failure rate (0-100) of the
	// group's previously selected proxy.
	Op    CompareOp
	Value float64
}

// ActionKind discriminates custom-rule actions.
type ActionKind string

const (
	ActionSelectProxy   ActionKind = "select_proxy"
	ActionApplyStrategy ActionKind = "apply_strategy"
)

// RuleAction is what a matched rule does.
type RuleAction struct {
	Kind ActionKind
	// ActionSelectProxy: the pinned proxy id.
	ProxyID string
	// ActionApplyStrategy: a simple sub-strategy.
	SubStrategy Strategy
}

// Rule is one entry of a custom-strategy rule list, parsed and validated
// once at the config-load boundary.
type Rule struct {
	Priority   int
	Logic      LogicOp
	Conditions []Condition
	Action     RuleAction
	// StopOnMatch stops rule evaluation after this rule fires. When
	// false, later rules are still evaluated (their matches are logged)
	// but the first firing action stands.
	StopOnMatch bool
}
