package types

// Strategy identifies a rotation strategy.
type Strategy string

const (
	StrategyRoundRobin    Strategy = "round-robin"
	StrategyRandom        Strategy = "random"
	StrategyLeastUsed     Strategy = "least-used"
	StrategyFastest       Strategy = "fastest"
	StrategySticky        Strategy = "sticky-session"
	StrategyGeographic    Strategy = "geographic"
	StrategyFailureAware  Strategy = "failure-aware"
	StrategyTimeBased     Strategy = "time-based"
	StrategyWeighted      Strategy = "weighted"
	StrategyCustom        Strategy = "custom"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastUsed,
		StrategyFastest, StrategySticky, StrategyGeographic,
		StrategyFailureAware, StrategyTimeBased, StrategyWeighted,
		StrategyCustom:
		return true
	}
	return false
}

// Simple reports whether s is a leaf strategy usable as a sub-strategy of
// sticky-session, geographic, time-based and custom configs. Compound
// strategies never nest.
func (s Strategy) Simple() bool {
	switch s {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastUsed,
		StrategyFastest, StrategyFailureAware, StrategyWeighted:
		return true
	}
	return false
}

// StrategyParams is the tagged union of per-strategy parameters. Each
// strategy carries its own struct; selection dispatches on the concrete
// type, so a config whose Params disagree with its Strategy cannot slip
// through dispatch.
type StrategyParams interface {
	Strategy() Strategy
}

// RotationConfig is the active rotation policy for one target group. The
// external store guarantees at most one active config per group; the engine
// assumes it as a read-time precondition.
type RotationConfig struct {
	ID          string
	Strategy    Strategy
	TargetGroup string
	Priority    int
	Enabled     bool
	Params      StrategyParams
}

// RoundRobinParams configures the round-robin strategy. The cursor is keyed
// by target group, so it needs no parameters of its own.
type RoundRobinParams struct{}

func (RoundRobinParams) Strategy() Strategy { return StrategyRoundRobin }

// RandomParams configures the random strategy.
type RandomParams struct{}

func (RandomParams) Strategy() Strategy { return StrategyRandom }

// WeightedParams configures the weighted strategy. Weights always come from
// the proxy snapshots themselves.
type WeightedParams struct{}

func (WeightedParams) Strategy() Strategy { return StrategyWeighted }

// LeastUsedParams configures the least-used strategy.
type LeastUsedParams struct{}

func (LeastUsedParams) Strategy() Strategy { return StrategyLeastUsed }

// FastestParams configures the fastest strategy.
type FastestParams struct{}

func (FastestParams) Strategy() Strategy { return StrategyFastest }

// FailureAwareParams configures the failure-aware strategy, which folds the
// recent success rate into the proxy weight.
type FailureAwareParams struct{}

func (FailureAwareParams) Strategy() Strategy { return StrategyFailureAware }

// StickyParams configures sticky-session affinity.
type StickyParams struct {
	// TTLSeconds bounds the lifetime of a domain->proxy binding.
	TTLSeconds int
	// RefreshOnUse extends ExpiresAt on every reuse of a live binding.
	RefreshOnUse bool
	// Fallback selects a proxy when no live binding exists. Must be a
	// simple strategy; defaults to weighted.
	Fallback Strategy
}

func (StickyParams) Strategy() Strategy { return StrategySticky }

// GeographicParams configures region-constrained selection.
type GeographicParams struct {
	// Region overrides the per-call region when set.
	Region string
	// Fallback is the sub-strategy applied inside the region. Must be a
	// simple strategy; defaults to weighted.
	Fallback Strategy
}

func (GeographicParams) Strategy() Strategy { return StrategyGeographic }

// TimeBasedParams holds the schedule evaluated on every selection.
type TimeBasedParams struct {
	// Windows are evaluated in descending priority; the first window
	// containing the current time wins.
	Windows []ScheduleWindow
	// Default applies when no window matches. Must be a simple strategy;
	// defaults to weighted.
	Default Strategy
}

func (TimeBasedParams) Strategy() Strategy { return StrategyTimeBased }

// CustomParams holds the rule list evaluated on every selection.
type CustomParams struct {
	// Rules are evaluated in descending priority; the first rule whose
	// conditions hold fires its action.
	Rules []Rule
	// Default applies when no rule fires. Must be a simple strategy;
	// defaults to weighted.
	Default Strategy
}

func (CustomParams) Strategy() Strategy { return StrategyCustom }
