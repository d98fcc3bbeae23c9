/*
Package types defines the shared data model for the proxy rotation engine.

# Overview

This package carries the types that cross package boundaries: proxy
snapshots, rotation configuration with strongly-typed strategy parameters,
rotation events, and the engine's error kinds. It has no behavior beyond
validation and holds no mutable state.

# Strategy Parameters

Strategy parameters form a tagged union: every rotation strategy has its own
parameter struct implementing StrategyParams, and selection code dispatches
on the concrete type. A RotationConfig whose Strategy does not match its
Params is rejected at the config-load boundary, never silently defaulted.

# Errors

Error kinds are sentinel errors plus structured wrappers:

	types.ErrNoAvailableProxy  - pool empty after health/region filtering
	types.ErrRateLimitExceeded - denied by a budget; carries the wait hint
	types.ErrCircuitOpen       - an explicitly targeted proxy is open
	types.ErrInvalidStrategy   - unknown strategy name
	types.ErrInvalidConfig     - malformed strategy parameters

Callers match with errors.Is and pull details with errors.As.
*/
package types
