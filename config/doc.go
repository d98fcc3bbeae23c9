/*
Package config is the load boundary between persisted rotation
configuration and the engine's typed model.

# Overview

The external store persists strategy parameters as JSON text. This package
parses and validates that text exactly once, producing the strongly-typed
parameter structs and rule ASTs from the types package; selection code never
re-parses raw text per call. Malformed parameters fail loudly at load with
types.ErrInvalidConfig or types.ErrInvalidStrategy and are never replaced
with a default strategy.

The package also carries engine-wide defaults loaded from environment
variables (ORBITER_* keys) and a YAML file-backed provider implementing the
rotation engine's ConfigProvider and ProxyPoolProvider interfaces for
embedding and tests.
*/
package config
