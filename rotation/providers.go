package rotation

import "github.com/orbiterhq/orbiter/engine/types"

// ConfigProvider serves the active rotation config per target group. Backed
// by the external configuration store; config.FileProvider is the built-in
// static implementation.
type ConfigProvider interface {
	// ActiveConfig returns the enabled config for the group, or nil when
	// the group has none.
	ActiveConfig(targetGroup string) (*types.RotationConfig, error)
}

// ProxyPoolProvider serves a live snapshot of selectable proxies per target
// group, already narrowed to enabled ones.
type ProxyPoolProvider interface {
	ListEnabled(targetGroup string) ([]types.Proxy, error)
}

// UsageStatsSink receives per-request outcomes. Fire-and-forget: the
// coordinator never blocks on it and ignores nothing it returns, because it
// returns nothing.
type UsageStatsSink interface {
	RecordOutcome(proxyID string, success bool, latencyMs float64, bytes int64)
}

// RotationEventSink receives rotation events. Fire-and-forget; delivery is
// asynchronous and events are dropped rather than ever stalling selection.
type RotationEventSink interface {
	Record(event types.RotationEvent)
}
