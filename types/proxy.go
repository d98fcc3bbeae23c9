package types

// ProxyStatus represents the lifecycle state of a proxy as reported by the
// external configuration store.
type ProxyStatus string

const (
	ProxyActive   ProxyStatus = "active"
	ProxyFailed   ProxyStatus = "failed"
	ProxyChecking ProxyStatus = "checking"
	ProxyDisabled ProxyStatus = "disabled"
)

// Proxy is a read-only snapshot of a candidate proxy. The engine never
// persists proxies; it consumes one snapshot per selection call.
type Proxy struct {
	ID            string      `json:"id"`
	Weight        float64     `json:"weight"`
	RotationGroup string      `json:"rotation_group,omitempty"`
	Region        string      `json:"region,omitempty"`
	Status        ProxyStatus `json:"status"`
	LatencyMs     *float64    `json:"latency_ms,omitempty"`
	SuccessRate   float64     `json:"success_rate"`
}

// DefaultWeight is assigned by config loaders when the store provides no
// weight for a proxy. A stored weight of exactly zero is honored: such a
// proxy is never chosen by weighted strategies.
const DefaultWeight = 1.0

// EffectiveWeight returns the proxy weight clamped to [0, 100].
func (p *Proxy) EffectiveWeight() float64 {
	return ClampWeight(p.Weight)
}

// ClampWeight bounds a raw weight to the [0, 100] range accepted by the
// weighted strategies. Negative weights collapse to zero, which excludes the
// proxy from weighted draws entirely.
func ClampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 100 {
		return 100
	}
	return w
}
