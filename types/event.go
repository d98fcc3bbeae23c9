package types

import "time"

// RotationReason explains why the engine moved traffic to a different proxy.
type RotationReason string

const (
	ReasonScheduled     RotationReason = "scheduled"
	ReasonFailure       RotationReason = "failure"
	ReasonManual        RotationReason = "manual"
	ReasonStartup       RotationReason = "startup"
	ReasonRuleTriggered RotationReason = "rule_triggered"
	ReasonTTLExpired    RotationReason = "ttl_expired"
	ReasonCooldown      RotationReason = "cooldown"
)

// RotationEvent records one proxy change. Events are write-only output: the
// engine emits them to an external sink and never reads them back.
type RotationEvent struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	PreviousProxyID string         `json:"previous_proxy_id,omitempty"`
	NewProxyID      string         `json:"new_proxy_id"`
	Reason          RotationReason `json:"reason"`
	Domain          string         `json:"domain,omitempty"`
	ConfigID        string         `json:"config_id,omitempty"`
}
