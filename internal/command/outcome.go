package command

import "time"

// Status is the terminal result of a command as seen by its sender.
type Status string

// Command statuses.
const (
	// StatusSuccess means the adapter reported success for our correlation id.
	StatusSuccess Status = "success"

	// StatusFailed means the adapter reported failure for our correlation id.
	StatusFailed Status = "failed"

	// StatusUnknown means no verdict arrived; see Reason.
	StatusUnknown Status = "unknown"
)

// Reason explains an Unknown outcome.
type Reason string

// Unknown reasons.
const (
	ReasonTimeout    Reason = "timeout"
	ReasonSuperseded Reason = "superseded"
	ReasonTeardown   Reason = "teardown"
)

// Outcome is delivered exactly once per sent command.
type Outcome struct {
	CorrelationID string    `json:"correlation_id"`
	DeviceID      string    `json:"device_id"`
	Status        Status    `json:"status"`
	Reason        Reason    `json:"reason,omitempty"`
	ResultStatus  string    `json:"result_status,omitempty"`
	Error         string    `json:"error,omitempty"`
	SentAt        time.Time `json:"sent_at"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

// PendingInfo is the read-only view of a pending command, used for
// optimistic UI: while it exists the UI may show Patch over the device state
// until state newer than BaselineStateVersion arrives.
type PendingInfo struct {
	CorrelationID        string         `json:"correlation_id"`
	DeviceID             string         `json:"device_id"`
	SentAt               time.Time      `json:"sent_at"`
	BaselineStateVersion time.Time      `json:"baseline_state_version,omitzero"`
	Patch                map[string]any `json:"patch"`
	Acknowledged         bool           `json:"acknowledged"`
}
