package device

import (
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
)

// Descriptor types are defined by the wire format and shared unchanged.
type (
	Capability       = hdp.Capability
	CapabilityAccess = hdp.CapabilityAccess
	Range            = hdp.Range
	Input            = hdp.Input
	InputOption      = hdp.InputOption
)

// Record is the canonical view of one device: descriptive metadata merged
// with the latest accepted state.
//
// A Record exists only once metadata or state has been received for it.
// StateUpdatedAt never decreases.
type Record struct {
	// Identity ("protocol/external")
	ID         string `json:"id"`
	Protocol   string `json:"protocol"`
	ExternalID string `json:"external_id"`

	// Descriptor
	Name         string       `json:"name"`
	Manufacturer string       `json:"manufacturer,omitempty"`
	Model        string       `json:"model,omitempty"`
	Description  string       `json:"description,omitempty"`
	Icon         string       `json:"icon,omitempty"`
	Firmware     string       `json:"firmware,omitempty"`
	Capabilities []Capability `json:"capabilities"`
	Inputs       []Input      `json:"inputs"`

	// Current state
	State             map[string]any `json:"state"`
	StateUpdatedAt    time.Time      `json:"state_updated_at,omitzero"`
	MetadataUpdatedAt time.Time      `json:"metadata_updated_at,omitzero"`

	// Health
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen,omitzero"`

	LastCommandResult *CommandResult `json:"last_command_result,omitempty"`
	HasMetadata       bool           `json:"has_metadata"`
}

// CommandResult is the last command result reported for a device.
type CommandResult struct {
	Corr    string    `json:"corr"`
	Success bool      `json:"success"`
	Status  string    `json:"status,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Visible reports whether the record belongs in the exposed device list.
func (r *Record) Visible() bool {
	return r.HasMetadata || len(r.State) > 0
}

// DeepCopy creates a complete independent copy of the Record.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original.
func (r *Record) DeepCopy() *Record {
	if r == nil {
		return nil
	}

	cpy := *r

	cpy.State = deepCopyMap(r.State)

	if r.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(r.Capabilities))
		for i, c := range r.Capabilities {
			if c.Enum != nil {
				c.Enum = append([]string(nil), c.Enum...)
			}
			if c.Range != nil {
				rng := *c.Range
				c.Range = &rng
			}
			cpy.Capabilities[i] = c
		}
	}

	if r.Inputs != nil {
		cpy.Inputs = make([]Input, len(r.Inputs))
		for i, in := range r.Inputs {
			if in.Options != nil {
				in.Options = append([]InputOption(nil), in.Options...)
			}
			if in.Range != nil {
				rng := *in.Range
				in.Range = &rng
			}
			in.Metadata = deepCopyMap(in.Metadata)
			cpy.Inputs[i] = in
		}
	}

	if r.LastCommandResult != nil {
		res := *r.LastCommandResult
		cpy.LastCommandResult = &res
	}

	return &cpy
}

// Snapshot converts the record to the persisted device-list row.
func (r *Record) Snapshot() hdp.DeviceSnapshot {
	online := r.Online
	snap := hdp.DeviceSnapshot{
		DeviceID:     r.ID,
		Protocol:     r.Protocol,
		ExternalID:   r.ExternalID,
		Name:         r.Name,
		Manufacturer: r.Manufacturer,
		Model:        r.Model,
		Description:  r.Description,
		Icon:         r.Icon,
		Firmware:     r.Firmware,
		Capabilities: r.Capabilities,
		Inputs:       r.Inputs,
		Online:       &online,
		State:        deepCopyMap(r.State),
		HasMetadata:  r.HasMetadata,
	}
	if !r.LastSeen.IsZero() {
		snap.LastSeen = hdp.Millis(r.LastSeen.UnixMilli())
	}
	if !r.StateUpdatedAt.IsZero() {
		snap.StateTS = hdp.Millis(r.StateUpdatedAt.UnixMilli())
	}
	return snap
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}
