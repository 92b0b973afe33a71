package hdp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeviceSnapshot is one row of a full device list: metadata and the last
// known state combined. It is the shape served by the REST fallback and
// persisted for warm start.
type DeviceSnapshot struct {
	DeviceID     string         `json:"device_id"`
	Protocol     string         `json:"protocol,omitempty"`
	ExternalID   string         `json:"external_id,omitempty"`
	Name         string         `json:"name,omitempty"`
	Manufacturer string         `json:"manufacturer,omitempty"`
	Model        string         `json:"model,omitempty"`
	Description  string         `json:"description,omitempty"`
	Icon         string         `json:"icon,omitempty"`
	Firmware     string         `json:"firmware,omitempty"`
	Capabilities []Capability   `json:"capabilities,omitempty"`
	Inputs       []Input        `json:"inputs,omitempty"`
	Online       *bool          `json:"online,omitempty"`
	LastSeen     Millis         `json:"last_seen,omitempty"`
	State        map[string]any `json:"state,omitempty"`
	StateTS      Millis         `json:"state_ts,omitempty"`

	// HasMetadata is false for rows that only ever carried state.
	HasMetadata bool `json:"has_metadata,omitempty"`
}

// UnmarshalJSON accepts "id" as an alias of "device_id".
func (s *DeviceSnapshot) UnmarshalJSON(b []byte) error {
	type plain DeviceSnapshot
	var w struct {
		plain
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = DeviceSnapshot(w.plain)
	if s.DeviceID == "" {
		s.DeviceID = w.ID
	}
	s.DeviceID = strings.Trim(strings.TrimSpace(s.DeviceID), "/")
	if !s.HasMetadata {
		s.HasMetadata = s.Name != "" || len(s.Capabilities) > 0 || s.Manufacturer != "" || s.Model != ""
	}
	return nil
}

// Metadata returns the descriptive half of the row as a Metadata message.
func (s DeviceSnapshot) Metadata(now time.Time) Metadata {
	protocol := strings.ToLower(s.Protocol)
	external := s.ExternalID
	if protocol == "" || external == "" {
		p, e := SplitID(s.DeviceID)
		if protocol == "" {
			protocol = p
		}
		if external == "" {
			external = e
		}
	}
	return Metadata{
		DeviceID:     s.DeviceID,
		Protocol:     protocol,
		ExternalID:   external,
		Name:         s.Name,
		Manufacturer: s.Manufacturer,
		Model:        s.Model,
		Description:  s.Description,
		Icon:         s.Icon,
		Firmware:     s.Firmware,
		Capabilities: s.Capabilities,
		Inputs:       s.Inputs,
		Online:       s.Online,
		LastSeen:     s.LastSeen.TimeOrZero(),
		TS:           s.LastSeen.Time(now),
	}
}

// StateMessage returns the state half of the row, timestamped with state_ts,
// then last_seen, then now.
func (s DeviceSnapshot) StateMessage(now time.Time) State {
	ts := s.StateTS
	if ts <= 0 {
		ts = s.LastSeen
	}
	return State{
		DeviceID: s.DeviceID,
		State:    s.State,
		TS:       ts.Time(now),
	}
}

// DecodeSnapshots parses a JSON array of device rows. A {"devices": [...]}
// wrapper is also accepted.
func DecodeSnapshots(b []byte) ([]DeviceSnapshot, error) {
	var rows []DeviceSnapshot
	if err := json.Unmarshal(b, &rows); err == nil {
		return rows, nil
	}

	var wrapped struct {
		Devices []DeviceSnapshot `json:"devices"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return wrapped.Devices, nil
}
