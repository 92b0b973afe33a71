package hdp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Commands the hub issues.
const (
	CommandSetState = "set_state"
	CommandRefresh  = "refresh"
)

// Command is the outbound command envelope.
type Command struct {
	Schema   string         `json:"schema"`
	Type     string         `json:"type"`
	DeviceID string         `json:"device_id"`
	Command  string         `json:"command"`
	Args     map[string]any `json:"args,omitempty"`
	Corr     string         `json:"corr,omitempty"`
	TS       int64          `json:"ts"`

	// Refresh selectors.
	Metadata   *bool    `json:"metadata,omitempty"`
	State      *bool    `json:"state,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

// NewSetState builds a set_state command carrying patch as args.
func NewSetState(deviceID, corr string, patch map[string]any, now time.Time) Command {
	return Command{
		Schema:   Schema,
		Type:     "command",
		DeviceID: deviceID,
		Command:  CommandSetState,
		Args:     patch,
		Corr:     corr,
		TS:       now.UnixMilli(),
	}
}

// NewRefresh asks the adapter to republish a device's metadata and/or state.
// An empty properties list means all of them.
func NewRefresh(deviceID string, metadata, state bool, properties []string, now time.Time) Command {
	return Command{
		Schema:     Schema,
		Type:       "command",
		DeviceID:   deviceID,
		Command:    CommandRefresh,
		TS:         now.UnixMilli(),
		Metadata:   &metadata,
		State:      &state,
		Properties: properties,
	}
}

// Encode serialises the envelope.
func (c Command) Encode() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding command for %s: %w", c.DeviceID, err)
	}
	return b, nil
}
