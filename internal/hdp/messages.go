package hdp

import "time"

// Schema is the HDP version stamped on outbound envelopes.
const Schema = "hdp.v1"

// Message is one decoded inbound HDP message.
//
// The concrete type is one of Metadata, State, Event, CommandResult,
// PairingProgress or ParseError; consumers switch on it.
type Message interface {
	Channel() Channel
	isMessage()
}

// Capability describes one controllable or observable device property.
type Capability struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Kind        string           `json:"kind"`
	Property    string           `json:"property"`
	ValueType   string           `json:"value_type"`
	Unit        string           `json:"unit,omitempty"`
	DeviceClass string           `json:"device_class,omitempty"`
	Access      CapabilityAccess `json:"access"`
	Description string           `json:"description,omitempty"`
	Range       *Range           `json:"range,omitempty"`
	Enum        []string         `json:"enum,omitempty"`
}

// CapabilityAccess flags what a capability supports.
type CapabilityAccess struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	Event bool `json:"event"`
}

// Range bounds a numeric capability.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

// Input is a UI control hint bound to a capability.
type Input struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	Type         string         `json:"type"` // toggle, slider, select, color, numeric
	CapabilityID string         `json:"capability_id"`
	Property     string         `json:"property"`
	Range        *Range         `json:"range,omitempty"`
	Options      []InputOption  `json:"options,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// InputOption is one choice of a select input.
type InputOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Metadata carries the descriptive part of a device.
//
// Metadata is a partial update: empty strings and nil slices mean the
// publisher did not send the field. An empty non-nil slice clears it.
type Metadata struct {
	DeviceID     string
	Protocol     string
	ExternalID   string
	Name         string
	Manufacturer string
	Model        string
	Description  string
	Icon         string
	Firmware     string
	Capabilities []Capability
	Inputs       []Input
	Online       *bool     // nil when the publisher did not say
	LastSeen     time.Time // zero when absent
	TS           time.Time
}

// State is a full replacement of a device's state map.
type State struct {
	DeviceID string
	State    map[string]any
	TS       time.Time
	Corr     string
}

// EventKind classifies lifecycle events.
type EventKind string

// Event kinds.
const (
	EventRemoved EventKind = "removed"
	EventUpsert  EventKind = "upsert"
	EventOther   EventKind = "other"
)

// Event is a device lifecycle notification.
type Event struct {
	DeviceID string
	Kind     EventKind
	Name     string // raw event name from the payload
	TS       time.Time

	// Metadata is set for upserts that carry descriptor data.
	Metadata *Metadata
}

// CommandResult reports the outcome of a previously sent command.
type CommandResult struct {
	DeviceID string
	Corr     string
	Success  bool
	Status   string
	Error    string
	TS       time.Time
}

// PairingMetadata is the optional descriptor attached to pairing progress.
type PairingMetadata struct {
	Name         string `json:"name,omitempty"`
	Icon         string `json:"icon,omitempty"`
	Description  string `json:"description,omitempty"`
	Type         string `json:"type,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
}

// PairingProgress reports a pairing stage for one protocol.
type PairingProgress struct {
	Protocol   string
	Stage      string
	Status     string
	ExternalID string
	DeviceID   string
	Metadata   PairingMetadata
	TS         time.Time
}

// ParseError stands in for any message that could not be decoded.
type ParseError struct {
	Topic string
	Err   error
}

func (Metadata) Channel() Channel        { return ChannelMetadata }
func (State) Channel() Channel           { return ChannelState }
func (Event) Channel() Channel           { return ChannelEvent }
func (CommandResult) Channel() Channel   { return ChannelCommandResult }
func (PairingProgress) Channel() Channel { return ChannelPairingProgress }
func (ParseError) Channel() Channel      { return ChannelUnknown }

func (Metadata) isMessage()        {}
func (State) isMessage()           {}
func (Event) isMessage()           {}
func (CommandResult) isMessage()   {}
func (PairingProgress) isMessage() {}
func (ParseError) isMessage()      {}

func (e ParseError) Error() string {
	if e.Err == nil {
		return "hdp: parse error on " + e.Topic
	}
	return e.Err.Error() + " (topic " + e.Topic + ")"
}

func (e ParseError) Unwrap() error { return e.Err }
