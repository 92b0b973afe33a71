package hdp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Wire shapes. Unknown fields are ignored; schema and type are accepted but
// not required since older publishers omit them.

type envelope struct {
	Schema   string `json:"schema"`
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
	TS       Millis `json:"ts"`
}

type metadataWire struct {
	envelope
	Protocol     string       `json:"protocol"`
	ExternalID   string       `json:"external_id"`
	Name         string       `json:"name"`
	Manufacturer string       `json:"manufacturer"`
	Model        string       `json:"model"`
	Description  string       `json:"description"`
	Icon         string       `json:"icon"`
	Firmware     string       `json:"firmware"`
	Capabilities []Capability `json:"capabilities"`
	Inputs       []Input      `json:"inputs"`
	Online       *bool        `json:"online"`
	LastSeen     Millis       `json:"last_seen"`
}

type stateWire struct {
	envelope
	State map[string]any `json:"state"`
	Corr  string         `json:"corr"`
}

type eventWire struct {
	envelope
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type commandResultWire struct {
	envelope
	Corr          string `json:"corr"`
	CorrelationID string `json:"correlation_id"`
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	Error         string `json:"error"`
}

type pairingProgressWire struct {
	envelope
	Protocol   string          `json:"protocol"`
	Stage      string          `json:"stage"`
	Status     string          `json:"status"`
	ExternalID string          `json:"external_id"`
	Metadata   PairingMetadata `json:"metadata"`
}

// Decoder turns raw broker messages into typed HDP messages.
type Decoder struct {
	topics Topics
	now    func() time.Time
}

// NewDecoder creates a decoder for topics under t's prefix.
func NewDecoder(t Topics) *Decoder {
	return &Decoder{topics: t, now: time.Now}
}

// WithClock overrides the clock used for missing timestamps.
func (d *Decoder) WithClock(now func() time.Time) *Decoder {
	d.now = now
	return d
}

// Decode classifies topic and parses payload strictly.
//
// Decode never fails: anything that cannot be interpreted is returned as a
// ParseError so callers can count and log it without special cases.
func (d *Decoder) Decode(topic string, payload []byte) Message {
	channel, suffix, ok := d.topics.Classify(topic)
	if !ok || channel == ChannelCommand {
		return ParseError{Topic: topic, Err: ErrUnknownTopic}
	}
	if !isJSONObject(payload) {
		return ParseError{Topic: topic, Err: fmt.Errorf("%w: not a JSON object", ErrInvalidPayload)}
	}

	now := d.now()
	switch channel {
	case ChannelMetadata:
		return d.decodeMetadata(topic, suffix, payload, now)
	case ChannelState:
		return d.decodeState(topic, suffix, payload, now)
	case ChannelEvent:
		return d.decodeEvent(topic, suffix, payload, now)
	case ChannelCommandResult:
		return d.decodeCommandResult(topic, suffix, payload, now)
	case ChannelPairingProgress:
		return d.decodePairingProgress(topic, suffix, payload, now)
	default:
		return ParseError{Topic: topic, Err: ErrUnknownTopic}
	}
}

func (d *Decoder) decodeMetadata(topic, suffix string, payload []byte, now time.Time) Message {
	var w metadataWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return invalid(topic, err)
	}
	id := resolveDeviceID(suffix, w.DeviceID)
	if id == "" {
		return ParseError{Topic: topic, Err: ErrMissingDeviceID}
	}
	return metadataFromWire(id, w, now)
}

func metadataFromWire(id string, w metadataWire, now time.Time) Metadata {
	protocol := strings.ToLower(strings.TrimSpace(w.Protocol))
	if protocol == "" {
		protocol, _ = SplitID(id)
	}
	external := strings.TrimSpace(w.ExternalID)
	if external == "" {
		_, external = SplitID(id)
	}
	return Metadata{
		DeviceID:     id,
		Protocol:     protocol,
		ExternalID:   external,
		Name:         w.Name,
		Manufacturer: w.Manufacturer,
		Model:        w.Model,
		Description:  w.Description,
		Icon:         w.Icon,
		Firmware:     w.Firmware,
		Capabilities: w.Capabilities,
		Inputs:       w.Inputs,
		Online:       w.Online,
		LastSeen:     w.LastSeen.TimeOrZero(),
		TS:           w.TS.Time(now),
	}
}

func (d *Decoder) decodeState(topic, suffix string, payload []byte, now time.Time) Message {
	var w stateWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return invalid(topic, err)
	}
	id := resolveDeviceID(suffix, w.DeviceID)
	if id == "" {
		return ParseError{Topic: topic, Err: ErrMissingDeviceID}
	}
	return State{
		DeviceID: id,
		State:    w.State,
		TS:       w.TS.Time(now),
		Corr:     w.Corr,
	}
}

func (d *Decoder) decodeEvent(topic, suffix string, payload []byte, now time.Time) Message {
	var w eventWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return invalid(topic, err)
	}
	id := resolveDeviceID(suffix, w.DeviceID)
	if id == "" {
		return ParseError{Topic: topic, Err: ErrMissingDeviceID}
	}

	evt := Event{
		DeviceID: id,
		Name:     w.Event,
		Kind:     classifyEvent(w.Event),
		TS:       w.TS.Time(now),
	}
	if evt.Kind == EventUpsert && isJSONObject(w.Data) {
		var mw metadataWire
		if err := json.Unmarshal(w.Data, &mw); err != nil {
			return invalid(topic, err)
		}
		if mw.TS == 0 {
			mw.TS = w.TS
		}
		md := metadataFromWire(id, mw, now)
		evt.Metadata = &md
	}
	return evt
}

func classifyEvent(name string) EventKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "device_removed", "removed", "device_deleted":
		return EventRemoved
	case "upsert", "device_upsert", "device_added", "device_updated":
		return EventUpsert
	default:
		return EventOther
	}
}

func (d *Decoder) decodeCommandResult(topic, suffix string, payload []byte, now time.Time) Message {
	var w commandResultWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return invalid(topic, err)
	}
	id := resolveDeviceID(suffix, w.DeviceID)
	if id == "" {
		return ParseError{Topic: topic, Err: ErrMissingDeviceID}
	}
	corr := strings.TrimSpace(w.Corr)
	if corr == "" {
		corr = strings.TrimSpace(w.CorrelationID)
	}
	if corr == "" {
		return ParseError{Topic: topic, Err: ErrMissingCorrelation}
	}
	return CommandResult{
		DeviceID: id,
		Corr:     corr,
		Success:  w.Success,
		Status:   w.Status,
		Error:    w.Error,
		TS:       w.TS.Time(now),
	}
}

func (d *Decoder) decodePairingProgress(topic, suffix string, payload []byte, now time.Time) Message {
	var w pairingProgressWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return invalid(topic, err)
	}
	protocol := strings.ToLower(strings.TrimSpace(w.Protocol))
	if protocol == "" {
		protocol = strings.ToLower(suffix)
	}
	external := strings.TrimSpace(w.ExternalID)
	if external == "" {
		external = strings.TrimSpace(w.DeviceID)
	}
	return PairingProgress{
		Protocol:   protocol,
		Stage:      strings.ToLower(strings.TrimSpace(w.Stage)),
		Status:     strings.ToLower(strings.TrimSpace(w.Status)),
		ExternalID: strings.ToLower(external),
		DeviceID:   strings.TrimSpace(w.DeviceID),
		Metadata:   w.Metadata,
		TS:         w.TS.Time(now),
	}
}

// resolveDeviceID prefers a non-empty payload id over the topic suffix.
func resolveDeviceID(suffix, payloadID string) string {
	if id := strings.Trim(strings.TrimSpace(payloadID), "/"); id != "" {
		return id
	}
	return strings.Trim(strings.TrimSpace(suffix), "/")
}

// SplitID splits a canonical "protocol/external" id. Ids without a slash
// return an empty protocol.
func SplitID(id string) (protocol, external string) {
	protocol, external, ok := strings.Cut(id, "/")
	if !ok {
		return "", id
	}
	return strings.ToLower(protocol), external
}

func isJSONObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 1 && b[0] == '{'
}

func invalid(topic string, err error) ParseError {
	return ParseError{Topic: topic, Err: fmt.Errorf("%w: %w", ErrInvalidPayload, err)}
}
