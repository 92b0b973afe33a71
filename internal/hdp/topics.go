package hdp

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the topic root used when none is configured.
const DefaultPrefix = "homenavi/hdp"

// Channel identifies which HDP stream a topic belongs to.
type Channel int

// HDP channels.
const (
	ChannelUnknown Channel = iota
	ChannelMetadata
	ChannelState
	ChannelEvent
	ChannelCommandResult
	ChannelPairingProgress
	ChannelCommand
)

func (c Channel) String() string {
	switch c {
	case ChannelMetadata:
		return "metadata"
	case ChannelState:
		return "state"
	case ChannelEvent:
		return "event"
	case ChannelCommandResult:
		return "command_result"
	case ChannelPairingProgress:
		return "pairing_progress"
	case ChannelCommand:
		return "command"
	default:
		return "unknown"
	}
}

// channel path segments under the prefix, in match order.
var channelPaths = []struct {
	channel Channel
	path    string
}{
	{ChannelMetadata, "device/metadata"},
	{ChannelState, "device/state"},
	{ChannelEvent, "device/event"},
	{ChannelCommandResult, "device/command_result"},
	{ChannelCommand, "device/command"},
	{ChannelPairingProgress, "pairing/progress"},
}

// Topics builds HDP topics under a prefix.
//
//	topics := hdp.NewTopics("homenavi/hdp")
//	topics.Command("zigbee/0x00124b0001")
//	// Returns: "homenavi/hdp/device/command/zigbee/0x00124b0001"
type Topics struct {
	prefix string
}

// NewTopics returns builders for prefix. An empty prefix selects DefaultPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultPrefix
	}
	return t.prefix
}

func (t Topics) path(p string) string {
	return t.Prefix() + "/" + p
}

// MetadataFilter subscribes to every device metadata message.
//
// Example: homenavi/hdp/device/metadata/#
func (t Topics) MetadataFilter() string { return t.path("device/metadata/#") }

// StateFilter subscribes to every device state message.
//
// Example: homenavi/hdp/device/state/#
func (t Topics) StateFilter() string { return t.path("device/state/#") }

// EventFilter subscribes to every device lifecycle event.
func (t Topics) EventFilter() string { return t.path("device/event/#") }

// CommandResultFilter subscribes to every command result.
func (t Topics) CommandResultFilter() string { return t.path("device/command_result/#") }

// PairingProgressFilter subscribes to pairing progress for every protocol.
func (t Topics) PairingProgressFilter() string { return t.path("pairing/progress/#") }

// Filters returns every inbound filter the hub subscribes to.
func (t Topics) Filters() []string {
	return []string{
		t.MetadataFilter(),
		t.StateFilter(),
		t.EventFilter(),
		t.CommandResultFilter(),
		t.PairingProgressFilter(),
	}
}

// Command returns the outbound command topic for a device.
//
// Example: homenavi/hdp/device/command/zigbee/0x00124b0001
func (t Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/device/command/%s", t.Prefix(), strings.Trim(deviceID, "/"))
}

// State returns the state topic for a device.
func (t Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/device/state/%s", t.Prefix(), strings.Trim(deviceID, "/"))
}

// Metadata returns the metadata topic for a device.
func (t Topics) Metadata(deviceID string) string {
	return fmt.Sprintf("%s/device/metadata/%s", t.Prefix(), strings.Trim(deviceID, "/"))
}

// Classify splits a concrete topic into its channel and the remainder after
// the channel path (the device id, or the protocol for pairing progress).
//
// Returns ChannelUnknown and false for topics outside the prefix.
func (t Topics) Classify(topic string) (Channel, string, bool) {
	root := t.Prefix() + "/"
	if !strings.HasPrefix(topic, root) {
		return ChannelUnknown, "", false
	}
	rest := topic[len(root):]

	for _, cp := range channelPaths {
		if rest == cp.path {
			return cp.channel, "", true
		}
		if strings.HasPrefix(rest, cp.path+"/") {
			return cp.channel, strings.Trim(rest[len(cp.path)+1:], "/"), true
		}
	}
	return ChannelUnknown, "", false
}
