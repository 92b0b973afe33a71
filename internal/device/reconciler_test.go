package device

import (
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ms(n int64) time.Time { return t0.Add(time.Duration(n) * time.Millisecond) }

func newTestReconciler(t *testing.T, patterns ...string) *Reconciler {
	t.Helper()
	policy, err := NewIdentityPolicy(patterns)
	if err != nil {
		t.Fatalf("NewIdentityPolicy() error = %v", err)
	}
	return NewReconciler(policy)
}

func lampMetadata() hdp.Metadata {
	online := true
	return hdp.Metadata{
		DeviceID: "zigbee/lamp",
		Protocol: "zigbee",
		Name:     "Lamp",
		Capabilities: []hdp.Capability{
			{ID: "on", Name: "Power", Kind: "binary", Property: "on", ValueType: "bool", Access: hdp.CapabilityAccess{Read: true, Write: true}},
		},
		Online: &online,
		TS:     ms(0),
	}
}

// =============================================================================
// State ordering
// =============================================================================

func TestReconciler_LampScenario(t *testing.T) {
	r := newTestReconciler(t)

	r.Apply(lampMetadata())
	if c := r.Apply(hdp.State{DeviceID: "zigbee/lamp", State: map[string]any{"on": false}, TS: ms(1000)}); !c.Changed {
		t.Fatalf("first state Change = %+v, want Changed", c)
	}
	if c := r.Apply(hdp.State{DeviceID: "zigbee/lamp", State: map[string]any{"on": true}, TS: ms(2000)}); !c.Changed {
		t.Fatalf("newer state Change = %+v, want Changed", c)
	}
	c := r.Apply(hdp.State{DeviceID: "zigbee/lamp", State: map[string]any{"on": false}, TS: ms(1500)})
	if !c.Stale || c.Changed {
		t.Errorf("older state Change = %+v, want Stale", c)
	}

	rec, ok := r.Get("zigbee/lamp")
	if !ok {
		t.Fatal("Get() ok = false")
	}
	if rec.State["on"] != true {
		t.Errorf("State[on] = %v, want true", rec.State["on"])
	}
	if !rec.StateUpdatedAt.Equal(ms(2000)) {
		t.Errorf("StateUpdatedAt = %v, want ts 2000", rec.StateUpdatedAt)
	}
}

func TestReconciler_UnprefixedIDScenario(t *testing.T) {
	r := newTestReconciler(t)

	r.Apply(hdp.Metadata{DeviceID: "dev-1", Name: "Lamp", TS: ms(0)})
	r.Apply(hdp.State{DeviceID: "dev-1", State: map[string]any{"on": true}, TS: ms(100)})
	if c := r.Apply(hdp.State{DeviceID: "dev-1", State: map[string]any{"on": false}, TS: ms(50)}); !c.Stale {
		t.Errorf("older state Change = %+v, want Stale", c)
	}

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("List() len = %d, want 1", len(list))
	}
	got := list[0]
	if got.ID != "dev-1" || got.Name != "Lamp" || got.State["on"] != true {
		t.Errorf("List()[0] = %+v, want dev-1 Lamp on=true", got)
	}
	if got.Protocol != "" || got.ExternalID != "dev-1" {
		t.Errorf("identity = %q %q, want no protocol", got.Protocol, got.ExternalID)
	}
}

func TestReconciler_EqualTimestampIsStale(t *testing.T) {
	r := newTestReconciler(t)
	r.Apply(hdp.State{DeviceID: "zigbee/lamp", State: map[string]any{"on": true}, TS: ms(1000)})

	c := r.Apply(hdp.State{DeviceID: "zigbee/lamp", State: map[string]any{"on": false}, TS: ms(1000)})
	if !c.Stale {
		t.Errorf("Change = %+v, want Stale", c)
	}
	if rec, _ := r.Get("zigbee/lamp"); rec.State["on"] != true {
		t.Error("equal-timestamp state replaced stored state")
	}
}

func TestReconciler_StateVersionMonotonic(t *testing.T) {
	r := newTestReconciler(t)
	order := []int64{500, 100, 900, 300, 900, 1200, 50}

	var last time.Time
	for _, ts := range order {
		r.Apply(hdp.State{DeviceID: "zigbee/x", State: map[string]any{"v": ts}, TS: ms(ts)})
		v := r.StateVersion("zigbee/x")
		if v.Before(last) {
			t.Fatalf("StateVersion decreased from %v to %v", last, v)
		}
		last = v
	}
	if !last.Equal(ms(1200)) {
		t.Errorf("final StateVersion = %v, want ts 1200", last)
	}
}

func TestReconciler_EmptyStateIgnored(t *testing.T) {
	r := newTestReconciler(t)
	c := r.Apply(hdp.State{DeviceID: "zigbee/x", State: map[string]any{}, TS: ms(1)})
	if !c.Invalid || c.Changed {
		t.Errorf("Change = %+v, want Invalid", c)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestReconciler_StateOnlyDeviceVisible(t *testing.T) {
	r := newTestReconciler(t)
	r.Apply(hdp.State{DeviceID: "Zigbee/sensor", State: map[string]any{"temp": 21.5}, TS: ms(1)})

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("List() len = %d, want 1", len(list))
	}
	got := list[0]
	if got.ID != "zigbee/sensor" || got.Protocol != "zigbee" || got.ExternalID != "sensor" {
		t.Errorf("identity = %q %q %q", got.ID, got.Protocol, got.ExternalID)
	}
	if !got.Online {
		t.Error("Online = false after state")
	}
	if got.HasMetadata {
		t.Error("HasMetadata = true without metadata")
	}
}

// =============================================================================
// Metadata, events, results
// =============================================================================

func TestReconciler_MetadataUpsert(t *testing.T) {
	r := newTestReconciler(t)
	c := r.Apply(lampMetadata())
	if !c.Changed || c.DeviceID != "zigbee/lamp" {
		t.Fatalf("Change = %+v", c)
	}

	md := lampMetadata()
	md.Name = "Desk Lamp"
	md.Firmware = "1.2.3"
	md.TS = ms(10)
	r.Apply(md)

	rec, _ := r.Get("zigbee/lamp")
	if rec.Name != "Desk Lamp" || rec.Firmware != "1.2.3" {
		t.Errorf("descriptor not updated: %+v", rec)
	}
	if !rec.HasMetadata || !rec.MetadataUpdatedAt.Equal(ms(10)) {
		t.Errorf("HasMetadata=%v MetadataUpdatedAt=%v", rec.HasMetadata, rec.MetadataUpdatedAt)
	}
	if len(rec.State) != 0 {
		t.Errorf("State = %v, want empty", rec.State)
	}
}

func TestReconciler_PartialMetadataKeepsFields(t *testing.T) {
	r := newTestReconciler(t)
	full := lampMetadata()
	full.Manufacturer = "IKEA"
	full.Inputs = []hdp.Input{{ID: "on", Type: "toggle", CapabilityID: "on", Property: "on"}}
	r.Apply(full)

	offline := false
	if c := r.Apply(hdp.Metadata{DeviceID: "zigbee/lamp", Online: &offline, TS: ms(20)}); !c.Changed {
		t.Fatalf("partial metadata Change = %+v, want Changed", c)
	}

	rec, _ := r.Get("zigbee/lamp")
	if rec.Name != "Lamp" || rec.Manufacturer != "IKEA" {
		t.Errorf("Name/Manufacturer = %q/%q, want kept", rec.Name, rec.Manufacturer)
	}
	if len(rec.Capabilities) != 1 || len(rec.Inputs) != 1 {
		t.Errorf("Capabilities/Inputs = %d/%d, want kept", len(rec.Capabilities), len(rec.Inputs))
	}
	if rec.Online {
		t.Error("Online = true, want false from partial update")
	}

	// An upsert event with partial data merges the same way.
	md := hdp.Metadata{Firmware: "2.0.0"}
	r.Apply(hdp.Event{DeviceID: "zigbee/lamp", Kind: hdp.EventUpsert, Metadata: &md})
	rec, _ = r.Get("zigbee/lamp")
	if rec.Firmware != "2.0.0" || rec.Name != "Lamp" || len(rec.Capabilities) != 1 {
		t.Errorf("after upsert: Firmware=%q Name=%q caps=%d", rec.Firmware, rec.Name, len(rec.Capabilities))
	}

	// An explicit empty list clears.
	r.Apply(hdp.Metadata{DeviceID: "zigbee/lamp", Inputs: []hdp.Input{}, TS: ms(30)})
	rec, _ = r.Get("zigbee/lamp")
	if len(rec.Inputs) != 0 || len(rec.Capabilities) != 1 {
		t.Errorf("Inputs/Capabilities = %d/%d, want 0/1", len(rec.Inputs), len(rec.Capabilities))
	}
}

func TestReconciler_Removal(t *testing.T) {
	r := newTestReconciler(t)
	r.Apply(lampMetadata())

	c := r.Apply(hdp.Event{DeviceID: "zigbee/lamp", Kind: hdp.EventRemoved, TS: ms(5)})
	if !c.Removed || !c.Changed {
		t.Errorf("Change = %+v, want Removed", c)
	}
	if len(r.List()) != 0 {
		t.Error("device still listed after removal")
	}

	c = r.Apply(hdp.Event{DeviceID: "zigbee/lamp", Kind: hdp.EventRemoved, TS: ms(6)})
	if c.Changed || c.Removed {
		t.Errorf("second removal Change = %+v, want no-op", c)
	}
}

func TestReconciler_UpsertEvent(t *testing.T) {
	r := newTestReconciler(t)
	md := lampMetadata()
	r.Apply(hdp.Event{DeviceID: "zigbee/lamp", Kind: hdp.EventUpsert, Metadata: &md})

	if _, ok := r.Get("zigbee/lamp"); !ok {
		t.Error("upsert event did not create record")
	}

	c := r.Apply(hdp.Event{DeviceID: "zigbee/other", Kind: hdp.EventOther})
	if c.Changed {
		t.Errorf("other event Change = %+v, want no-op", c)
	}
}

func TestReconciler_CommandResult(t *testing.T) {
	r := newTestReconciler(t)

	c := r.Apply(hdp.CommandResult{DeviceID: "zigbee/ghost", Corr: "c", Success: true})
	if c.Changed || r.Len() != 0 {
		t.Error("command result created a record")
	}

	r.Apply(lampMetadata())
	r.Apply(hdp.CommandResult{DeviceID: "zigbee/lamp", Corr: "c1", Success: false, Error: "busy", TS: ms(3)})
	rec, _ := r.Get("zigbee/lamp")
	if rec.LastCommandResult == nil || rec.LastCommandResult.Error != "busy" {
		t.Errorf("LastCommandResult = %+v", rec.LastCommandResult)
	}
}

func TestReconciler_ParseErrorCounted(t *testing.T) {
	r := newTestReconciler(t)
	c := r.Apply(hdp.ParseError{Topic: "x"})
	if !c.Invalid {
		t.Errorf("Change = %+v, want Invalid", c)
	}
	if r.ParseErrors() != 1 {
		t.Errorf("ParseErrors() = %d, want 1", r.ParseErrors())
	}
}

// =============================================================================
// Legacy identities
// =============================================================================

func TestReconciler_LegacyIdentityPurged(t *testing.T) {
	r := newTestReconciler(t, "zigbee/+")

	tests := []struct {
		name string
		id   string
	}{
		{"bare uuid", "0b6f2d52-6a41-4d2a-9b57-0c1f1f0d3c2e"},
		{"configured pattern", "zigbee/0x01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := r.Apply(hdp.State{DeviceID: tt.id, State: map[string]any{"on": true}, TS: ms(1)})
			if !c.Purged {
				t.Errorf("Change = %+v, want Purged", c)
			}
			if _, ok := r.Get(tt.id); ok {
				t.Error("legacy record visible")
			}
		})
	}

	c := r.Apply(hdp.State{DeviceID: "thread/0x01", State: map[string]any{"on": true}, TS: ms(1)})
	if c.Purged || !c.Changed {
		t.Errorf("canonical id Change = %+v", c)
	}
}

func TestReconciler_LegacyRecordFromSnapshotPurged(t *testing.T) {
	r := newTestReconciler(t)
	// Seed directly as an older build would have stored it.
	const legacyID = "0b6f2d52-6a41-4d2a-9b57-0c1f1f0d3c2e"
	r.records[legacyID] = &Record{ID: legacyID, Name: "Old", HasMetadata: true}

	c := r.Apply(hdp.Metadata{DeviceID: legacyID, Name: "Old"})
	if !c.Purged || !c.Changed {
		t.Errorf("Change = %+v, want Purged and Changed", c)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

// =============================================================================
// Snapshots and listing
// =============================================================================

func TestReconciler_ApplySnapshot(t *testing.T) {
	r := newTestReconciler(t)

	// Newer push state must survive an older snapshot.
	r.Apply(hdp.State{DeviceID: "zigbee/lamp", State: map[string]any{"on": true}, TS: time.UnixMilli(5000)})

	offline := false
	rows := []hdp.DeviceSnapshot{
		{DeviceID: "zigbee/lamp", Name: "Lamp", HasMetadata: true, State: map[string]any{"on": false}, StateTS: 4000},
		{DeviceID: "zigbee/sensor", State: map[string]any{"temp": 20.0}, LastSeen: 3000, Online: &offline},
		{DeviceID: "1e0e8f9a-3b8a-4c1e-9d8e-3c1f0c2a9b7d", Name: "Legacy", HasMetadata: true},
	}
	if !r.ApplySnapshot(rows, t0) {
		t.Fatal("ApplySnapshot() = false, want true")
	}

	lamp, _ := r.Get("zigbee/lamp")
	if lamp.State["on"] != true {
		t.Error("older snapshot state regressed newer push state")
	}
	if lamp.Name != "Lamp" {
		t.Errorf("Name = %q, want Lamp", lamp.Name)
	}

	sensor, ok := r.Get("zigbee/sensor")
	if !ok {
		t.Fatal("sensor missing")
	}
	if !sensor.StateUpdatedAt.Equal(time.UnixMilli(3000)) {
		t.Errorf("sensor StateUpdatedAt = %v, want last_seen", sensor.StateUpdatedAt)
	}
	if sensor.Online {
		t.Error("sensor Online = true, want snapshot value false")
	}

	if len(r.List()) != 2 {
		t.Errorf("List() len = %d, want 2", len(r.List()))
	}
}

func TestReconciler_ListSortedAndIsolated(t *testing.T) {
	r := newTestReconciler(t)
	r.Apply(hdp.Metadata{DeviceID: "zigbee/b", Name: "beta", TS: ms(1)})
	r.Apply(hdp.Metadata{DeviceID: "zigbee/a", Name: "Alpha", TS: ms(1)})
	r.Apply(hdp.Metadata{DeviceID: "zigbee/c", Name: "alpha", TS: ms(1)})
	r.Apply(hdp.State{DeviceID: "zigbee/a", State: map[string]any{"nested": map[string]any{"x": 1.0}}, TS: ms(2)})

	list := r.List()
	want := []string{"zigbee/a", "zigbee/c", "zigbee/b"}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("List()[%d].ID = %q, want %q", i, list[i].ID, id)
		}
	}

	list[0].State["nested"].(map[string]any)["x"] = 99.0
	again, _ := r.Get("zigbee/a")
	if again.State["nested"].(map[string]any)["x"] != 1.0 {
		t.Error("List() returned shared state map")
	}
}

func TestRecord_SnapshotRoundTrip(t *testing.T) {
	rec := Record{
		ID: "zigbee/lamp", Protocol: "zigbee", ExternalID: "lamp", Name: "Lamp",
		State: map[string]any{"on": true}, StateUpdatedAt: time.UnixMilli(2000),
		LastSeen: time.UnixMilli(2500), Online: true, HasMetadata: true,
	}
	snap := rec.Snapshot()
	if snap.StateTS != 2000 || snap.LastSeen != 2500 {
		t.Errorf("StateTS/LastSeen = %d/%d", snap.StateTS, snap.LastSeen)
	}

	r := newTestReconciler(t)
	r.ApplySnapshot([]hdp.DeviceSnapshot{snap}, t0)
	got, ok := r.Get("zigbee/lamp")
	if !ok || !got.StateUpdatedAt.Equal(time.UnixMilli(2000)) || got.Name != "Lamp" {
		t.Errorf("restored = %+v", got)
	}
}
