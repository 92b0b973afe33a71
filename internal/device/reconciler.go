package device

import (
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
)

// Change describes the effect of applying one message.
type Change struct {
	DeviceID string

	// Changed is true when the record map was mutated.
	Changed bool

	// Stale is true for state older than (or as old as) the stored state.
	Stale bool

	// Purged is true when the id was a legacy identity.
	Purged bool

	// Removed is true when a removal event deleted the record.
	Removed bool

	// Invalid is true for parse errors and empty state.
	Invalid bool
}

// Reconciler merges HDP messages into canonical device records.
//
// A Reconciler is owned by a single goroutine and is not safe for
// concurrent use; callers serialise access (the hub's event loop does).
type Reconciler struct {
	records     map[string]*Record
	policy      IdentityPolicy
	parseErrors uint64
}

// NewReconciler creates an empty reconciler.
func NewReconciler(policy IdentityPolicy) *Reconciler {
	return &Reconciler{
		records: make(map[string]*Record),
		policy:  policy,
	}
}

// Apply merges one decoded message.
func (r *Reconciler) Apply(msg hdp.Message) Change {
	switch m := msg.(type) {
	case hdp.Metadata:
		return r.applyMetadata(m)
	case hdp.State:
		return r.applyState(m)
	case hdp.Event:
		return r.applyEvent(m)
	case hdp.CommandResult:
		return r.applyCommandResult(m)
	case hdp.ParseError:
		r.parseErrors++
		return Change{Invalid: true}
	default:
		// Pairing progress is tracked separately.
		return Change{}
	}
}

// purgeIfLegacy drops any record stored under a legacy id.
func (r *Reconciler) purgeIfLegacy(id string) (Change, bool) {
	if !r.policy.IsLegacy(id) {
		return Change{}, false
	}
	_, existed := r.records[id]
	delete(r.records, id)
	return Change{DeviceID: id, Purged: true, Changed: existed}, true
}

func (r *Reconciler) record(id string) *Record {
	rec, ok := r.records[id]
	if !ok {
		protocol, external := hdp.SplitID(id)
		rec = &Record{ID: id, Protocol: protocol, ExternalID: external}
		r.records[id] = rec
	}
	return rec
}

func (r *Reconciler) applyMetadata(m hdp.Metadata) Change {
	id := NormalizeID(m.DeviceID)
	if c, legacy := r.purgeIfLegacy(id); legacy {
		return c
	}

	rec := r.record(id)
	if m.Protocol != "" {
		rec.Protocol = strings.ToLower(m.Protocol)
	}
	if m.ExternalID != "" {
		rec.ExternalID = m.ExternalID
	}
	mergeString(&rec.Name, m.Name)
	mergeString(&rec.Manufacturer, m.Manufacturer)
	mergeString(&rec.Model, m.Model)
	mergeString(&rec.Description, m.Description)
	mergeString(&rec.Icon, m.Icon)
	mergeString(&rec.Firmware, m.Firmware)
	if m.Capabilities != nil {
		rec.Capabilities = m.Capabilities
	}
	if m.Inputs != nil {
		rec.Inputs = m.Inputs
	}
	if m.Online != nil {
		rec.Online = *m.Online
	}
	if m.LastSeen.After(rec.LastSeen) {
		rec.LastSeen = m.LastSeen
	}
	rec.MetadataUpdatedAt = m.TS
	rec.HasMetadata = true

	return Change{DeviceID: id, Changed: true}
}

// mergeString keeps the stored value when the publisher sent none.
func mergeString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func (r *Reconciler) applyState(m hdp.State) Change {
	id := NormalizeID(m.DeviceID)
	if c, legacy := r.purgeIfLegacy(id); legacy {
		return c
	}
	if len(m.State) == 0 {
		return Change{DeviceID: id, Invalid: true}
	}

	if rec, ok := r.records[id]; ok && !rec.StateUpdatedAt.IsZero() && !m.TS.After(rec.StateUpdatedAt) {
		return Change{DeviceID: id, Stale: true}
	}

	rec := r.record(id)
	rec.State = deepCopyMap(m.State)
	rec.StateUpdatedAt = m.TS
	rec.Online = true
	if m.TS.After(rec.LastSeen) {
		rec.LastSeen = m.TS
	}

	return Change{DeviceID: id, Changed: true}
}

func (r *Reconciler) applyEvent(m hdp.Event) Change {
	id := NormalizeID(m.DeviceID)
	if c, legacy := r.purgeIfLegacy(id); legacy {
		return c
	}

	switch m.Kind {
	case hdp.EventRemoved:
		if _, ok := r.records[id]; !ok {
			return Change{DeviceID: id}
		}
		delete(r.records, id)
		return Change{DeviceID: id, Changed: true, Removed: true}
	case hdp.EventUpsert:
		if m.Metadata == nil {
			return Change{DeviceID: id}
		}
		md := *m.Metadata
		md.DeviceID = id
		return r.applyMetadata(md)
	default:
		return Change{DeviceID: id}
	}
}

func (r *Reconciler) applyCommandResult(m hdp.CommandResult) Change {
	id := NormalizeID(m.DeviceID)
	if c, legacy := r.purgeIfLegacy(id); legacy {
		return c
	}

	rec, ok := r.records[id]
	if !ok {
		return Change{DeviceID: id}
	}
	rec.LastCommandResult = &CommandResult{
		Corr:    m.Corr,
		Success: m.Success,
		Status:  m.Status,
		Error:   m.Error,
		At:      m.TS,
	}
	return Change{DeviceID: id, Changed: true}
}

// ApplySnapshot merges a full device list, as served by the REST fallback or
// loaded for warm start. Each row is applied as metadata (when it carries
// any) followed by state, so the stale rule still protects newer pushes.
//
// Returns true when any record changed.
func (r *Reconciler) ApplySnapshot(rows []hdp.DeviceSnapshot, now time.Time) bool {
	changed := false
	for _, row := range rows {
		id := NormalizeID(row.DeviceID)
		if id == "" {
			continue
		}
		row.DeviceID = id

		if row.HasMetadata {
			if c := r.applyMetadata(row.Metadata(now)); c.Changed {
				changed = true
			}
		}
		if len(row.State) > 0 {
			c := r.applyState(row.StateMessage(now))
			if c.Changed {
				changed = true
			}
			// A replayed row must not claim the device is online.
			if c.Changed && row.Online != nil {
				r.records[id].Online = *row.Online
			}
		}
		if c, legacy := r.purgeIfLegacy(id); legacy && c.Changed {
			changed = true
		}
	}
	return changed
}

// List returns deep copies of every visible record, sorted by name then id.
func (r *Reconciler) List() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		if !rec.Visible() {
			continue
		}
		out = append(out, *rec.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a deep copy of the record for id.
func (r *Reconciler) Get(id string) (Record, bool) {
	rec, ok := r.records[NormalizeID(id)]
	if !ok || !rec.Visible() {
		return Record{}, false
	}
	return *rec.DeepCopy(), true
}

// StateVersion returns the stored state timestamp for id (zero if unknown).
func (r *Reconciler) StateVersion(id string) time.Time {
	if rec, ok := r.records[NormalizeID(id)]; ok {
		return rec.StateUpdatedAt
	}
	return time.Time{}
}

// Len returns the number of stored records, visible or not.
func (r *Reconciler) Len() int {
	return len(r.records)
}

// ParseErrors returns how many undecodable messages were seen.
func (r *Reconciler) ParseErrors() uint64 {
	return r.parseErrors
}
