package influxdb

import (
	"sort"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// stateMeasurement is the measurement accepted device state is written to.
const stateMeasurement = "device_state"

// maxFieldDepth bounds how deep nested state objects are flattened.
const maxFieldDepth = 2

// RecordState writes the numeric and boolean properties of an accepted state
// update as one point. Strings, lists and nulls are skipped. Nested objects
// are flattened with dotted keys ("color.x").
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Canonical device id ("zigbee/0x00158d0001a2b3c4")
//   - state: The accepted state map
//   - at: The state timestamp
func (s *Sink) RecordState(deviceID string, state map[string]any, at time.Time) {
	if s.closed.Load() {
		return
	}
	point, ok := StatePoint(deviceID, state, at)
	if !ok {
		s.skipped.Add(1)
		return
	}
	s.writer.WritePoint(point)
	s.written.Add(1)
}

// StatePoint builds the point RecordState writes. It reports false when the
// state has no numeric or boolean property.
func StatePoint(deviceID string, state map[string]any, at time.Time) (*write.Point, bool) {
	fields := make(map[string]any)
	flattenFields(fields, "", state, 0)
	if len(fields) == 0 {
		return nil, false
	}

	tags := map[string]string{"device_id": deviceID}
	if protocol, _, found := strings.Cut(deviceID, "/"); found && protocol != "" {
		tags["protocol"] = protocol
	}
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(stateMeasurement, tags, fields, at), true
}

func flattenFields(dst map[string]any, prefix string, src map[string]any, depth int) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := src[k].(type) {
		case bool:
			dst[key] = v
		case float64:
			dst[key] = v
		case float32:
			dst[key] = float64(v)
		case int:
			dst[key] = float64(v)
		case int64:
			dst[key] = float64(v)
		case map[string]any:
			if depth+1 < maxFieldDepth {
				flattenFields(dst, key, v, depth+1)
			}
		}
	}
}
