package hdp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Millis is a millisecond epoch timestamp as carried in HDP payloads.
//
// Publishers are inconsistent, so numbers, numeric strings and RFC 3339
// strings are all accepted. Zero means "absent".
type Millis int64

// UnmarshalJSON accepts 1718000000000, 1.718e12, "1718000000000" and
// "2024-06-10T06:13:20Z".
func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			*m = Millis(f)
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		*m = Millis(t.UnixMilli())
		return nil
	}

	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", b, err)
	}
	*m = Millis(f)
	return nil
}

// Time converts to a UTC time. A missing or non-positive value means now.
func (m Millis) Time(now time.Time) time.Time {
	if m <= 0 {
		return now.UTC()
	}
	return time.UnixMilli(int64(m)).UTC()
}

// TimeOrZero converts to a UTC time, returning the zero time when absent.
func (m Millis) TimeOrZero() time.Time {
	if m <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(m)).UTC()
}
