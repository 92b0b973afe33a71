package mqtt

import "time"

// Default reconnection backoff settings.
const (
	defaultBaseDelay  = 1200 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
	defaultCapAttempt = 6
)

// Backoff computes reconnection delays.
//
// The delay for a given attempt is min(Max, Base * 2^min(attempt, CapAttempt)).
// The attempt counter is owned by the caller: it increments on every failed
// or lost connection and resets to zero on the next successful connect.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	CapAttempt int
}

// DefaultBackoff returns the standard reconnection policy (1.2s base, 30s cap).
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       defaultBaseDelay,
		Max:        defaultMaxDelay,
		CapAttempt: defaultCapAttempt,
	}
}

// Delay returns the wait before reconnection attempt number attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > b.CapAttempt {
		attempt = b.CapAttempt
	}

	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// withDefaults fills zero fields from DefaultBackoff.
func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b == (Backoff{}) {
		return def
	}
	if b.Base <= 0 {
		b.Base = def.Base
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if b.CapAttempt < 0 {
		b.CapAttempt = 0
	}
	return b
}
