package command

import (
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
)

// DefaultTimeout bounds how long a command waits for a verdict.
const DefaultTimeout = 8 * time.Second

// Scheduler arms one-shot timers. The returned stop function cancels the
// timer and reports whether it was still pending.
//
// Correlator relies on fn running on the goroutine that owns it; the hub
// supplies a LoopScheduler that posts fires onto its event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// LoopScheduler arms real timers whose callbacks are handed to Post instead
// of running on the timer goroutine.
type LoopScheduler struct {
	Post func(fn func())
}

// AfterFunc implements Scheduler.
func (s LoopScheduler) AfterFunc(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, func() { s.Post(fn) })
	return t.Stop
}

// pending is the correlator's bookkeeping for one in-flight command.
type pending struct {
	info     PendingInfo
	stop     func() bool
	resolve  func(Outcome)
	resolved bool
}

// Correlator tracks at most one in-flight command per device and maps
// command results, state updates and timeouts onto exactly one Outcome.
//
// A Correlator is not safe for concurrent use. All methods, including timer
// callbacks delivered through the Scheduler, must run on one goroutine.
type Correlator struct {
	timeout time.Duration
	sched   Scheduler
	entries map[string]*pending
	now     func() time.Time
	newID   func() string
}

// NewCorrelator creates a correlator. A non-positive timeout selects DefaultTimeout.
func NewCorrelator(timeout time.Duration, sched Scheduler) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{
		timeout: timeout,
		sched:   sched,
		entries: make(map[string]*pending),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Register starts tracking a command for deviceID and returns its info.
//
// Any command already pending for the device is superseded: its timer is
// cancelled and, if still unresolved, it resolves Unknown/superseded.
// resolve is called exactly once with the new command's outcome.
func (c *Correlator) Register(deviceID string, patch map[string]any, baseline time.Time, resolve func(Outcome)) PendingInfo {
	return c.RegisterAs(deviceID, "", patch, baseline, resolve)
}

// RegisterAs is Register with a caller-chosen correlation id. An empty corr
// generates one.
func (c *Correlator) RegisterAs(deviceID, corr string, patch map[string]any, baseline time.Time, resolve func(Outcome)) PendingInfo {
	if corr == "" {
		corr = c.newID()
	}
	if old, ok := c.entries[deviceID]; ok {
		old.stop()
		delete(c.entries, deviceID)
		c.finish(old, StatusUnknown, ReasonSuperseded, "", "")
	}

	p := &pending{
		info: PendingInfo{
			CorrelationID:        corr,
			DeviceID:             deviceID,
			SentAt:               c.now(),
			BaselineStateVersion: baseline,
			Patch:                patch,
		},
		resolve: resolve,
	}
	p.stop = c.sched.AfterFunc(c.timeout, func() { c.expire(deviceID, corr) })
	c.entries[deviceID] = p
	return p.info
}

// Cancel forgets a command without resolving it. Used when the publish
// itself failed and the caller reports the error directly.
func (c *Correlator) Cancel(deviceID, corr string) {
	p, ok := c.entries[deviceID]
	if !ok || p.info.CorrelationID != corr {
		return
	}
	p.stop()
	p.resolved = true
	delete(c.entries, deviceID)
}

// HandleResult applies a command result.
//
// Results whose correlation id does not match the device's pending command
// are ignored. Failure clears the entry; success resolves immediately but
// keeps the entry as an acknowledged guard until state newer than the
// baseline is observed (stateVersion is the device's current version).
//
// Returns:
//   - bool: true when the result matched a pending command
func (c *Correlator) HandleResult(res hdp.CommandResult, stateVersion time.Time) bool {
	p, ok := c.entries[res.DeviceID]
	if !ok || p.info.CorrelationID != res.Corr {
		return false
	}

	if !res.Success {
		p.stop()
		delete(c.entries, res.DeviceID)
		c.finish(p, StatusFailed, "", res.Status, res.Error)
		return true
	}

	c.finish(p, StatusSuccess, "", res.Status, "")
	p.info.Acknowledged = true
	if stateVersion.After(p.info.BaselineStateVersion) {
		p.stop()
		delete(c.entries, res.DeviceID)
	}
	return true
}

// ObserveState is called after state for deviceID was accepted.
//
// A state message echoing the pending correlation id counts as success.
// An acknowledged entry is cleared once state has advanced past its baseline.
func (c *Correlator) ObserveState(deviceID string, version time.Time, corr string) {
	p, ok := c.entries[deviceID]
	if !ok {
		return
	}
	if corr != "" && corr == p.info.CorrelationID {
		c.finish(p, StatusSuccess, "", "", "")
		p.info.Acknowledged = true
	}
	if p.info.Acknowledged && version.After(p.info.BaselineStateVersion) {
		p.stop()
		delete(c.entries, deviceID)
	}
}

// expire is the timer callback.
func (c *Correlator) expire(deviceID, corr string) {
	p, ok := c.entries[deviceID]
	if !ok || p.info.CorrelationID != corr {
		// Superseded or already cleared; the old timer lost the race to Stop.
		return
	}
	delete(c.entries, deviceID)
	c.finish(p, StatusUnknown, ReasonTimeout, "", "")
}

// ResolveAll clears every entry, resolving unresolved ones Unknown with reason.
func (c *Correlator) ResolveAll(reason Reason) int {
	n := 0
	for id, p := range c.entries {
		p.stop()
		delete(c.entries, id)
		if !p.resolved {
			n++
		}
		c.finish(p, StatusUnknown, reason, "", "")
	}
	return n
}

// Get returns the pending command for deviceID.
func (c *Correlator) Get(deviceID string) (PendingInfo, bool) {
	p, ok := c.entries[deviceID]
	if !ok {
		return PendingInfo{}, false
	}
	return p.info, true
}

// Pending returns every pending command keyed by device id.
func (c *Correlator) Pending() map[string]PendingInfo {
	out := make(map[string]PendingInfo, len(c.entries))
	for id, p := range c.entries {
		out[id] = p.info
	}
	return out
}

// Len returns the number of pending commands.
func (c *Correlator) Len() int {
	return len(c.entries)
}

// finish resolves p once; later calls are ignored.
func (c *Correlator) finish(p *pending, status Status, reason Reason, resultStatus, errText string) {
	if p.resolved {
		return
	}
	p.resolved = true
	if p.resolve == nil {
		return
	}
	p.resolve(Outcome{
		CorrelationID: p.info.CorrelationID,
		DeviceID:      p.info.DeviceID,
		Status:        status,
		Reason:        reason,
		ResultStatus:  resultStatus,
		Error:         errText,
		SentAt:        p.info.SentAt,
		ResolvedAt:    c.now(),
	})
}
