package hub

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/command"
	"github.com/nerrad567/gray-logic-devicehub/internal/device"
	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
)

// inbound is one raw broker message queued for the loop.
type inbound struct {
	topic   string
	payload []byte
}

// ConnectionStatus reports whether each push stream is live.
type ConnectionStatus struct {
	MetadataConnected bool `json:"metadata_connected"`
	StateConnected    bool `json:"state_connected"`
}

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Devices     int    `json:"devices"`
	Pending     int    `json:"pending_commands"`
	Listeners   int    `json:"listeners"`
	ParseErrors uint64 `json:"parse_errors"`
}

// Hub is the single entry point consumers use.
//
// One goroutine (the loop) owns the reconciler, the correlator and the
// pairing tracker. Broker messages arrive on the inbox; everything else
// (snapshots, command registration, timer fires, teardown) is posted to the
// loop as a closure. After draining everything queued the loop publishes
// immutable snapshots and notifies listeners once.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Hub struct {
	conn     Connection
	topics   hdp.Topics
	decoder  *hdp.Decoder
	recon    *device.Reconciler
	pairing  *device.PairingTracker
	corr     *command.Correlator
	store    device.SnapshotStore
	observer StateObserver
	boot     Fetcher
	logger   Logger
	alwaysOn bool
	delay    time.Duration
	now      func() time.Time

	inbox chan inbound
	ops   chan func()
	done  chan struct{}
	wg    sync.WaitGroup

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc

	// Loop-owned.
	dirty        bool
	pendingDirty bool
	pairingDirty bool
	saveTimer    *time.Timer
	unsaved      bool

	// Published by the loop.
	devices     atomic.Pointer[[]device.Record]
	sessions    atomic.Pointer[map[string]device.PairingSession]
	pending     atomic.Pointer[map[string]command.PendingInfo]
	parseErrors atomic.Uint64

	saveMu sync.Mutex

	// mu guards listeners. It is never held across a call into conn.
	mu             sync.Mutex
	listeners      map[uint64]*listener
	nextID         uint64
	removeTeardown func()
	releaseAlways  func()

	// attachMu serializes broker subscribe and release of the HDP filters.
	attachMu sync.Mutex
	attached bool
	unsubs   []func()
}

// New creates a hub. Call Start before sending commands.
func New(opts Options) (*Hub, error) {
	if opts.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	opts = opts.withDefaults()

	h := &Hub{
		conn:      opts.Conn,
		topics:    *opts.Topics,
		decoder:   hdp.NewDecoder(*opts.Topics),
		recon:     device.NewReconciler(opts.Identity),
		pairing:   device.NewPairingTracker(),
		store:     opts.Store,
		observer:  opts.Observer,
		boot:      opts.Bootstrap,
		logger:    opts.Logger,
		alwaysOn:  opts.AlwaysOn,
		delay:     opts.SaveDelay,
		now:       time.Now,
		inbox:     make(chan inbound, inboxSize),
		ops:       make(chan func(), opsSize),
		done:      make(chan struct{}),
		listeners: make(map[uint64]*listener),
	}
	h.corr = command.NewCorrelator(opts.CommandTimeout, command.LoopScheduler{Post: h.post})

	empty := []device.Record{}
	h.devices.Store(&empty)
	sessions := map[string]device.PairingSession{}
	h.sessions.Store(&sessions)
	pending := map[string]command.PendingInfo{}
	h.pending.Store(&pending)

	return h, nil
}

// Start seeds the view from the snapshot store, starts the loop, and kicks
// off the bootstrap fetch. The hub closes itself when ctx ends.
func (h *Hub) Start(ctx context.Context) error {
	if h.closed.Load() {
		return ErrClosed
	}
	if !h.started.CompareAndSwap(false, true) {
		return nil
	}

	h.warmStart(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(1)
	go h.run()

	removeTeardown := h.conn.OnTeardown(h.onTeardown)
	h.mu.Lock()
	h.removeTeardown = removeTeardown
	h.mu.Unlock()

	if h.alwaysOn {
		h.releaseAlways = h.Subscribe(func([]device.Record) {})
	}

	if h.boot != nil {
		h.wg.Add(1)
		go h.bootstrap(runCtx)
	}

	go func() {
		select {
		case <-runCtx.Done():
			if ctx.Err() != nil {
				h.Close()
			}
		case <-h.done:
		}
	}()

	h.logger.Info("device hub started", "prefix", h.topics.Prefix(), "always_on", h.alwaysOn)
	return nil
}

// Close resolves every pending command Unknown, flushes the snapshot store,
// releases the broker subscriptions, and stops the loop.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		release := h.releaseAlways
		h.releaseAlways = nil
		h.mu.Unlock()
		if release != nil {
			release()
		}

		if h.started.Load() {
			_ = h.do(context.Background(), func() {
				if n := h.corr.ResolveAll(command.ReasonTeardown); n > 0 {
					h.logger.Info("resolved pending commands on close", "count", n)
				}
				h.pendingDirty = true
			})
		}

		h.closed.Store(true)
		close(h.done)
		if h.cancel != nil {
			h.cancel()
		}

		h.mu.Lock()
		removeTeardown := h.removeTeardown
		h.removeTeardown = nil
		listeners := h.listeners
		h.listeners = make(map[uint64]*listener)
		h.mu.Unlock()

		if removeTeardown != nil {
			removeTeardown()
		}
		h.syncFilters()
		for _, l := range listeners {
			l.close()
		}

		h.wg.Wait()
		h.logger.Info("device hub stopped")
	})
}

// ListDevices returns the visible device list, sorted by name then id.
// The slice is shared between callers and must not be modified.
func (h *Hub) ListDevices() []device.Record {
	return *h.devices.Load()
}

// Device returns one visible device by id.
func (h *Hub) Device(id string) (device.Record, bool) {
	id = device.NormalizeID(id)
	for _, rec := range h.ListDevices() {
		if rec.ID == id {
			return rec, true
		}
	}
	return device.Record{}, false
}

// PairingSessions returns the pairing sessions keyed by protocol.
func (h *Hub) PairingSessions() map[string]device.PairingSession {
	return maps.Clone(*h.sessions.Load())
}

// PendingCommand returns the in-flight command for a device, for optimistic UI.
func (h *Hub) PendingCommand(deviceID string) (command.PendingInfo, bool) {
	p, ok := (*h.pending.Load())[device.NormalizeID(deviceID)]
	return p, ok
}

// PendingCommands returns every in-flight command keyed by device id.
func (h *Hub) PendingCommands() map[string]command.PendingInfo {
	return maps.Clone(*h.pending.Load())
}

// ConnectionStatus reports which push streams are live: connected and the
// stream's filter acknowledged by the broker in the current session.
func (h *Hub) ConnectionStatus() ConnectionStatus {
	if !h.conn.Connected() {
		return ConnectionStatus{}
	}
	return ConnectionStatus{
		MetadataConnected: h.conn.FilterActive(h.topics.MetadataFilter()),
		StateConnected:    h.conn.FilterActive(h.topics.StateFilter()),
	}
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	listeners := len(h.listeners)
	h.mu.Unlock()
	return Stats{
		Devices:     len(h.ListDevices()),
		Pending:     len(*h.pending.Load()),
		Listeners:   listeners,
		ParseErrors: h.parseErrors.Load(),
	}
}

// ApplySnapshot merges a full device list on the loop. Newer pushed state is
// never regressed. Used as the fallback poller's sink.
func (h *Hub) ApplySnapshot(rows []hdp.DeviceSnapshot) {
	if len(rows) == 0 {
		return
	}
	h.post(func() { h.applySnapshot(rows) })
}

// ============================================================================
// Event loop
// ============================================================================

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			h.stopSaveTimer()
			h.flushSave()
			return
		case m := <-h.inbox:
			h.handle(m)
		case fn := <-h.ops:
			fn()
		}
		h.drain()
		h.publish()
	}
}

// drain handles everything already queued without blocking.
func (h *Hub) drain() {
	for {
		select {
		case m := <-h.inbox:
			h.handle(m)
		case fn := <-h.ops:
			fn()
		default:
			return
		}
	}
}

// post queues fn for the loop. It is dropped after Close.
func (h *Hub) post(fn func()) {
	select {
	case h.ops <- fn:
	case <-h.done:
	}
}

// do runs fn on the loop and waits for it.
func (h *Hub) do(ctx context.Context, fn func()) error {
	if !h.started.Load() {
		return ErrNotStarted
	}
	finished := make(chan struct{})
	select {
	case h.ops <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receive is the broker handler for every hub filter.
func (h *Hub) receive(topic string, payload []byte) error {
	select {
	case h.inbox <- inbound{topic: topic, payload: payload}:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

func (h *Hub) handle(m inbound) {
	msg := h.decoder.Decode(m.topic, m.payload)

	switch msg := msg.(type) {
	case hdp.ParseError:
		h.recon.Apply(msg)
		h.parseErrors.Store(h.recon.ParseErrors())
		h.logger.Debug("dropping undecodable message", "topic", msg.Topic, "error", msg.Err)
		return
	case hdp.PairingProgress:
		if s, ok := h.pairing.Apply(msg); ok {
			h.pairingDirty = true
			h.logger.Debug("pairing progress", "protocol", s.Protocol, "stage", s.Stage, "status", string(s.Status))
		}
		return
	}

	change := h.recon.Apply(msg)
	if change.Purged {
		h.logger.Debug("purged legacy device identity", "device_id", change.DeviceID)
		h.dirty = h.dirty || change.Changed
		return
	}
	if change.Changed {
		h.dirty = true
	}

	switch msg := msg.(type) {
	case hdp.State:
		if !change.Changed {
			return
		}
		version := h.recon.StateVersion(change.DeviceID)
		if h.corr.Len() > 0 {
			h.corr.ObserveState(change.DeviceID, version, msg.Corr)
			h.pendingDirty = true
		}
		if h.observer != nil {
			h.observer.RecordState(change.DeviceID, msg.State, version)
		}
	case hdp.CommandResult:
		res := msg
		res.DeviceID = device.NormalizeID(res.DeviceID)
		if h.corr.HandleResult(res, h.recon.StateVersion(res.DeviceID)) {
			h.pendingDirty = true
		} else {
			h.logger.Debug("ignoring uncorrelated command result", "device_id", res.DeviceID, "corr", res.Corr)
		}
	case hdp.Event:
		if change.Removed {
			h.logger.Info("device removed", "device_id", change.DeviceID)
		}
	}
}

func (h *Hub) applySnapshot(rows []hdp.DeviceSnapshot) {
	if !h.recon.ApplySnapshot(rows, h.now()) {
		return
	}
	h.dirty = true
	if h.corr.Len() == 0 {
		return
	}
	for _, row := range rows {
		id := device.NormalizeID(row.DeviceID)
		h.corr.ObserveState(id, h.recon.StateVersion(id), "")
	}
	h.pendingDirty = true
}

func (h *Hub) onTeardown() {
	h.post(func() {
		if n := h.corr.ResolveAll(command.ReasonTeardown); n > 0 {
			h.logger.Info("connection torn down, resolved pending commands", "count", n)
		}
		h.pendingDirty = true
	})
}

// publish stores fresh snapshots and notifies listeners once.
func (h *Hub) publish() {
	if h.pairingDirty {
		sessions := h.pairing.Sessions()
		h.sessions.Store(&sessions)
		h.pairingDirty = false
	}

	notify := h.dirty || h.pendingDirty
	if h.pendingDirty {
		pending := h.corr.Pending()
		h.pending.Store(&pending)
		h.pendingDirty = false
	}
	if h.dirty {
		list := h.recon.List()
		h.devices.Store(&list)
		h.dirty = false
		h.scheduleSave()
	}
	if !notify {
		return
	}

	list := *h.devices.Load()
	h.mu.Lock()
	targets := make([]*listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		targets = append(targets, l)
	}
	h.mu.Unlock()
	for _, l := range targets {
		l.offer(list)
	}
}

func (h *Hub) bootstrap(ctx context.Context) {
	defer h.wg.Done()
	rows, err := h.boot.FetchDevices(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			h.logger.Warn("bootstrap fetch failed", "error", err)
		}
		return
	}
	h.logger.Info("bootstrap fetch complete", "devices", len(rows))
	h.ApplySnapshot(rows)
}
