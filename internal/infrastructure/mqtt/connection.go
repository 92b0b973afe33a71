package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a SharedConnection.
type State int

// Connection states.
const (
	// StateIdle means no physical socket: freshly created or torn down after
	// the idle grace period expired with no subscribers.
	StateIdle State = iota

	// StateConnecting means a handshake is in progress.
	StateConnecting

	// StateConnected means the handshake succeeded and registered filters
	// are (being) re-subscribed.
	StateConnected

	// StateDisconnected means the socket closed or the handshake failed;
	// a reconnect is scheduled while subscribers remain.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnStatus is a point-in-time view of a SharedConnection.
type ConnStatus struct {
	Endpoint    string        `json:"endpoint"`
	State       State         `json:"state"`
	Attempt     int           `json:"attempt"`
	LastError   string        `json:"last_error,omitempty"`
	ConnectedAt time.Time     `json:"connected_at,omitzero"`
	RetryIn     time.Duration `json:"retry_in,omitempty"`
	Filters     int           `json:"filters"`
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures every connection created by a Pool.
type Options struct {
	ClientID       string
	QoS            byte
	Backoff        Backoff
	IdleGrace      time.Duration
	ConnectTimeout time.Duration

	// Transport builds the physical socket. Nil selects NewPahoTransport.
	Transport TransportFactory

	Logger Logger
}

func (o Options) withDefaults() Options {
	o.Backoff = o.Backoff.withDefaults()
	if o.IdleGrace <= 0 {
		o.IdleGrace = defaultIdleGrace
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.QoS > maxQoS {
		o.QoS = 1
	}
	if o.Transport == nil {
		o.Transport = NewPahoTransport
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

// SharedConnection is one physical broker connection shared by every
// consumer in the process that targets the same Endpoint.
//
// Lifecycle is driven by the Registry's filter count: the first subscription
// connects, losing the connection schedules a backoff reconnect while
// filters remain, and removing the last filter starts an idle grace timer
// after which the socket is closed and the state returns to idle.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Transport calls are never made while holding the state lock.
type SharedConnection struct {
	endpoint  Endpoint
	opts      Options
	transport Transport
	registry  *Registry
	logger    Logger

	mu          sync.Mutex
	state       State
	attempt     int
	lastErr     error
	connectedAt time.Time
	retryIn     time.Duration
	session     uint64 // bumped on every connect attempt and teardown
	retryTimer  *time.Timer
	idleTimer   *time.Timer
	subTimers   map[string]*time.Timer // broker subscribe retries, current session only
	closed      bool

	listenersMu       sync.Mutex
	nextListenerID    int
	statusListeners   map[int]func(ConnStatus)
	teardownListeners map[int]func()
}

// newSharedConnection builds an idle connection. Use Pool.Get instead of
// calling this directly so the endpoint stays shared.
func newSharedConnection(ep Endpoint, opts Options) *SharedConnection {
	opts = opts.withDefaults()

	c := &SharedConnection{
		endpoint:          ep,
		opts:              opts,
		logger:            opts.Logger,
		state:             StateIdle,
		subTimers:         make(map[string]*time.Timer),
		statusListeners:   make(map[int]func(ConnStatus)),
		teardownListeners: make(map[int]func()),
	}
	c.registry = newRegistry(c, opts.Logger)
	c.transport = opts.Transport(ep, opts.ClientID, TransportHooks{
		OnMessage:        c.handleMessage,
		OnConnectionLost: c.handleConnectionLost,
	})
	return c
}

// Endpoint returns the key this connection was created for.
func (c *SharedConnection) Endpoint() Endpoint {
	return c.endpoint
}

// Registry exposes the subscription registry routing this connection's messages.
func (c *SharedConnection) Registry() *Registry {
	return c.registry
}

// Subscribe registers handler for filter on this connection.
// See Registry.Subscribe for semantics.
func (c *SharedConnection) Subscribe(filter string, handler MessageHandler) (func(), error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return c.registry.Subscribe(filter, handler)
}

// Publish sends a message through the shared socket.
//
// Parameters:
//   - ctx: Checked before publishing; the transport bounds the wait itself
//   - topic: Concrete topic (no wildcards)
//   - payload: Message body, max 1MB
//   - retained: Whether the broker should retain the message
//
// Returns:
//   - error: ErrNotConnected unless connected, ErrPublishFailed on transport failure
func (c *SharedConnection) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if err := validPublishTopic(topic); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if !c.Connected() {
		return ErrNotConnected
	}

	if err := c.transport.Publish(topic, payload, c.opts.QoS, retained); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Connected reports whether the connection is in StateConnected.
func (c *SharedConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// FilterActive reports whether filter is registered and broker-acknowledged
// on the current session.
func (c *SharedConnection) FilterActive(filter string) bool {
	return c.Connected() && c.registry.Active(filter)
}

// Status returns a snapshot of the connection state.
func (c *SharedConnection) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *SharedConnection) statusLocked() ConnStatus {
	st := ConnStatus{
		Endpoint:    c.endpoint.String(),
		State:       c.state,
		Attempt:     c.attempt,
		ConnectedAt: c.connectedAt,
		Filters:     c.registry.Len(),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.state == StateDisconnected {
		st.RetryIn = c.retryIn
	}
	return st
}

// HealthCheck returns nil when connected or idle. An idle connection has no
// subscribers and therefore no socket to be unhealthy.
func (c *SharedConnection) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.state == StateConnected, c.state == StateIdle:
		return nil
	default:
		return ErrNotConnected
	}
}

// OnStatusChange registers fn to be called after every state transition and
// filter acknowledgment. Callbacks run outside the connection lock.
func (c *SharedConnection) OnStatusChange(fn func(ConnStatus)) (remove func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.nextListenerID++
	id := c.nextListenerID
	c.statusListeners[id] = fn
	return func() {
		c.listenersMu.Lock()
		delete(c.statusListeners, id)
		c.listenersMu.Unlock()
	}
}

// OnTeardown registers fn to be called when the idle grace period expires
// and the socket is released, or when the connection is closed.
func (c *SharedConnection) OnTeardown(fn func()) (remove func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.nextListenerID++
	id := c.nextListenerID
	c.teardownListeners[id] = fn
	return func() {
		c.listenersMu.Lock()
		delete(c.teardownListeners, id)
		c.listenersMu.Unlock()
	}
}

// Close tears the connection down immediately and rejects new subscriptions.
func (c *SharedConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hadSocket := c.state == StateConnected || c.state == StateConnecting
	c.stopTimersLocked()
	c.session++
	c.state = StateIdle
	c.attempt = 0
	c.mu.Unlock()

	c.registry.resetActive()
	if hadSocket {
		c.transport.Disconnect()
	}
	c.notifyStatus()
	c.notifyTeardown()
	return nil
}

// =============================================================================
// filterBroker implementation (driven by the Registry)
// =============================================================================

// acquire cancels a pending idle teardown and starts connecting when idle.
func (c *SharedConnection) acquire() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	session := c.beginConnectLocked()
	c.mu.Unlock()

	c.notifyStatus()
	go c.dial(session)
}

// release starts the idle grace timer.
func (c *SharedConnection) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.logger.Debug("last subscriber left, starting idle grace", "endpoint", c.endpoint.String(), "grace", c.opts.IdleGrace)
	c.idleTimer = time.AfterFunc(c.opts.IdleGrace, c.idleExpired)
}

// subscribeFilter issues a broker subscribe if connected.
func (c *SharedConnection) subscribeFilter(filter string) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	session := c.session
	c.mu.Unlock()

	c.subscribeOnSession(filter, session)
	c.notifyStatus()
}

// unsubscribeFilter issues a broker unsubscribe if connected.
func (c *SharedConnection) unsubscribeFilter(filter string) {
	if !c.Connected() {
		return
	}
	if err := c.transport.Unsubscribe(filter); err != nil {
		c.logger.Warn("broker unsubscribe failed", "filter", filter, "error", err)
	}
}

// =============================================================================
// Connect / reconnect machinery
// =============================================================================

// beginConnectLocked moves to StateConnecting and returns the new session id.
// Caller must hold c.mu.
func (c *SharedConnection) beginConnectLocked() uint64 {
	c.session++
	c.state = StateConnecting
	c.retryIn = 0
	return c.session
}

// dial performs one handshake for session.
func (c *SharedConnection) dial(session uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	err := c.transport.Connect(ctx)
	cancel()

	c.mu.Lock()
	if c.session != session || c.closed {
		// Torn down while the handshake was in flight.
		c.mu.Unlock()
		if err == nil {
			c.transport.Disconnect()
		}
		return
	}

	if err != nil {
		c.lastErr = err
		c.logger.Warn("broker connect failed", "endpoint", c.endpoint.String(), "attempt", c.attempt, "error", err)
		idle := c.scheduleRetryLocked()
		st := c.statusLocked()
		c.mu.Unlock()
		c.notifyStatusWith(st)
		if idle {
			c.notifyTeardown()
		}
		return
	}

	c.state = StateConnected
	c.attempt = 0
	c.lastErr = nil
	c.connectedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("broker connected", "endpoint", c.endpoint.String())

	// Flush queued filters and restore filters from the previous session.
	for _, filter := range c.registry.pending() {
		c.subscribeOnSession(filter, session)
	}
	c.notifyStatus()
}

// subscribeOnSession subscribes filter and marks it active if the session is still current.
func (c *SharedConnection) subscribeOnSession(filter string, session uint64) {
	c.subscribeAttempt(filter, session, 0)
}

// subscribeAttempt issues one broker subscribe. A failure is retried with the
// reconnect backoff for as long as session stays current and filter stays
// registered.
func (c *SharedConnection) subscribeAttempt(filter string, session uint64, attempt int) {
	err := c.transport.Subscribe(filter, c.opts.QoS)

	c.mu.Lock()
	current := c.session == session && c.state == StateConnected
	if err == nil || !current {
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("broker subscribe failed", "filter", filter, "error", err)
		} else if current {
			c.registry.markActive(filter)
		}
		return
	}

	delay := c.opts.Backoff.Delay(attempt)
	if t := c.subTimers[filter]; t != nil {
		t.Stop()
	}
	c.subTimers[filter] = time.AfterFunc(delay, func() { c.retrySubscribe(filter, session, attempt+1) })
	c.mu.Unlock()

	c.logger.Warn("broker subscribe failed, retrying",
		"filter", filter,
		"attempt", attempt,
		"retry_in", delay,
		"error", err,
	)
}

// retrySubscribe fires after a subscribe backoff delay.
func (c *SharedConnection) retrySubscribe(filter string, session uint64, attempt int) {
	c.mu.Lock()
	current := c.session == session && c.state == StateConnected && !c.closed
	if current {
		delete(c.subTimers, filter)
	}
	c.mu.Unlock()
	if !current || !c.registry.Has(filter) || c.registry.Active(filter) {
		return
	}

	c.subscribeAttempt(filter, session, attempt)
	c.notifyStatus()
}

// handleConnectionLost is the transport callback for a dropped socket.
func (c *SharedConnection) handleConnectionLost(err error) {
	c.mu.Lock()
	if c.state != StateConnected || c.closed {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	c.logger.Warn("broker connection lost", "endpoint", c.endpoint.String(), "error", err)
	idle := c.scheduleRetryLocked()
	st := c.statusLocked()
	c.mu.Unlock()

	c.registry.resetActive()
	c.notifyStatusWith(st)
	if idle {
		c.notifyTeardown()
	}
}

// scheduleRetryLocked enters StateDisconnected and arms the reconnect timer,
// or returns to idle when nobody is subscribed and reports true.
// Caller must hold c.mu.
func (c *SharedConnection) scheduleRetryLocked() bool {
	c.state = StateDisconnected
	if c.registry.Len() == 0 {
		c.becomeIdleLocked()
		return true
	}

	delay := c.opts.Backoff.Delay(c.attempt)
	c.attempt++
	c.retryIn = delay

	session := c.session
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(delay, func() { c.retry(session) })
	return false
}

// retry fires after a backoff delay.
func (c *SharedConnection) retry(session uint64) {
	c.mu.Lock()
	if c.session != session || c.state != StateDisconnected || c.closed {
		c.mu.Unlock()
		return
	}
	if c.registry.Len() == 0 {
		c.becomeIdleLocked()
		c.mu.Unlock()
		c.notifyStatus()
		c.notifyTeardown()
		return
	}
	next := c.beginConnectLocked()
	c.mu.Unlock()

	c.notifyStatus()
	go c.dial(next)
}

// idleExpired closes the socket if still unused after the grace period.
func (c *SharedConnection) idleExpired() {
	c.mu.Lock()
	if c.closed || c.registry.Len() > 0 || c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	hadSocket := c.state == StateConnected || c.state == StateConnecting
	c.becomeIdleLocked()
	c.mu.Unlock()

	c.logger.Info("idle grace expired, closing broker connection", "endpoint", c.endpoint.String())
	c.registry.resetActive()
	if hadSocket {
		c.transport.Disconnect()
	}
	c.notifyStatus()
	c.notifyTeardown()
}

// becomeIdleLocked resets to StateIdle. Caller must hold c.mu.
func (c *SharedConnection) becomeIdleLocked() {
	c.stopTimersLocked()
	c.session++
	c.state = StateIdle
	c.attempt = 0
	c.retryIn = 0
}

func (c *SharedConnection) stopTimersLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	for filter, t := range c.subTimers {
		t.Stop()
		delete(c.subTimers, filter)
	}
}

// handleMessage forwards raw messages to the registry without interpreting them.
func (c *SharedConnection) handleMessage(topic string, payload []byte) {
	c.registry.Route(topic, payload)
}

func (c *SharedConnection) notifyStatus() {
	c.notifyStatusWith(c.Status())
}

// notifyStatusWith delivers a status captured under the state lock so
// listeners observe every transition even when the next one follows quickly.
func (c *SharedConnection) notifyStatusWith(st ConnStatus) {
	c.listenersMu.Lock()
	listeners := make([]func(ConnStatus), 0, len(c.statusListeners))
	for _, fn := range c.statusListeners {
		listeners = append(listeners, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
}

func (c *SharedConnection) notifyTeardown() {
	c.listenersMu.Lock()
	listeners := make([]func(), 0, len(c.teardownListeners))
	for _, fn := range c.teardownListeners {
		listeners = append(listeners, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
