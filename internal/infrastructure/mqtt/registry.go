package mqtt

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// MessageHandler is the callback signature for routed messages.
//
// Handlers run on the transport's delivery goroutine, in broker order.
// They should hand work off (e.g. onto a channel) rather than block.
//
// Returns:
//   - error: Logged but does not affect routing of other handlers
type MessageHandler func(topic string, payload []byte) error

// filterBroker is the side of the SharedConnection the Registry drives.
// The Registry never holds its own lock while calling into it.
type filterBroker interface {
	// subscribeFilter issues a broker subscribe if connected; otherwise the
	// filter stays queued until the next connect flushes it.
	subscribeFilter(filter string)
	unsubscribeFilter(filter string)

	// acquire is called on every subscribe; it cancels idle teardown and
	// starts connecting when idle.
	acquire()

	// release is called when the last filter is removed.
	release()
}

// handlerEntry is one registered callback. live is cleared by unsubscribe
// before the entry is dropped so in-flight routing skips it.
type handlerEntry struct {
	fn   MessageHandler
	live atomic.Bool
}

// registration ties a filter to its handler set.
type registration struct {
	filter   string
	gen      uint64
	handlers map[uint64]*handlerEntry
	active   bool // broker-acknowledged in the current session
}

// Registry is a reference-counted map of topic filter to handler set.
//
// The number of filters is the reference count of the owning connection:
// the first subscribe acquires it, removing the last filter releases it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	nextID  uint64
	nextGen uint64

	// brokerMu orders broker subscribe and unsubscribe calls.
	brokerMu sync.Mutex

	broker filterBroker
	logger Logger
}

// newRegistry creates an empty registry bound to a broker side.
func newRegistry(broker filterBroker, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		entries: make(map[string]*registration),
		broker:  broker,
		logger:  logger,
	}
}

// Subscribe adds handler to the handler set for filter.
//
// The first handler for a filter triggers a broker-level subscribe (queued
// until connected). The returned function removes the handler; it is
// idempotent and synchronous: once it returns the handler is never invoked
// again. Removing the last handler for a filter issues a broker-level
// unsubscribe and deletes the entry.
//
// Parameters:
//   - filter: Topic filter, may contain + and # wildcards
//   - handler: Callback for every matching message
//
// Returns:
//   - func(): Unsubscribe function
//   - error: ErrInvalidFilter/ErrInvalidTopic for bad filters, ErrSubscribeFailed for nil handler
func (r *Registry) Subscribe(filter string, handler MessageHandler) (func(), error) {
	if err := ValidFilter(filter); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	entry := &handlerEntry{fn: handler}
	entry.live.Store(true)

	r.mu.Lock()
	reg, exists := r.entries[filter]
	if !exists {
		r.nextGen++
		reg = &registration{
			filter:   filter,
			gen:      r.nextGen,
			handlers: make(map[uint64]*handlerEntry),
		}
		r.entries[filter] = reg
	}
	r.nextID++
	id := r.nextID
	reg.handlers[id] = entry
	r.mu.Unlock()

	r.broker.acquire()
	if !exists {
		r.brokerMu.Lock()
		if r.current(filter, reg.gen) {
			r.broker.subscribeFilter(filter)
		}
		r.brokerMu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.live.Store(false)
			r.remove(filter, id)
		})
	}, nil
}

// remove drops one handler and cascades to broker unsubscribe / release.
func (r *Registry) remove(filter string, id uint64) {
	r.mu.Lock()
	reg, ok := r.entries[filter]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(reg.handlers, id)

	lastForFilter := len(reg.handlers) == 0
	wasActive := reg.active
	if lastForFilter {
		delete(r.entries, filter)
	}
	empty := len(r.entries) == 0
	r.mu.Unlock()

	if lastForFilter && wasActive {
		// A Subscribe racing in after the delete owns the broker filter now.
		r.brokerMu.Lock()
		if !r.registeredAfter(filter, reg.gen) {
			r.broker.unsubscribeFilter(filter)
		}
		r.brokerMu.Unlock()
	}
	if empty && lastForFilter {
		r.broker.release()
	}
}

// current reports whether gen is still the live registration of filter.
func (r *Registry) current(filter string, gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[filter]
	return ok && reg.gen == gen
}

// registeredAfter reports whether filter was registered again after gen was removed.
func (r *Registry) registeredAfter(filter string, gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[filter]
	return ok && reg.gen > gen
}

// Has reports whether filter is registered.
func (r *Registry) Has(filter string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[filter]
	return ok
}

// Route delivers one inbound message to every live handler of every
// matching filter. Handler panics and errors are logged, never propagated.
func (r *Registry) Route(topic string, payload []byte) int {
	r.mu.RLock()
	var targets []*handlerEntry
	for filter, reg := range r.entries {
		if !Matches(filter, topic) {
			continue
		}
		for _, h := range reg.handlers {
			targets = append(targets, h)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, h := range targets {
		if !h.live.Load() {
			continue
		}
		r.invoke(h.fn, topic, payload)
		delivered++
	}
	return delivered
}

// invoke calls a handler with panic recovery.
func (r *Registry) invoke(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("MQTT handler panic recovered",
				"topic", topic,
				"panic", rec,
			)
		}
	}()

	if err := handler(topic, payload); err != nil {
		r.logger.Warn("MQTT handler returned error",
			"topic", topic,
			"error", err,
		)
	}
}

// Len returns the number of registered filters (the reference count).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// HandlerCount returns the number of handlers registered for filter.
func (r *Registry) HandlerCount(filter string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.entries[filter]; ok {
		return len(reg.handlers)
	}
	return 0
}

// Filters returns the registered filters in sorted order.
func (r *Registry) Filters() []string {
	r.mu.RLock()
	filters := make([]string, 0, len(r.entries))
	for f := range r.entries {
		filters = append(filters, f)
	}
	r.mu.RUnlock()
	sort.Strings(filters)
	return filters
}

// Active reports whether filter is broker-acknowledged in the current session.
func (r *Registry) Active(filter string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[filter]
	return ok && reg.active
}

// pending returns filters not yet acknowledged in the current session.
func (r *Registry) pending() []string {
	r.mu.RLock()
	var filters []string
	for f, reg := range r.entries {
		if !reg.active {
			filters = append(filters, f)
		}
	}
	r.mu.RUnlock()
	sort.Strings(filters)
	return filters
}

// markActive flags filter as broker-acknowledged. Unknown filters are ignored.
func (r *Registry) markActive(filter string) {
	r.mu.Lock()
	if reg, ok := r.entries[filter]; ok {
		reg.active = true
	}
	r.mu.Unlock()
}

// resetActive clears every acknowledgment; called when a session ends.
func (r *Registry) resetActive() {
	r.mu.Lock()
	for _, reg := range r.entries {
		reg.active = false
	}
	r.mu.Unlock()
}
