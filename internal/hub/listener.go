package hub

import (
	"sync"

	"github.com/nerrad567/gray-logic-devicehub/internal/device"
)

// listener delivers device lists to one consumer callback on its own
// goroutine. The mailbox holds only the latest list, so a slow consumer
// skips intermediate lists and always ends on the final one.
type listener struct {
	fn      func([]device.Record)
	mu      sync.Mutex
	mailbox chan []device.Record
	stop    chan struct{}
	stopped bool
}

func newListener(fn func([]device.Record)) *listener {
	l := &listener{
		fn:      fn,
		mailbox: make(chan []device.Record, 1),
		stop:    make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *listener) run() {
	for {
		select {
		case <-l.stop:
			return
		case list := <-l.mailbox:
			l.fn(list)
		}
	}
}

// offer replaces whatever is waiting in the mailbox with list.
func (l *listener) offer(list []device.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	select {
	case <-l.mailbox:
	default:
	}
	l.mailbox <- list
}

// close stops delivery. A callback already running is allowed to finish.
func (l *listener) close() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	close(l.stop)
	l.mu.Unlock()
}

// Subscribe registers onChange to receive the device list after every
// coalesced change, starting with the current list. The first listener
// subscribes the hub's topic filters; the last unsubscribe releases them.
//
// The returned function is idempotent.
func (h *Hub) Subscribe(onChange func([]device.Record)) (unsubscribe func()) {
	if h.closed.Load() {
		return func() {}
	}

	l := newListener(onChange)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.mu.Unlock()

	h.syncFilters()
	l.offer(h.ListDevices())

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
			l.close()
			h.syncFilters()
		})
	}
}

// syncFilters subscribes or releases the HDP filters to match whether any
// listener remains. Broker calls are made under attachMu only, never h.mu,
// so the loop keeps publishing while a subscribe waits on the network.
func (h *Hub) syncFilters() {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()

	h.mu.Lock()
	want := len(h.listeners) > 0 && !h.closed.Load()
	h.mu.Unlock()

	switch {
	case want && !h.attached:
		h.attach()
	case !want && h.attached:
		h.detach()
	}
}

// attach subscribes every HDP filter. attachMu must be held.
func (h *Hub) attach() {
	for _, filter := range h.topics.Filters() {
		unsub, err := h.conn.Subscribe(filter, h.receive)
		if err != nil {
			h.logger.Error("subscribing hub filter", "filter", filter, "error", err)
			continue
		}
		h.unsubs = append(h.unsubs, unsub)
	}
	h.attached = true
	h.logger.Debug("hub filters subscribed", "filters", len(h.unsubs))
}

// detach releases every HDP filter. attachMu must be held.
func (h *Hub) detach() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
	h.attached = false
	h.logger.Debug("hub filters released")
}
