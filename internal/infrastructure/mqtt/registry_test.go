package mqtt

import (
	"errors"
	"sync"
	"testing"
)

// fakeBroker records the calls a Registry makes into its connection.
type fakeBroker struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	acquired     int
	released     int
}

func (b *fakeBroker) subscribeFilter(filter string) {
	b.mu.Lock()
	b.subscribed = append(b.subscribed, filter)
	b.mu.Unlock()
}

func (b *fakeBroker) unsubscribeFilter(filter string) {
	b.mu.Lock()
	b.unsubscribed = append(b.unsubscribed, filter)
	b.mu.Unlock()
}

func (b *fakeBroker) acquire() {
	b.mu.Lock()
	b.acquired++
	b.mu.Unlock()
}

func (b *fakeBroker) release() {
	b.mu.Lock()
	b.released++
	b.mu.Unlock()
}

func noopHandler(string, []byte) error { return nil }

func TestRegistry_SubscribeSharesFilter(t *testing.T) {
	broker := &fakeBroker{}
	r := newRegistry(broker, nil)

	unsubA, err := r.Subscribe("a/#", noopHandler)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	unsubB, err := r.Subscribe("a/#", noopHandler)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if len(broker.subscribed) != 1 {
		t.Errorf("broker subscribes = %d, want 1", len(broker.subscribed))
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if r.HandlerCount("a/#") != 2 {
		t.Errorf("HandlerCount() = %d, want 2", r.HandlerCount("a/#"))
	}

	r.markActive("a/#")
	unsubA()
	if len(broker.unsubscribed) != 0 {
		t.Errorf("broker unsubscribed with a handler remaining")
	}
	unsubB()
	if len(broker.unsubscribed) != 1 {
		t.Errorf("broker unsubscribes = %d, want 1", len(broker.unsubscribed))
	}
	if broker.released != 1 {
		t.Errorf("released = %d, want 1", broker.released)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	broker := &fakeBroker{}
	r := newRegistry(broker, nil)

	unsub, _ := r.Subscribe("a/b", noopHandler)
	keep, _ := r.Subscribe("c/d", noopHandler)
	defer keep()

	unsub()
	unsub()

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if broker.released != 0 {
		t.Errorf("released = %d, want 0 while c/d remains", broker.released)
	}
}

func TestRegistry_UnsubscribeInactiveFilterSkipsBroker(t *testing.T) {
	broker := &fakeBroker{}
	r := newRegistry(broker, nil)

	unsub, _ := r.Subscribe("a/b", noopHandler)
	unsub()

	if len(broker.unsubscribed) != 0 {
		t.Errorf("unsubscribed never-acknowledged filter: %v", broker.unsubscribed)
	}
	if broker.released != 1 {
		t.Errorf("released = %d, want 1", broker.released)
	}
}

func TestRegistry_Route(t *testing.T) {
	r := newRegistry(&fakeBroker{}, nil)

	var mu sync.Mutex
	got := map[string]int{}
	record := func(name string) MessageHandler {
		return func(topic string, _ []byte) error {
			mu.Lock()
			got[name]++
			mu.Unlock()
			return nil
		}
	}

	_, _ = r.Subscribe("a/+/c", record("plus"))
	_, _ = r.Subscribe("a/#", record("hash"))
	_, _ = r.Subscribe("x/y", record("other"))

	if n := r.Route("a/b/c", nil); n != 2 {
		t.Errorf("Route() delivered = %d, want 2", n)
	}
	if got["plus"] != 1 || got["hash"] != 1 || got["other"] != 0 {
		t.Errorf("deliveries = %v", got)
	}

	if n := r.Route("z", nil); n != 0 {
		t.Errorf("Route() unmatched delivered = %d, want 0", n)
	}
}

func TestRegistry_RouteSurvivesPanicAndError(t *testing.T) {
	r := newRegistry(&fakeBroker{}, nil)

	called := false
	_, _ = r.Subscribe("a", func(string, []byte) error { panic("boom") })
	_, _ = r.Subscribe("+", func(string, []byte) error { return errors.New("bad payload") })
	_, _ = r.Subscribe("#", func(string, []byte) error { called = true; return nil })

	if n := r.Route("a", []byte("x")); n != 3 {
		t.Errorf("Route() delivered = %d, want 3", n)
	}
	if !called {
		t.Error("healthy handler not invoked after sibling panic")
	}
}

func TestRegistry_NoDeliveryAfterUnsubscribe(t *testing.T) {
	r := newRegistry(&fakeBroker{}, nil)

	calls := 0
	unsub, _ := r.Subscribe("a", func(string, []byte) error { calls++; return nil })
	r.Route("a", nil)
	unsub()
	r.Route("a", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRegistry_SubscribeValidation(t *testing.T) {
	r := newRegistry(&fakeBroker{}, nil)

	if _, err := r.Subscribe("a/#/b", noopHandler); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("Subscribe(bad filter) error = %v, want ErrInvalidFilter", err)
	}
	if _, err := r.Subscribe("a", nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after rejected subscribes, want 0", r.Len())
	}
}

func TestRegistry_PendingAndActive(t *testing.T) {
	r := newRegistry(&fakeBroker{}, nil)
	_, _ = r.Subscribe("b", noopHandler)
	_, _ = r.Subscribe("a", noopHandler)

	pending := r.pending()
	if len(pending) != 2 || pending[0] != "a" || pending[1] != "b" {
		t.Errorf("pending() = %v, want [a b]", pending)
	}

	r.markActive("a")
	if !r.Active("a") || r.Active("b") {
		t.Error("Active() mismatch after markActive(a)")
	}
	if p := r.pending(); len(p) != 1 || p[0] != "b" {
		t.Errorf("pending() = %v, want [b]", p)
	}

	r.resetActive()
	if r.Active("a") {
		t.Error("Active(a) = true after resetActive()")
	}
}

func TestRegistry_ResubscribeDuringRemoveKeepsBrokerFilter(t *testing.T) {
	broker := &fakeBroker{}
	r := newRegistry(broker, nil)

	unsub, _ := r.Subscribe("a/#", noopHandler)
	r.markActive("a/#")

	// Hold the broker side so the removal and the new subscribe overlap.
	r.brokerMu.Lock()
	removed := make(chan struct{})
	go func() {
		unsub()
		close(removed)
	}()
	waitFor(t, "filter removed", func() bool { return r.Len() == 0 })

	resubscribed := make(chan func())
	go func() {
		again, _ := r.Subscribe("a/#", noopHandler)
		resubscribed <- again
	}()
	waitFor(t, "filter registered again", func() bool { return r.Has("a/#") })
	r.brokerMu.Unlock()

	<-removed
	again := <-resubscribed
	defer again()

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.unsubscribed) != 0 {
		t.Errorf("broker unsubscribed %v after the filter was registered again", broker.unsubscribed)
	}
	if len(broker.subscribed) != 2 {
		t.Errorf("broker subscribes = %v, want 2", broker.subscribed)
	}
	if r.HandlerCount("a/#") != 1 {
		t.Errorf("HandlerCount() = %d, want 1", r.HandlerCount("a/#"))
	}
}

func TestRegistry_RemoveUnsubscribesCurrentGeneration(t *testing.T) {
	broker := &fakeBroker{}
	r := newRegistry(broker, nil)

	first, _ := r.Subscribe("a/#", noopHandler)
	r.markActive("a/#")
	first()

	second, _ := r.Subscribe("a/#", noopHandler)
	r.markActive("a/#")
	second()

	if len(broker.unsubscribed) != 2 {
		t.Errorf("broker unsubscribes = %v, want 2", broker.unsubscribed)
	}
}
