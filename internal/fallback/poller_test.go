package fallback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/mqtt"
)

// fakeConn is a StatusSource whose state the test flips.
type fakeConn struct {
	mu        sync.Mutex
	state     mqtt.State
	listeners []func(mqtt.ConnStatus)
}

func (f *fakeConn) Status() mqtt.ConnStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return mqtt.ConnStatus{State: f.state}
}

func (f *fakeConn) OnStatusChange(fn func(mqtt.ConnStatus)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	idx := len(f.listeners) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.listeners[idx] = nil
		f.mu.Unlock()
	}
}

func (f *fakeConn) set(state mqtt.State) {
	f.mu.Lock()
	f.state = state
	listeners := append([]func(mqtt.ConnStatus){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		if fn != nil {
			fn(mqtt.ConnStatus{State: state})
		}
	}
}

// fakeFetcher returns canned rows; block makes fetches wait for ctx.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
	block bool
}

func (f *fakeFetcher) FetchDevices(ctx context.Context) ([]hdp.DeviceSnapshot, error) {
	f.mu.Lock()
	f.calls++
	block, err := f.block, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return []hdp.DeviceSnapshot{{DeviceID: "zigbee/lamp", State: map[string]any{"on": true}}}, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type rowSink struct {
	mu      sync.Mutex
	batches int
}

func (s *rowSink) add([]hdp.DeviceSnapshot) {
	s.mu.Lock()
	s.batches++
	s.mu.Unlock()
}

func (s *rowSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPoller_ActiveWhileDisconnected(t *testing.T) {
	conn := &fakeConn{state: mqtt.StateDisconnected}
	fetcher := &fakeFetcher{}
	sink := &rowSink{}

	p := NewPoller(fetcher, conn, sink.add, 20*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	if !p.Active() {
		t.Fatal("Active() = false while disconnected")
	}
	// Immediate fetch, then periodic.
	waitFor(t, "first batch", func() bool { return sink.count() >= 1 })
	waitFor(t, "periodic batches", func() bool { return sink.count() >= 3 })

	conn.set(mqtt.StateConnected)
	if p.Active() {
		t.Error("Active() = true after connect")
	}

	n := fetcher.count()
	time.Sleep(60 * time.Millisecond)
	if fetcher.count() != n {
		t.Error("fetches continued after connect")
	}

	conn.set(mqtt.StateDisconnected)
	if !p.Active() {
		t.Error("Active() = false after connection lost")
	}
	waitFor(t, "resumed fetch", func() bool { return fetcher.count() > n })
}

func TestPoller_InactiveWhileConnected(t *testing.T) {
	conn := &fakeConn{state: mqtt.StateConnected}
	fetcher := &fakeFetcher{}

	p := NewPoller(fetcher, conn, func([]hdp.DeviceSnapshot) {}, 10*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(40 * time.Millisecond)
	if p.Active() || fetcher.count() != 0 {
		t.Errorf("Active()=%v fetches=%d while connected", p.Active(), fetcher.count())
	}
}

func TestPoller_ConnectCancelsInFlightFetch(t *testing.T) {
	conn := &fakeConn{state: mqtt.StateIdle}
	fetcher := &fakeFetcher{block: true}
	sink := &rowSink{}

	p := NewPoller(fetcher, conn, sink.add, time.Hour)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, "fetch started", func() bool { return fetcher.count() == 1 })
	conn.set(mqtt.StateConnected)
	waitFor(t, "fetch returned", func() bool { return p.Fetches() == 1 })

	if sink.count() != 0 {
		t.Error("cancelled fetch delivered rows")
	}
}

func TestPoller_FetchErrorRetriedNextTick(t *testing.T) {
	conn := &fakeConn{state: mqtt.StateDisconnected}
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	sink := &rowSink{}

	p := NewPoller(fetcher, conn, sink.add, 10*time.Millisecond)
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, "retries", func() bool { return fetcher.count() >= 3 })
	if sink.count() != 0 {
		t.Error("failed fetch delivered rows")
	}
}

func TestPoller_StopEndsLoop(t *testing.T) {
	conn := &fakeConn{state: mqtt.StateDisconnected}
	fetcher := &fakeFetcher{}

	p := NewPoller(fetcher, conn, func([]hdp.DeviceSnapshot) {}, 10*time.Millisecond)
	p.Start(context.Background())
	p.Stop()

	if p.Active() {
		t.Error("Active() = true after Stop")
	}
	n := fetcher.count()
	conn.set(mqtt.StateDisconnected)
	time.Sleep(30 * time.Millisecond)
	if fetcher.count() != n {
		t.Error("fetches after Stop")
	}
}
