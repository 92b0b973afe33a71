package fallback

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/mqtt"
)

// defaultInterval is the polling period while the broker is unavailable.
const defaultInterval = 30 * time.Second

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StatusSource is the connection the poller follows.
type StatusSource interface {
	Status() mqtt.ConnStatus
	OnStatusChange(fn func(mqtt.ConnStatus)) (remove func())
}

// Sink receives fetched rows.
type Sink func(rows []hdp.DeviceSnapshot)

// Poller fetches the full device list periodically while the broker
// connection is not connected.
//
// On activation it fetches immediately, then every interval. When the
// connection reports connected the in-flight fetch is cancelled and polling
// stops until the connection is lost again.
type Poller struct {
	fetcher  Fetcher
	conn     StatusSource
	sink     Sink
	interval time.Duration
	logger   Logger

	mu           sync.Mutex
	parent       context.Context
	cancel       context.CancelFunc
	removeStatus func()
	wg           sync.WaitGroup
	fetches      int
}

// NewPoller creates a stopped poller. A non-positive interval selects 30s.
func NewPoller(fetcher Fetcher, conn StatusSource, sink Sink, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		fetcher:  fetcher,
		conn:     conn,
		sink:     sink,
		interval: interval,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Start follows the connection status until ctx ends or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.parent != nil {
		p.mu.Unlock()
		return
	}
	p.parent = ctx
	p.mu.Unlock()

	p.removeStatus = p.conn.OnStatusChange(p.follow)
	p.follow(p.conn.Status())
}

// Stop stops polling and waits for the loop to exit.
func (p *Poller) Stop() {
	if p.removeStatus != nil {
		p.removeStatus()
	}
	p.mu.Lock()
	p.deactivateLocked()
	p.parent = nil
	p.mu.Unlock()
	p.wg.Wait()
}

// Active reports whether the polling loop is running.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Fetches returns how many fetches have completed (successfully or not).
func (p *Poller) Fetches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// follow activates or deactivates on a status change.
func (p *Poller) follow(st mqtt.ConnStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.parent == nil {
		return
	}
	if st.State == mqtt.StateConnected {
		if p.cancel != nil {
			p.logger.Info("broker connected, stopping fallback polling")
		}
		p.deactivateLocked()
		return
	}
	if p.cancel != nil || p.parent.Err() != nil {
		return
	}

	p.logger.Info("broker unavailable, starting fallback polling", "state", st.State.String(), "interval", p.interval)
	ctx, cancel := context.WithCancel(p.parent)
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *Poller) deactivateLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	p.fetch(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetch(ctx)
		}
	}
}

func (p *Poller) fetch(ctx context.Context) {
	rows, err := p.fetcher.FetchDevices(ctx)

	p.mu.Lock()
	p.fetches++
	p.mu.Unlock()

	if ctx.Err() != nil {
		// Deactivated mid-fetch; push data is authoritative again.
		return
	}
	if err != nil {
		p.logger.Warn("fallback fetch failed", "error", err)
		return
	}
	p.logger.Debug("fallback fetch complete", "devices", len(rows))
	p.sink(rows)
}
