package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/config"
)

const (
	defaultBatchSize     = 500
	defaultFlushInterval = 10 * time.Second
	pingTimeout          = 5 * time.Second
)

// pointWriter is the subset of api.WriteAPI the sink writes through.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// pinger is the subset of influxdb2.Client used for health checks.
type pinger interface {
	Ping(ctx context.Context) (bool, error)
}

// Sink records accepted device state as InfluxDB points.
//
// RecordState never blocks on the network: points are batched by the
// client library and write errors arrive on the onError callback. A Sink is
// safe for concurrent use.
type Sink struct {
	ping    pinger
	writer  pointWriter
	release func()

	closed    atomic.Bool
	closeOnce sync.Once
	written   atomic.Uint64
	skipped   atomic.Uint64
}

// Connect pings the server and returns a sink writing to cfg's org and bucket.
// onError, which may be nil, receives asynchronous write failures.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, onError func(error)) (*Sink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(positiveOr(cfg.BatchSize, defaultBatchSize))). //nolint:gosec // positive
		SetFlushInterval(uint(flushInterval(cfg.FlushInterval).Milliseconds())) //nolint:gosec // positive
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if err := checkPing(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	return newSink(client, writeAPI, writeAPI.Errors(), client.Close, onError), nil
}

// newSink wires a sink around its collaborators and starts forwarding errs.
func newSink(p pinger, w pointWriter, errs <-chan error, release func(), onError func(error)) *Sink {
	s := &Sink{ping: p, writer: w, release: release}
	if errs != nil {
		go func() {
			for err := range errs {
				if onError != nil {
					onError(err)
				}
			}
		}()
	}
	return s
}

// Close flushes buffered points and releases the client. Later RecordState
// calls are dropped.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writer.Flush()
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

// HealthCheck pings the server.
func (s *Sink) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return checkPing(ctx, s.ping)
}

// Written returns how many points were handed to the writer.
func (s *Sink) Written() uint64 { return s.written.Load() }

// Skipped returns how many state updates carried nothing to record.
func (s *Sink) Skipped() uint64 { return s.skipped.Load() }

func checkPing(ctx context.Context, p pinger) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := p.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return ErrUnhealthy
	}
	return nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// flushInterval converts the configured seconds, defaulting when unset.
func flushInterval(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultFlushInterval
	}
	return time.Duration(seconds) * time.Second
}
