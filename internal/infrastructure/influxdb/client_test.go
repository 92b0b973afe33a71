package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/config"
)

type fakePinger struct {
	healthy bool
	err     error
}

func (f fakePinger) Ping(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return f.healthy, f.err
}

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	query  string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/ping"):
		f.mu.Lock()
		status := f.status
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	case strings.HasSuffix(r.URL.Path, "/api/v2/write"):
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.query = r.URL.RawQuery
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func serverConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled: true,
		URL:     url,
		Token:   "test-token",
		Org:     "homenavi",
		Bucket:  "devicehub",
	}
}

// =============================================================================
// Connect
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := serverConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := Connect(context.Background(), cfg, nil); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := Connect(context.Background(), serverConfig(url), nil); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_WritesStatePoints(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	sink, err := Connect(context.Background(), serverConfig(srv.URL), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := sink.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	sink.RecordState("zigbee/lamp", map[string]any{"on": true, "brightness": 180.0}, time.UnixMilli(1700000000000))
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := fake.written()
	if len(lines) != 1 {
		t.Fatalf("written lines = %q, want 1", lines)
	}
	line := lines[0]
	for _, want := range []string{"device_state,", "device_id=zigbee/lamp", "protocol=zigbee", "brightness=180", "on=true"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.Contains(fake.query, "bucket=devicehub") || !strings.Contains(fake.query, "org=homenavi") {
		t.Errorf("write query = %q", fake.query)
	}
}

// =============================================================================
// HealthCheck
// =============================================================================

func TestSink_HealthCheck(t *testing.T) {
	tests := []struct {
		name string
		ping fakePinger
		want error
	}{
		{"healthy", fakePinger{healthy: true}, nil},
		{"not ready", fakePinger{healthy: false}, ErrUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSink(tt.ping, &fakeWriter{}, nil, nil, nil)
			if err := s.HealthCheck(context.Background()); !errors.Is(err, tt.want) {
				t.Errorf("HealthCheck() error = %v, want %v", err, tt.want)
			}
		})
	}

	s := newSink(fakePinger{err: errors.New("refused")}, &fakeWriter{}, nil, nil, nil)
	if err := s.HealthCheck(context.Background()); err == nil || !strings.Contains(err.Error(), "refused") {
		t.Errorf("HealthCheck() error = %v, want ping failure", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s = newSink(fakePinger{healthy: true}, &fakeWriter{}, nil, nil, nil)
	if err := s.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}

	_ = s.Close()
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrClosed", err)
	}
}

func TestSink_ForwardsWriteErrors(t *testing.T) {
	errs := make(chan error, 1)
	got := make(chan error, 1)
	newSink(fakePinger{healthy: true}, &fakeWriter{}, errs, nil, func(err error) { got <- err })

	errs <- errors.New("write rejected")
	close(errs)

	select {
	case err := <-got:
		if err.Error() != "write rejected" {
			t.Errorf("onError got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write error not forwarded")
	}
}
