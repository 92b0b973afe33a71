package fallback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// testServer serves a device list the way the device hub REST API does.
func testServer(t *testing.T, status int, body string, gotAuth *string) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/hdp/devices", func(w http.ResponseWriter, req *http.Request) {
		if gotAuth != nil {
			*gotAuth = req.Header.Get("Authorization")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_FetchDevices(t *testing.T) {
	var auth string
	srv := testServer(t, http.StatusOK,
		`[{"id":"zigbee/lamp","name":"Lamp","state":{"on":true},"state_ts":1000}]`, &auth)

	c := NewClient(srv.URL+"/", time.Second, StaticToken("tok-123"))
	rows, err := c.FetchDevices(context.Background())
	if err != nil {
		t.Fatalf("FetchDevices() error = %v", err)
	}
	if len(rows) != 1 || rows[0].DeviceID != "zigbee/lamp" {
		t.Errorf("rows = %+v", rows)
	}
	if auth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want Bearer tok-123", auth)
	}
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	auth := "unset"
	srv := testServer(t, http.StatusOK, `[]`, &auth)

	if _, err := NewClient(srv.URL, 0, nil).FetchDevices(context.Background()); err != nil {
		t.Fatalf("FetchDevices() error = %v", err)
	}
	if auth != "" {
		t.Errorf("Authorization = %q, want empty", auth)
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"unauthorized", http.StatusUnauthorized, ``},
		{"bad body", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, tt.status, tt.body, nil)
			_, err := NewClient(srv.URL, time.Second, nil).FetchDevices(context.Background())
			if !errors.Is(err, ErrFetchFailed) {
				t.Errorf("FetchDevices() error = %v, want ErrFetchFailed", err)
			}
		})
	}
}

func TestClient_TokenError(t *testing.T) {
	srv := testServer(t, http.StatusOK, `[]`, nil)
	c := NewClient(srv.URL, time.Second, func() (string, error) { return "", errors.New("no secret") })
	if _, err := c.FetchDevices(context.Background()); !errors.Is(err, ErrFetchFailed) {
		t.Errorf("FetchDevices() error = %v, want ErrFetchFailed", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := testServer(t, http.StatusOK, `[]`, nil)
	url := srv.URL
	srv.Close()

	if _, err := NewClient(url, time.Second, nil).FetchDevices(context.Background()); !errors.Is(err, ErrFetchFailed) {
		t.Errorf("FetchDevices() error = %v, want ErrFetchFailed", err)
	}
}
