package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-devicehub/internal/command"
	"github.com/nerrad567/gray-logic-devicehub/internal/device"
	"github.com/nerrad567/gray-logic-devicehub/internal/hub"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/mqtt"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceHub is the part of hub.Hub the API serves.
type DeviceHub interface {
	ListDevices() []device.Record
	Device(id string) (device.Record, bool)
	PendingCommands() map[string]command.PendingInfo
	PairingSessions() map[string]device.PairingSession
	ConnectionStatus() hub.ConnectionStatus
	Stats() hub.Stats
	Subscribe(onChange func([]device.Record)) (unsubscribe func())
	SendCommand(ctx context.Context, deviceID string, patch map[string]any) (command.Outcome, error)
	SendCommandRequest(ctx context.Context, deviceID string, req hub.CommandRequest) (command.Outcome, error)
	Refresh(ctx context.Context, deviceID string, req hub.RefreshRequest) error
}

// ConnectionInfo exposes the detailed broker connection state.
type ConnectionInfo interface {
	Status() mqtt.ConnStatus
}

// HealthChecker is implemented by every component reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Hub      DeviceHub
	Conn     ConnectionInfo           // optional
	Health   map[string]HealthChecker // optional, keyed by component name
	Version  string
}

// Server is the HTTP API server for the device hub.
//
// It manages the HTTP listener, routes, middleware, and WebSocket clients.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	hub     DeviceHub
	conn    ConnectionInfo
	health  map[string]HealthChecker
	version string
	server  *http.Server
	clients *wsClients
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("device hub is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		hub:     deps.Hub,
		conn:    deps.Conn,
		health:  deps.Health,
		version: deps.Version,
		clients: newWSClients(deps.Logger),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// WebSocket clients are disconnected first (hijacked connections are not
// tracked by http.Server), then in-flight requests get up to 10 seconds.
func (s *Server) Close() error {
	s.clients.closeAll()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
