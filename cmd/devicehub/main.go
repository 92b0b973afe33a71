// Device Hub - device state synchronisation service.
//
// The hub keeps one shared MQTT connection to the broker, reconciles device
// metadata and state published over HDP into a single device list, correlates
// commands with their results, and serves the list over HTTP and WebSocket.
// While the broker is unreachable it polls the device API instead.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-devicehub/migrations"

	"github.com/nerrad567/gray-logic-devicehub/internal/api"
	"github.com/nerrad567/gray-logic-devicehub/internal/auth"
	"github.com/nerrad567/gray-logic-devicehub/internal/device"
	"github.com/nerrad567/gray-logic-devicehub/internal/fallback"
	"github.com/nerrad567/gray-logic-devicehub/internal/hdp"
	"github.com/nerrad567/gray-logic-devicehub/internal/hub"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-devicehub/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// serviceSubject is the subject of service tokens minted for fallback fetches.
const serviceSubject = "devicehub"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Startup order: database, InfluxDB, broker pool, hub, fallback poller, API.
// Deferred closes run in reverse, so the API stops accepting requests before
// the hub resolves pending commands and flushes its snapshot.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting device hub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	health := map[string]api.HealthChecker{}

	// Snapshot store (optional)
	var store device.SnapshotStore
	if cfg.Database.Enabled {
		db, openErr := openDatabase(ctx, cfg.Database)
		if openErr != nil {
			return openErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database ready", "path", cfg.Database.Path)
		store = device.NewSQLiteSnapshotStore(db.DB)
		health["database"] = db
	} else {
		log.Info("snapshot database disabled")
	}

	// State telemetry (optional)
	var observer hub.StateObserver
	if cfg.InfluxDB.Enabled {
		influxSink, connErr := influxdb.Connect(ctx, cfg.InfluxDB, func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxSink.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		observer = influxSink
		health["influxdb"] = influxSink
	} else {
		log.Info("InfluxDB disabled")
	}

	// The broker is left out: it connects lazily and retries in the background.
	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("storage health checks passed")

	identity, err := device.NewIdentityPolicy(cfg.Hub.LegacyIdentityPatterns)
	if err != nil {
		return fmt.Errorf("building identity policy: %w", err)
	}

	// Shared broker connection. Nothing dials until the hub subscribes.
	pool := mqtt.NewPool(mqttOptions(cfg, log))
	defer func() {
		log.Info("closing broker connections")
		if closeErr := pool.Close(); closeErr != nil {
			log.Error("error closing broker connections", "error", closeErr)
		}
	}()
	conn := pool.Get(mqtt.Endpoint{
		Host: cfg.Broker.Host,
		Port: cfg.Broker.Port,
		Path: cfg.Broker.Path,
		TLS:  cfg.Broker.TLS,
	})
	conn.OnStatusChange(func(st mqtt.ConnStatus) {
		log.Info("broker connection status",
			"endpoint", st.Endpoint,
			"state", st.State.String(),
			"attempt", st.Attempt,
			"last_error", st.LastError,
		)
	})
	health["mqtt"] = conn

	var fetcher *fallback.Client
	if cfg.Fallback.Enabled {
		fetcher = fallback.NewClient(cfg.Fallback.BaseURL, cfg.GetFallbackTimeout(), fallbackToken(cfg))
	}

	topics := hdp.NewTopics(cfg.Hub.TopicPrefix)
	opts := hub.Options{
		Conn:           conn,
		Topics:         &topics,
		Identity:       identity,
		CommandTimeout: cfg.GetCommandTimeout(),
		AlwaysOn:       cfg.Hub.AlwaysOn,
		Store:          store,
		Observer:       observer,
		Logger:         log.Component("hub"),
	}
	if fetcher != nil && cfg.Fallback.Bootstrap {
		opts.Bootstrap = fetcher
	}
	h, err := hub.New(opts)
	if err != nil {
		return fmt.Errorf("creating hub: %w", err)
	}
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("starting hub: %w", err)
	}
	defer func() {
		log.Info("stopping hub")
		h.Close()
	}()
	log.Info("hub started",
		"topic_prefix", topics.Prefix(),
		"broker", conn.Endpoint().String(),
		"always_on", cfg.Hub.AlwaysOn,
	)

	if fetcher != nil {
		poller := fallback.NewPoller(fetcher, conn, h.ApplySnapshot, cfg.GetFallbackInterval())
		poller.SetLogger(log.Component("fallback"))
		poller.Start(ctx)
		defer func() {
			log.Info("stopping fallback poller")
			poller.Stop()
		}()
		log.Info("fallback poller started",
			"base_url", cfg.Fallback.BaseURL,
			"interval", cfg.GetFallbackInterval(),
		)
	} else {
		log.Info("fallback polling disabled")
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Hub:      h,
		Conn:     conn,
		Health:   health,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// It checks the DEVICEHUB_CONFIG environment variable first.
func getConfigPath() string {
	if path := os.Getenv("DEVICEHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openDatabase opens the snapshot database and applies migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// healthCheck runs every component check registered so far.
func healthCheck(ctx context.Context, checkers map[string]api.HealthChecker) error {
	for name, checker := range checkers {
		if err := checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// mqttOptions maps broker and hub settings onto pool options.
func mqttOptions(cfg *config.Config, log *logging.Logger) mqtt.Options {
	return mqtt.Options{
		ClientID: cfg.Broker.ClientID,
		QoS:      byte(cfg.Broker.QoS), //nolint:gosec // validated to 0..2
		Backoff: mqtt.Backoff{
			Base:       time.Duration(cfg.Hub.Reconnect.BaseDelayMS) * time.Millisecond,
			Max:        time.Duration(cfg.Hub.Reconnect.MaxDelayMS) * time.Millisecond,
			CapAttempt: cfg.Hub.Reconnect.CapAttempt,
		},
		IdleGrace: cfg.GetIdleGrace(),
		Logger:    log.Component("mqtt"),
	}
}

// fallbackToken picks the bearer token for fallback fetches: the static
// token when configured, otherwise a minted service token when a JWT secret
// is set, otherwise none.
func fallbackToken(cfg *config.Config) fallback.TokenFunc {
	if cfg.Fallback.Token != "" {
		return fallback.StaticToken(cfg.Fallback.Token)
	}
	if cfg.Security.JWT.Secret == "" {
		return nil
	}
	src := auth.NewTokenSource(
		cfg.Security.JWT.Secret,
		cfg.Security.JWT.Issuer,
		serviceSubject,
		[]auth.Scope{auth.ScopeRead},
		time.Duration(cfg.Security.JWT.ServiceTokenTTL)*time.Minute,
	)
	return src.Token
}
