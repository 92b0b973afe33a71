package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the device hub.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Hub       HubConfig       `yaml:"hub"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// BrokerConfig identifies the MQTT broker the shared connection dials.
// Host, Port, Path and TLS together form the connection key.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Path     string `yaml:"path"` // non-empty selects the websocket transport
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`
}

// HubConfig contains device synchronisation settings.
type HubConfig struct {
	// TopicPrefix is the root of the HDP topic tree.
	// Default: "homenavi/hdp"
	TopicPrefix string `yaml:"topic_prefix"`

	// CommandTimeout is how long a command waits for its result (seconds).
	// Default: 8
	CommandTimeout int `yaml:"command_timeout"`

	// IdleGrace is how long the broker connection survives without subscribers (seconds).
	// Default: 30
	IdleGrace int `yaml:"idle_grace"`

	Reconnect ReconnectConfig `yaml:"reconnect"`

	// LegacyIdentityPatterns are topic-style filters (e.g. "zigbee/+") matching
	// deprecated device ids. Bare UUIDs and unprefixed ids are always legacy.
	LegacyIdentityPatterns []string `yaml:"legacy_identity_patterns"`

	// AlwaysOn keeps one internal listener registered so the hub stays
	// subscribed even with no UI clients attached.
	AlwaysOn bool `yaml:"always_on"`
}

// ReconnectConfig contains broker reconnection backoff settings.
type ReconnectConfig struct {
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
	CapAttempt  int `yaml:"cap_attempt"`
}

// FallbackConfig contains settings for the polling fallback used while the
// broker connection is down.
type FallbackConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`

	// Interval between fetches while disconnected (seconds).
	Interval int `yaml:"interval"`

	// Timeout for a single fetch (seconds).
	Timeout int `yaml:"timeout"`

	// Bootstrap performs one fetch at startup before push data arrives.
	Bootstrap bool `yaml:"bootstrap"`

	// Token is a static bearer token. When empty and security.jwt.secret is
	// set, a short-lived service token is minted per request.
	Token string `yaml:"token"`
}

// DatabaseConfig contains SQLite settings for the device snapshot store.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for state telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables API authentication and service token minting.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	Issuer          string `yaml:"issuer"`
	ServiceTokenTTL int    `yaml:"service_token_ttl"` // minutes
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEVICEHUB_SECTION_KEY
// For example: DEVICEHUB_BROKER_HOST, DEVICEHUB_FALLBACK_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "devicehub",
			QoS:      1,
		},
		Hub: HubConfig{
			TopicPrefix:    "homenavi/hdp",
			CommandTimeout: 8,
			IdleGrace:      30,
			Reconnect: ReconnectConfig{
				BaseDelayMS: 1200,
				MaxDelayMS:  30000,
				CapAttempt:  6,
			},
		},
		Fallback: FallbackConfig{
			Interval:  30,
			Timeout:   10,
			Bootstrap: true,
		},
		Database: DatabaseConfig{
			Path:        "./data/devicehub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:          "devicehub",
				ServiceTokenTTL: 5,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DEVICEHUB_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Broker
	if v := os.Getenv("DEVICEHUB_BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("DEVICEHUB_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = port
		}
	}
	if v := os.Getenv("DEVICEHUB_BROKER_PATH"); v != "" {
		cfg.Broker.Path = v
	}

	// Hub
	if v := os.Getenv("DEVICEHUB_TOPIC_PREFIX"); v != "" {
		cfg.Hub.TopicPrefix = v
	}

	// Fallback
	if v := os.Getenv("DEVICEHUB_FALLBACK_URL"); v != "" {
		cfg.Fallback.BaseURL = v
	}
	if v := os.Getenv("DEVICEHUB_FALLBACK_TOKEN"); v != "" {
		cfg.Fallback.Token = v
	}

	// Database
	if v := os.Getenv("DEVICEHUB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("DEVICEHUB_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("DEVICEHUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("DEVICEHUB_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.Path != "" && !strings.HasPrefix(c.Broker.Path, "/") {
		errs = append(errs, "broker.path must start with /")
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		errs = append(errs, "broker.qos must be 0, 1, or 2")
	}

	// Hub validation
	if c.Hub.TopicPrefix == "" {
		errs = append(errs, "hub.topic_prefix is required")
	}
	if strings.ContainsAny(c.Hub.TopicPrefix, "+#") {
		errs = append(errs, "hub.topic_prefix must not contain wildcards")
	}
	if c.Hub.CommandTimeout <= 0 {
		errs = append(errs, "hub.command_timeout must be positive")
	}
	if c.Hub.IdleGrace < 0 {
		errs = append(errs, "hub.idle_grace must not be negative")
	}
	if c.Hub.Reconnect.BaseDelayMS <= 0 {
		errs = append(errs, "hub.reconnect.base_delay_ms must be positive")
	}
	if c.Hub.Reconnect.MaxDelayMS < c.Hub.Reconnect.BaseDelayMS {
		errs = append(errs, "hub.reconnect.max_delay_ms must be >= base_delay_ms")
	}
	if c.Hub.Reconnect.CapAttempt < 0 {
		errs = append(errs, "hub.reconnect.cap_attempt must not be negative")
	}

	// Fallback validation
	if c.Fallback.Enabled {
		if c.Fallback.BaseURL == "" {
			errs = append(errs, "fallback.base_url is required when fallback is enabled")
		}
		if c.Fallback.Interval <= 0 {
			errs = append(errs, "fallback.interval must be positive")
		}
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - a configured secret must be strong enough to sign with.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetCommandTimeout returns the command result timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Hub.CommandTimeout) * time.Second
}

// GetIdleGrace returns the idle teardown grace period as a Duration.
func (c *Config) GetIdleGrace() time.Duration {
	return time.Duration(c.Hub.IdleGrace) * time.Second
}

// GetFallbackInterval returns the fallback polling interval as a Duration.
func (c *Config) GetFallbackInterval() time.Duration {
	return time.Duration(c.Fallback.Interval) * time.Second
}

// GetFallbackTimeout returns the per-fetch fallback timeout as a Duration.
func (c *Config) GetFallbackTimeout() time.Duration {
	return time.Duration(c.Fallback.Timeout) * time.Second
}
