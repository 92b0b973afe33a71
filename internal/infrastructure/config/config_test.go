package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
broker:
  host: "mqtt.local"
  port: 9001
  path: "/mqtt"
  client_id: "test-hub"
hub:
  topic_prefix: "test/hdp"
  command_timeout: 4
  legacy_identity_patterns:
    - "zigbee/+"
fallback:
  enabled: true
  base_url: "http://device-hub:8080"
  interval: 15
api:
  port: 8091
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "mqtt.local" {
		t.Errorf("Broker.Host = %q, want %q", cfg.Broker.Host, "mqtt.local")
	}
	if cfg.Broker.Path != "/mqtt" {
		t.Errorf("Broker.Path = %q, want %q", cfg.Broker.Path, "/mqtt")
	}
	if cfg.Hub.TopicPrefix != "test/hdp" {
		t.Errorf("Hub.TopicPrefix = %q, want %q", cfg.Hub.TopicPrefix, "test/hdp")
	}
	if got := cfg.GetCommandTimeout(); got != 4*time.Second {
		t.Errorf("GetCommandTimeout() = %v, want 4s", got)
	}
	if len(cfg.Hub.LegacyIdentityPatterns) != 1 || cfg.Hub.LegacyIdentityPatterns[0] != "zigbee/+" {
		t.Errorf("Hub.LegacyIdentityPatterns = %v, want [zigbee/+]", cfg.Hub.LegacyIdentityPatterns)
	}
	if got := cfg.GetFallbackInterval(); got != 15*time.Second {
		t.Errorf("GetFallbackInterval() = %v, want 15s", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, "broker:\n  host: \"localhost\"\n")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Hub.Reconnect.BaseDelayMS != 1200 {
		t.Errorf("Reconnect.BaseDelayMS = %d, want 1200", cfg.Hub.Reconnect.BaseDelayMS)
	}
	if cfg.Hub.Reconnect.MaxDelayMS != 30000 {
		t.Errorf("Reconnect.MaxDelayMS = %d, want 30000", cfg.Hub.Reconnect.MaxDelayMS)
	}
	if cfg.Hub.Reconnect.CapAttempt != 6 {
		t.Errorf("Reconnect.CapAttempt = %d, want 6", cfg.Hub.Reconnect.CapAttempt)
	}
	if got := cfg.GetIdleGrace(); got != 30*time.Second {
		t.Errorf("GetIdleGrace() = %v, want 30s", got)
	}
	if cfg.Hub.TopicPrefix != "homenavi/hdp" {
		t.Errorf("Hub.TopicPrefix = %q, want %q", cfg.Hub.TopicPrefix, "homenavi/hdp")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	configPath := writeConfig(t, "broker:\n  host: \"from-file\"\n")

	t.Setenv("DEVICEHUB_BROKER_HOST", "from-env")
	t.Setenv("DEVICEHUB_BROKER_PORT", "8883")
	t.Setenv("DEVICEHUB_FALLBACK_URL", "http://env-hub")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "from-env" {
		t.Errorf("Broker.Host = %q, want %q", cfg.Broker.Host, "from-env")
	}
	if cfg.Broker.Port != 8883 {
		t.Errorf("Broker.Port = %d, want 8883", cfg.Broker.Port)
	}
	if cfg.Fallback.BaseURL != "http://env-hub" {
		t.Errorf("Fallback.BaseURL = %q, want %q", cfg.Fallback.BaseURL, "http://env-hub")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing broker host",
			mutate:  func(c *Config) { c.Broker.Host = "" },
			wantErr: "broker.host",
		},
		{
			name:    "relative websocket path",
			mutate:  func(c *Config) { c.Broker.Path = "mqtt" },
			wantErr: "broker.path",
		},
		{
			name:    "wildcard in topic prefix",
			mutate:  func(c *Config) { c.Hub.TopicPrefix = "home/#" },
			wantErr: "hub.topic_prefix",
		},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.Hub.Reconnect.MaxDelayMS = 10 },
			wantErr: "max_delay_ms",
		},
		{
			name:    "fallback without url",
			mutate:  func(c *Config) { c.Fallback.Enabled = true },
			wantErr: "fallback.base_url",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "security.jwt.secret",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.Broker.QoS = 3 },
			wantErr: "broker.qos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_TimeoutHelpers(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.GetFallbackTimeout(); got != 10*time.Second {
		t.Errorf("GetFallbackTimeout() = %v, want 10s", got)
	}
}
