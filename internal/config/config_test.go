package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "brager:\n  username: user@example.com\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Brager.URL != "wss://cloud.bragerconnect.com" {
		t.Errorf("URL = %q", cfg.Brager.URL)
	}
	if cfg.Brager.Language != "en" {
		t.Errorf("Language = %q", cfg.Brager.Language)
	}
	if cfg.GetTimeout() != 10*time.Second {
		t.Errorf("GetTimeout() = %v", cfg.GetTimeout())
	}
	if cfg.Brager.Reconnect {
		t.Error("Reconnect defaults to true")
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT enabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
brager:
  url: "ws://127.0.0.1:9000"
  username: "user"
  password: "secret"
  language: "pl"
  timeout: 3
  reconnect: true
  ping_interval: 15
  rate_limit: 5
  rate_burst: 2
mqtt:
  enabled: true
  broker:
    host: "broker"
    port: 8883
    tls: true
  qos: 2
  topic_prefix: "heating"
  poll_interval: 30
logging:
  level: "debug"
  format: "text"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Brager.URL != "ws://127.0.0.1:9000" || cfg.Brager.Language != "pl" || !cfg.Brager.Reconnect {
		t.Errorf("Brager = %+v", cfg.Brager)
	}
	if cfg.GetTimeout() != 3*time.Second || cfg.GetPingInterval() != 15*time.Second {
		t.Errorf("timeouts = %v, %v", cfg.GetTimeout(), cfg.GetPingInterval())
	}
	if !cfg.MQTT.Broker.TLS || cfg.MQTT.Broker.Port != 8883 || cfg.MQTT.QoS != 2 {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if cfg.MQTT.Broker.ClientID != "bragerconnect" {
		t.Errorf("ClientID default lost: %q", cfg.MQTT.Broker.ClientID)
	}
	if cfg.GetPollInterval() != 30*time.Second {
		t.Errorf("GetPollInterval() = %v", cfg.GetPollInterval())
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "brager:\n  username: from-file\n")
	t.Setenv("BRAGER_USERNAME", "from-env")
	t.Setenv("BRAGER_PASSWORD", "env-secret")
	t.Setenv("BRAGER_MQTT_HOST", "mqtt.local")
	t.Setenv("BRAGER_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Brager.Username != "from-env" || cfg.Brager.Password != "env-secret" {
		t.Errorf("credentials = %q/%q", cfg.Brager.Username, cfg.Brager.Password)
	}
	if cfg.MQTT.Broker.Host != "mqtt.local" {
		t.Errorf("MQTT host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file succeeded")
	}
	if _, err := Load(writeConfig(t, "brager: [unclosed")); err == nil {
		t.Error("Load() of invalid YAML succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad url", mutate: func(c *Config) { c.Brager.URL = "https://x" }, wantErr: "brager.url"},
		{name: "no username", mutate: func(c *Config) { c.Brager.Username = "" }, wantErr: "brager.username"},
		{name: "zero timeout", mutate: func(c *Config) { c.Brager.Timeout = 0 }, wantErr: "brager.timeout"},
		{name: "negative ping", mutate: func(c *Config) { c.Brager.PingInterval = -1 }, wantErr: "ping_interval"},
		{name: "negative rate", mutate: func(c *Config) { c.Brager.RateLimit = -1 }, wantErr: "rate_limit"},
		{name: "mqtt bad qos", mutate: func(c *Config) { c.MQTT.Enabled = true; c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "mqtt bad port", mutate: func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Broker.Port = 0 }, wantErr: "mqtt.broker.port"},
		{name: "mqtt disabled ignores qos", mutate: func(c *Config) { c.MQTT.QoS = 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Brager.Username = "user"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
