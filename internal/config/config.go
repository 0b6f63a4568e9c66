package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Brager  BragerConfig  `yaml:"brager"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LoggingConfig `yaml:"logging"`
}

// BragerConfig contains cloud connection settings.
type BragerConfig struct {
	URL          string  `yaml:"url"`
	Username     string  `yaml:"username"`
	Password     string  `yaml:"password"`
	Language     string  `yaml:"language"`
	Timeout      int     `yaml:"timeout"` // seconds
	Reconnect    bool    `yaml:"reconnect"`
	PingInterval int     `yaml:"ping_interval"` // seconds, 0 disables
	RateLimit    float64 `yaml:"rate_limit"`    // requests per second, 0 disables
	RateBurst    int     `yaml:"rate_burst"`
	ActiveDevice string  `yaml:"active_device"`
}

// MQTTConfig contains settings for the push bridge.
type MQTTConfig struct {
	Enabled      bool             `yaml:"enabled"`
	Broker       MQTTBrokerConfig `yaml:"broker"`
	Auth         MQTTAuthConfig   `yaml:"auth"`
	QoS          int              `yaml:"qos"`
	TopicPrefix  string           `yaml:"topic_prefix"`
	PollInterval int              `yaml:"poll_interval"` // seconds, 0 disables polling
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads path, applies environment overrides and validates the result.
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

func defaultConfig() *Config {
	return &Config{
		Brager: BragerConfig{
			URL:       "wss://cloud.bragerconnect.com",
			Language:  "en",
			Timeout:   10,
			RateBurst: 1,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "bragerconnect",
			},
			QoS:          1,
			TopicPrefix:  "bragerconnect",
			PollInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides lets secrets and deployment specifics stay out of the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BRAGER_URL"); v != "" {
		cfg.Brager.URL = v
	}
	if v := os.Getenv("BRAGER_USERNAME"); v != "" {
		cfg.Brager.Username = v
	}
	if v := os.Getenv("BRAGER_PASSWORD"); v != "" {
		cfg.Brager.Password = v
	}
	if v := os.Getenv("BRAGER_LANGUAGE"); v != "" {
		cfg.Brager.Language = v
	}
	if v := os.Getenv("BRAGER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BRAGER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BRAGER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("BRAGER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for required fields and sane ranges.
func (c *Config) Validate() error {
	var errs []error

	if !strings.HasPrefix(c.Brager.URL, "ws://") && !strings.HasPrefix(c.Brager.URL, "wss://") {
		errs = append(errs, fmt.Errorf("brager.url must be a ws:// or wss:// URL, got %q", c.Brager.URL))
	}
	if c.Brager.Username == "" {
		errs = append(errs, errors.New("brager.username is required"))
	}
	if c.Brager.Timeout <= 0 {
		errs = append(errs, errors.New("brager.timeout must be positive"))
	}
	if c.Brager.PingInterval < 0 {
		errs = append(errs, errors.New("brager.ping_interval cannot be negative"))
	}
	if c.Brager.RateLimit < 0 {
		errs = append(errs, errors.New("brager.rate_limit cannot be negative"))
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, errors.New("mqtt.broker.host is required when mqtt is enabled"))
		}
		if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, fmt.Errorf("mqtt.broker.port out of range: %d", c.MQTT.Broker.Port))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
		}
		if c.MQTT.TopicPrefix == "" {
			errs = append(errs, errors.New("mqtt.topic_prefix is required when mqtt is enabled"))
		}
	}

	return errors.Join(errs...)
}

// GetTimeout returns the request timeout as a time.Duration.
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Brager.Timeout) * time.Second
}

// GetPingInterval returns the keep-alive interval as a time.Duration.
func (c *Config) GetPingInterval() time.Duration {
	return time.Duration(c.Brager.PingInterval) * time.Second
}

// GetPollInterval returns the bridge polling interval as a time.Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.MQTT.PollInterval) * time.Second
}
