package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when HASSLINK_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for hasslink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway       GatewayConfig      `yaml:"gateway"`
	Subscriptions SubscriptionConfig `yaml:"subscriptions"`
	Journal       JournalConfig      `yaml:"journal"`
	Database      DatabaseConfig     `yaml:"database"`
	MQTT          MQTTConfig         `yaml:"mqtt"`
	InfluxDB      InfluxDBConfig     `yaml:"influxdb"`
	Status        StatusConfig       `yaml:"status"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// GatewayConfig contains the Home Assistant connection settings.
type GatewayConfig struct {
	// URL of the gateway. http(s) URLs are mapped to ws(s) and the
	// WebSocket path is added when missing.
	URL string `yaml:"url"`

	// Token is a long-lived access token. Prefer HASSLINK_TOKEN.
	Token string `yaml:"token"`

	// QueueSize is the outbound command queue capacity.
	QueueSize int `yaml:"queue_size"`

	// EventBuffer is the per-subscription event buffer.
	EventBuffer int `yaml:"event_buffer"`

	// ConnectTimeout bounds dial plus authentication, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// RequestTimeout bounds a single command, in seconds. 0 means no limit.
	RequestTimeout int `yaml:"request_timeout"`
}

// SubscriptionConfig lists the event types the relay subscribes to.
// An empty string subscribes to every event.
type SubscriptionConfig struct {
	EventTypes []string `yaml:"event_types"`
}

// JournalConfig contains event journal settings.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Retention is how long journal entries are kept, in hours. 0 keeps
	// everything.
	Retention int `yaml:"retention"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// StatusConfig contains the status HTTP server settings.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Path returns the configuration file path: HASSLINK_CONFIG if set,
// DefaultPath otherwise.
func Path() string {
	if v := os.Getenv("HASSLINK_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HASSLINK_SECTION_KEY
// For example: HASSLINK_GATEWAY_URL, HASSLINK_DATABASE_PATH
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

// FromEnv builds a configuration from defaults and environment variables
// only. Used by hassctl when no config file exists.
func FromEnv() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:            "ws://localhost:8123/api/websocket",
			QueueSize:      20,
			EventBuffer:    64,
			ConnectTimeout: 10,
			RequestTimeout: 30,
		},
		Subscriptions: SubscriptionConfig{
			EventTypes: []string{"state_changed"},
		},
		Journal: JournalConfig{
			Enabled:   true,
			Retention: 24 * 7,
		},
		Database: DatabaseConfig{
			Path:        "./data/hasslink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hasslink",
			},
			QoS:         1,
			TopicPrefix: "hasslink",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Status: StatusConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9280,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HASSLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("HASSLINK_GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("HASSLINK_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}

	// Database
	if v := os.Getenv("HASSLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HASSLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HASSLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HASSLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("HASSLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("HASSLINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation
	if c.Gateway.URL == "" {
		errs = append(errs, "gateway.url is required")
	}
	if c.Gateway.Token == "" {
		errs = append(errs, "gateway.token is required (set HASSLINK_TOKEN environment variable)")
	}
	if c.Gateway.QueueSize < 1 {
		errs = append(errs, "gateway.queue_size must be at least 1")
	}
	if c.Gateway.EventBuffer < 1 {
		errs = append(errs, "gateway.event_buffer must be at least 1")
	}
	if c.Gateway.ConnectTimeout < 0 || c.Gateway.RequestTimeout < 0 {
		errs = append(errs, "gateway timeouts must not be negative")
	}

	// Journal validation
	if c.Journal.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.Journal.Retention < 0 {
		errs = append(errs, "journal.retention must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && strings.Trim(c.MQTT.TopicPrefix, "/") == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// Status validation
	if c.Status.Enabled && (c.Status.Port < 1 || c.Status.Port > 65535) {
		errs = append(errs, "status.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the gateway connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Gateway.ConnectTimeout) * time.Second
}

// GetRequestTimeout returns the per-command timeout as a Duration.
// Zero means no limit.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeout) * time.Second
}

// GetJournalRetention returns the journal retention as a Duration.
// Zero means entries are never pruned.
func (c *Config) GetJournalRetention() time.Duration {
	return time.Duration(c.Journal.Retention) * time.Hour
}

// StatusAddr returns the status server listen address.
func (c *Config) StatusAddr() string {
	return fmt.Sprintf("%s:%d", c.Status.Host, c.Status.Port)
}
