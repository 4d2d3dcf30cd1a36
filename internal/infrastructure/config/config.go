package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SMS Gate.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Broker   BrokerConfig   `yaml:"broker"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
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

// GatewayConfig contains device WebSocket gateway settings.
type GatewayConfig struct {
	// MaxMessageSize is the maximum inbound frame size in bytes.
	MaxMessageSize int `yaml:"max_message_size"`

	// SendBufferSize is the per-connection outbound message buffer.
	SendBufferSize int `yaml:"send_buffer_size"`

	// LivenessCheckInterval is how often each connection's heartbeat age is
	// checked, in seconds.
	LivenessCheckInterval int `yaml:"liveness_check_interval"`

	// LivenessWindow is the maximum allowed silence before a connection is
	// presumed dead and forcibly closed, in seconds.
	LivenessWindow int `yaml:"liveness_window"`
}

// BrokerConfig contains request-correlation broker settings.
type BrokerConfig struct {
	// ReplyTimeout is the end-to-end ceiling for a send operation, in
	// milliseconds. A device that has not replied within this window
	// produces a timeout outcome for the caller.
	ReplyTimeout int `yaml:"reply_timeout"`
}

// StoreConfig contains device store persistence settings.
type StoreConfig struct {
	// Path is the JSON document holding the registered device list.
	Path string `yaml:"path"`

	// FlushInterval is how often dirty state is flushed to disk, in seconds.
	FlushInterval int `yaml:"flush_interval"`
}

// DatabaseConfig contains SQLite settings for the delivery history log.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long delivery log rows are kept before the
	// background pruner removes them. Zero disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings for the event mirror.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains reconnection backoff settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for delivery metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// GaugeInterval is how often the connection and registration gauges
	// are sampled, in seconds.
	GaugeInterval int `yaml:"gauge_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SMSGATE_SECTION_KEY
// For example: SMSGATE_STORE_PATH, SMSGATE_API_PORT
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Gateway: GatewayConfig{
			MaxMessageSize:        8192,
			SendBufferSize:        64,
			LivenessCheckInterval: 10,
			LivenessWindow:        30,
		},
		Broker: BrokerConfig{
			ReplyTimeout: 4500,
		},
		Store: StoreConfig{
			Path:          "./data/devices.json",
			FlushInterval: 5,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/smsgate.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "smsgate-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "smsgate",
			BatchSize:     100,
			FlushInterval: 10,
			GaugeInterval: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SMSGATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("SMSGATE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SMSGATE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Store
	if v := os.Getenv("SMSGATE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Database
	if v := os.Getenv("SMSGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SMSGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SMSGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SMSGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SMSGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Store validation
	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}
	if c.Store.FlushInterval < 1 {
		errs = append(errs, "store.flush_interval must be at least 1 second")
	}

	// Gateway validation
	if c.Gateway.LivenessCheckInterval < 1 {
		errs = append(errs, "gateway.liveness_check_interval must be at least 1 second")
	}
	if c.Gateway.LivenessWindow < c.Gateway.LivenessCheckInterval {
		errs = append(errs, "gateway.liveness_window must not be shorter than the check interval")
	}

	// Broker validation
	if c.Broker.ReplyTimeout < 1 {
		errs = append(errs, "broker.reply_timeout must be at least 1 millisecond")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled is true")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
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

// ReplyTimeoutDuration returns the broker reply deadline as a Duration.
func (c *BrokerConfig) ReplyTimeoutDuration() time.Duration {
	return time.Duration(c.ReplyTimeout) * time.Millisecond
}

// FlushIntervalDuration returns the persistence flush interval as a Duration.
func (c *StoreConfig) FlushIntervalDuration() time.Duration {
	return time.Duration(c.FlushInterval) * time.Second
}

// RetentionDuration returns the delivery log retention window as a Duration.
// Zero means retention is disabled.
func (c *DatabaseConfig) RetentionDuration() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// GaugeIntervalDuration returns the gauge sampling cadence as a Duration.
func (c *InfluxDBConfig) GaugeIntervalDuration() time.Duration {
	return time.Duration(c.GaugeInterval) * time.Second
}

// LivenessCheckIntervalDuration returns the liveness check cadence as a Duration.
func (c *GatewayConfig) LivenessCheckIntervalDuration() time.Duration {
	return time.Duration(c.LivenessCheckInterval) * time.Second
}

// LivenessWindowDuration returns the liveness window as a Duration.
func (c *GatewayConfig) LivenessWindowDuration() time.Duration {
	return time.Duration(c.LivenessWindow) * time.Second
}
