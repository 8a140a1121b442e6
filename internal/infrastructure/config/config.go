package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the GO DAIKIN bridge.
// Values come from defaults, an optional YAML file and environment variables.
type Config struct {
	Vendor   VendorConfig   `yaml:"vendor"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	API      APIConfig      `yaml:"api"`
}

// VendorConfig contains GO DAIKIN cloud account and endpoint settings.
type VendorConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	BaseURL  string `yaml:"base_url"`
	// AuthURL overrides the Cognito endpoint derived from Region.
	AuthURL        string `yaml:"auth_url"`
	Region         string `yaml:"region"`
	ClientID       string `yaml:"client_id"`
	RequestTimeout int    `yaml:"request_timeout"` // seconds
}

// BridgeConfig contains reconciliation and topic layout settings.
type BridgeConfig struct {
	RefreshInterval int    `yaml:"refresh_interval"` // seconds
	MissThreshold   int    `yaml:"miss_threshold"`
	Workers         int    `yaml:"workers"`
	TopicPrefix     string `yaml:"topic_prefix"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	CommandTimeout  int    `yaml:"command_timeout"` // seconds
	// RepublishDiscovery republishes discovery configs on every cycle
	// instead of only on first sighting, capability change and reconnect.
	RepublishDiscovery bool `yaml:"republish_discovery"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"` // seconds
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path             string `yaml:"path"`
	WALMode          bool   `yaml:"wal_mode"`
	BusyTimeout      int    `yaml:"busy_timeout"`
	HistoryRetention int    `yaml:"history_retention"` // days, 0 keeps everything
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	AuthToken string           `yaml:"auth_token"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains websocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// Load builds the configuration and validates it.
//
// The loading order is:
//  1. Default values
//  2. YAML file values, when path is not empty
//  3. Environment variables
//
// An empty path runs on defaults plus environment, which is how the
// container image is normally configured.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Vendor: VendorConfig{
			BaseURL:        "https://c7zkf7l933.execute-api.ap-southeast-1.amazonaws.com/prod/",
			Region:         "ap-southeast-1",
			ClientID:       "36f6piu770fotfscvhi3jb1vb7",
			RequestTimeout: 15,
		},
		Bridge: BridgeConfig{
			RefreshInterval: 30,
			MissThreshold:   3,
			Workers:         4,
			TopicPrefix:     "godaikin",
			DiscoveryPrefix: "homeassistant",
			CommandTimeout:  10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "godaikin-bridge",
			},
			QoS:       1,
			KeepAlive: 30,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:             "./data/godaikin.db",
			WALMode:          true,
			BusyTimeout:      5,
			HistoryRetention: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8089,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
//
// GODAIKIN_SECTION_KEY variables are checked first. The unprefixed names used
// by the original container image (MQTT_HOST, REFRESH_INTERVAL, ...) are
// accepted as fallbacks.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	// Vendor
	if v := firstEnv("GODAIKIN_USERNAME"); v != "" {
		cfg.Vendor.Username = v
	}
	if v := firstEnv("GODAIKIN_PASSWORD"); v != "" {
		cfg.Vendor.Password = v
	}
	if v := firstEnv("GODAIKIN_BASE_URL"); v != "" {
		cfg.Vendor.BaseURL = v
	}

	// Bridge
	if v := firstEnv("GODAIKIN_REFRESH_INTERVAL", "REFRESH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.RefreshInterval = n
		} else {
			errs = append(errs, "REFRESH_INTERVAL must be an integer number of seconds")
		}
	}

	// MQTT
	if v := firstEnv("GODAIKIN_MQTT_HOST", "MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := firstEnv("GODAIKIN_MQTT_PORT", "MQTT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = n
		} else {
			errs = append(errs, "MQTT_PORT must be an integer")
		}
	}
	if v := firstEnv("GODAIKIN_MQTT_USERNAME", "MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := firstEnv("GODAIKIN_MQTT_PASSWORD", "MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := firstEnv("GODAIKIN_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := firstEnv("GODAIKIN_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := firstEnv("GODAIKIN_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// API
	if v := firstEnv("GODAIKIN_API_TOKEN"); v != "" {
		cfg.API.AuthToken = v
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// firstEnv returns the first non-empty value among the named variables.
func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	// Vendor
	if c.Vendor.Username == "" {
		errs = append(errs, "vendor.username is required (set GODAIKIN_USERNAME)")
	}
	if c.Vendor.Password == "" {
		errs = append(errs, "vendor.password is required (set GODAIKIN_PASSWORD)")
	}
	if c.Vendor.BaseURL == "" {
		errs = append(errs, "vendor.base_url is required")
	}
	if c.Vendor.ClientID == "" {
		errs = append(errs, "vendor.client_id is required")
	}
	if c.Vendor.Region == "" && c.Vendor.AuthURL == "" {
		errs = append(errs, "vendor.region or vendor.auth_url is required")
	}
	if c.Vendor.RequestTimeout < 1 {
		errs = append(errs, "vendor.request_timeout must be at least 1 second")
	}

	// Bridge
	if c.Bridge.RefreshInterval < 5 {
		errs = append(errs, "bridge.refresh_interval must be at least 5 seconds")
	}
	if c.Bridge.MissThreshold < 1 {
		errs = append(errs, "bridge.miss_threshold must be at least 1")
	}
	if c.Bridge.Workers < 1 {
		errs = append(errs, "bridge.workers must be at least 1")
	}
	if c.Bridge.TopicPrefix == "" || strings.ContainsAny(c.Bridge.TopicPrefix, "+#") {
		errs = append(errs, "bridge.topic_prefix must be a non-empty topic without wildcards")
	}
	if c.Bridge.DiscoveryPrefix == "" || strings.ContainsAny(c.Bridge.DiscoveryPrefix, "+#") {
		errs = append(errs, "bridge.discovery_prefix must be a non-empty topic without wildcards")
	}
	if c.Bridge.CommandTimeout < 1 {
		errs = append(errs, "bridge.command_timeout must be at least 1 second")
	}

	// MQTT
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.HistoryRetention < 0 {
		errs = append(errs, "database.history_retention must not be negative")
	}

	// InfluxDB
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RefreshInterval returns the reconciliation period.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Bridge.RefreshInterval) * time.Second
}

// CommandTimeout returns the deadline for a single vendor command.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Bridge.CommandTimeout) * time.Second
}

// HistoryRetention returns how long state history rows are kept.
// Zero means rows are never pruned.
func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.Database.HistoryRetention) * 24 * time.Hour
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
