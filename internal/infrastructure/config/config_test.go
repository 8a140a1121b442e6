package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load consults so host settings cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GODAIKIN_USERNAME", "GODAIKIN_PASSWORD", "GODAIKIN_BASE_URL",
		"GODAIKIN_REFRESH_INTERVAL", "REFRESH_INTERVAL",
		"GODAIKIN_MQTT_HOST", "MQTT_HOST", "GODAIKIN_MQTT_PORT", "MQTT_PORT",
		"GODAIKIN_MQTT_USERNAME", "MQTT_USERNAME", "GODAIKIN_MQTT_PASSWORD", "MQTT_PASSWORD",
		"GODAIKIN_DB_PATH", "GODAIKIN_INFLUXDB_TOKEN", "GODAIKIN_LOG_LEVEL", "GODAIKIN_API_TOKEN",
	} {
		t.Setenv(name, "")
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Vendor.Username = "user@example.com"
	cfg.Vendor.Password = "secret"
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	content := `
vendor:
  username: "user@example.com"
  password: "secret"
bridge:
  refresh_interval: 60
  miss_threshold: 5
  workers: 2
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
database:
  path: "/tmp/test.db"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Vendor.Username != "user@example.com" {
		t.Errorf("Vendor.Username = %q, want %q", cfg.Vendor.Username, "user@example.com")
	}
	if cfg.RefreshInterval() != time.Minute {
		t.Errorf("RefreshInterval() = %v, want 1m", cfg.RefreshInterval())
	}
	if cfg.Bridge.MissThreshold != 5 {
		t.Errorf("Bridge.MissThreshold = %d, want 5", cfg.Bridge.MissThreshold)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	// Unset keys keep their defaults.
	if cfg.Bridge.TopicPrefix != "godaikin" {
		t.Errorf("Bridge.TopicPrefix = %q, want default %q", cfg.Bridge.TopicPrefix, "godaikin")
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("GODAIKIN_USERNAME", "env-user")
	t.Setenv("GODAIKIN_PASSWORD", "env-pass")
	t.Setenv("MQTT_HOST", "mosquitto")
	t.Setenv("MQTT_PORT", "1884")
	t.Setenv("REFRESH_INTERVAL", "45")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}

	if cfg.Vendor.Username != "env-user" {
		t.Errorf("Vendor.Username = %q, want %q", cfg.Vendor.Username, "env-user")
	}
	if cfg.MQTT.Broker.Host != "mosquitto" || cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT broker = %s:%d, want mosquitto:1884", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
	}
	if cfg.Bridge.RefreshInterval != 45 {
		t.Errorf("Bridge.RefreshInterval = %d, want 45", cfg.Bridge.RefreshInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	clearEnv(t)
	content := `
bridge:
  refresh_interval: 1
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}

	// Every problem is reported at once.
	for _, want := range []string{"vendor.username", "vendor.password", "bridge.refresh_interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoad_InvalidEnvNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv("GODAIKIN_USERNAME", "u")
	t.Setenv("GODAIKIN_PASSWORD", "p")
	t.Setenv("REFRESH_INTERVAL", "soon")

	if _, err := Load(""); err == nil {
		t.Error("Load() expected error for non-numeric REFRESH_INTERVAL, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "missing username", mutate: func(c *Config) { c.Vendor.Username = "" }, wantErr: true},
		{name: "missing password", mutate: func(c *Config) { c.Vendor.Password = "" }, wantErr: true},
		{name: "refresh too short", mutate: func(c *Config) { c.Bridge.RefreshInterval = 2 }, wantErr: true},
		{name: "zero miss threshold", mutate: func(c *Config) { c.Bridge.MissThreshold = 0 }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Bridge.Workers = 0 }, wantErr: true},
		{name: "wildcard prefix", mutate: func(c *Config) { c.Bridge.TopicPrefix = "godaikin/#" }, wantErr: true},
		{name: "empty discovery prefix", mutate: func(c *Config) { c.Bridge.DiscoveryPrefix = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid broker port", mutate: func(c *Config) { c.MQTT.Broker.Port = 70000 }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "influx enabled without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "b" }, wantErr: true},
		{name: "api disabled ignores port", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, wantErr: false},
		{name: "api enabled invalid port", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Bridge:   BridgeConfig{RefreshInterval: 30, CommandTimeout: 10},
		Database: DatabaseConfig{HistoryRetention: 2},
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
	}

	if got := cfg.RefreshInterval(); got != 30*time.Second {
		t.Errorf("RefreshInterval() = %v, want 30s", got)
	}
	if got := cfg.CommandTimeout(); got != 10*time.Second {
		t.Errorf("CommandTimeout() = %v, want 10s", got)
	}
	if got := cfg.HistoryRetention(); got != 48*time.Hour {
		t.Errorf("HistoryRetention() = %v, want 48h", got)
	}
	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides_PrefixedWins(t *testing.T) {
	clearEnv(t)
	cfg := defaultConfig()

	t.Setenv("GODAIKIN_MQTT_HOST", "prefixed.example.com")
	t.Setenv("MQTT_HOST", "legacy.example.com")
	t.Setenv("MQTT_USERNAME", "testuser")
	t.Setenv("MQTT_PASSWORD", "testpass")
	t.Setenv("GODAIKIN_DB_PATH", "/custom/path.db")
	t.Setenv("GODAIKIN_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GODAIKIN_API_TOKEN", "api-token")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "prefixed.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "prefixed.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.API.AuthToken != "api-token" {
		t.Errorf("API.AuthToken = %q, want %q", cfg.API.AuthToken, "api-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Bridge.MissThreshold != 3 {
		t.Errorf("defaultConfig Bridge.MissThreshold = %d, want 3", cfg.Bridge.MissThreshold)
	}
	if cfg.Bridge.TopicPrefix != "godaikin" || cfg.Bridge.DiscoveryPrefix != "homeassistant" {
		t.Errorf("defaultConfig prefixes = %q/%q", cfg.Bridge.TopicPrefix, cfg.Bridge.DiscoveryPrefix)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Vendor.BaseURL == "" || cfg.Vendor.ClientID == "" {
		t.Error("defaultConfig should carry the vendor endpoint and client id")
	}
}
