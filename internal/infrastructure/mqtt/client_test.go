package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "godaikin-test",
		},
		QoS:       1,
		KeepAlive: 15,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Topic Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("godaikin", "homeassistant")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"bridge availability", topics.BridgeAvailability(), "godaikin/bridge/availability"},
		{"device availability", topics.DeviceAvailability("daikin_4c50dd423066"), "godaikin/daikin_4c50dd423066/availability"},
		{"state", topics.State("daikin_4c50dd423066", "temperature"), "godaikin/daikin_4c50dd423066/temperature/state"},
		{"command", topics.Command("daikin_4c50dd423066", "mode"), "godaikin/daikin_4c50dd423066/mode/set"},
		{"all commands", topics.AllCommands(), "godaikin/+/+/set"},
		{"climate discovery", topics.Discovery("climate", "daikin_4c50dd423066"), "homeassistant/climate/daikin_4c50dd423066/config"},
		{"sensor discovery", topics.DiscoveryObject("sensor", "daikin_4c50dd423066", "power"), "homeassistant/sensor/daikin_4c50dd423066/power/config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestTopics_ZeroValueUsesDefaults(t *testing.T) {
	var topics Topics
	if got := topics.BridgeAvailability(); got != "godaikin/bridge/availability" {
		t.Errorf("BridgeAvailability() = %q", got)
	}
	if got := topics.Discovery("climate", "x"); got != "homeassistant/climate/x/config" {
		t.Errorf("Discovery() = %q", got)
	}
}

func TestNewTopics_TrimsTrailingSlash(t *testing.T) {
	topics := NewTopics("home/ac/", "ha/")
	if got := topics.State("a", "mode"); got != "home/ac/a/mode/state" {
		t.Errorf("State() = %q", got)
	}
	if got := topics.Discovery("light", "a"); got != "ha/light/a/config" {
		t.Errorf("Discovery() = %q", got)
	}
}

func TestTopics_ParseCommand(t *testing.T) {
	topics := NewTopics("godaikin", "homeassistant")

	tests := []struct {
		topic    string
		wantID   string
		wantAttr string
		wantOK   bool
	}{
		{"godaikin/ac-1/temperature/set", "ac-1", "temperature", true},
		{"godaikin/ac-1/mode/set", "ac-1", "mode", true},
		{"godaikin/ac-1/mode/state", "", "", false},
		{"godaikin/bridge/availability", "", "", false},
		{"other/ac-1/mode/set", "", "", false},
		{"godaikin//mode/set", "", "", false},
		{"godaikin/ac-1/mode/set/extra", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, attr, ok := topics.ParseCommand(tt.topic)
			if ok != tt.wantOK || id != tt.wantID || attr != tt.wantAttr {
				t.Errorf("ParseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.topic, id, attr, ok, tt.wantID, tt.wantAttr, tt.wantOK)
			}
		})
	}
}

func TestTopics_CommandRoundTrip(t *testing.T) {
	topics := NewTopics("godaikin", "homeassistant")
	id, attr, ok := topics.ParseCommand(topics.Command("daikin_abc", "swing_horizontal_mode"))
	if !ok || id != "daikin_abc" || attr != "swing_horizontal_mode" {
		t.Errorf("round trip = (%q, %q, %v)", id, attr, ok)
	}
}

// =============================================================================
// Option Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "pw"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "godaikin-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" || opts.Password != "pw" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("expected auto reconnect and connect retry")
	}
	if opts.KeepAlive != 15 {
		t.Errorf("KeepAlive = %d, want 15", opts.KeepAlive)
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS should not be configured for plain tcp")
	}
}

func TestBuildClientOptions_TLSAndDefaultKeepAlive(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	cfg.KeepAlive = 0

	opts := buildClientOptions(cfg)

	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %v, want ssl://127.0.0.1:8883", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("expected TLS 1.2 minimum")
	}
	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want default", opts.KeepAlive)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("godaikin", "homeassistant"))

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != "godaikin/bridge/availability" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if string(opts.WillPayload) != PayloadOffline {
		t.Errorf("WillPayload = %q, want %q", opts.WillPayload, PayloadOffline)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("Will retained=%v qos=%d, want retained qos 1", opts.WillRetained, opts.WillQos)
	}
}

// =============================================================================
// Validation Tests (no broker needed)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: map[string]subscription{}}

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("a/b", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
	big := []byte(strings.Repeat("x", maxPayloadSize+1))
	if err := c.Publish("a/b", big, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversized error = %v, want ErrPublishFailed", err)
	}
	// Valid arguments on an unconnected client.
	if err := c.Publish("a/b", nil, 1, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: map[string]subscription{}}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a/#", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos error = %v", err)
	}
	if err := c.Subscribe("a/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("a/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes", c.SubscriptionCount())
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}

// =============================================================================
// Handler Tests
// =============================================================================

type recordingLogger struct {
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.warns = append(l.warns, msg) }

func TestRunHandler_RecoversPanic(t *testing.T) {
	logger := &recordingLogger{}

	runHandler(logger, func(string, []byte) error { panic("boom") }, "t", nil)

	if len(logger.errors) != 1 {
		t.Errorf("errors logged = %d, want 1", len(logger.errors))
	}
}

func TestRunHandler_LogsError(t *testing.T) {
	logger := &recordingLogger{}

	runHandler(logger, func(string, []byte) error { return fmt.Errorf("bad payload") }, "t", nil)

	if len(logger.warns) != 1 {
		t.Errorf("warnings logged = %d, want 1", len(logger.warns))
	}
}

func TestRunHandler_NilLogger(t *testing.T) {
	// Neither path may panic without a logger.
	runHandler(nil, func(string, []byte) error { panic("boom") }, "t", nil)
	runHandler(nil, func(string, []byte) error { return errors.New("x") }, "t", nil)
}
