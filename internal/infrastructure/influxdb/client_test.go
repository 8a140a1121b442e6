package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/influxdb"
)

// fakeInflux answers pings with 204 and records write bodies.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/write") {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		f.mu.Unlock()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

// waitForBody polls until the recorded writes contain want.
func (f *fakeInflux) waitForBody(t *testing.T, want string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if body := f.body(); strings.Contains(body, want) {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("write containing %q not received; got %q", want, f.body())
	return ""
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "godaikin-test-token",
		Org:           "home",
		Bucket:        "climate",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

func connectFake(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return client, fake
}

func ptr(v float64) *float64 { return &v }

func TestConnect(t *testing.T) {
	client, _ := connectFake(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(context.Background(), testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteClimate(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteClimate(influxdb.ClimateSample{
		DeviceID:           "ac-1",
		Name:               "Living",
		Mode:               "cool",
		TargetTemperature:  ptr(24),
		CurrentTemperature: ptr(26),
		PowerKW:            ptr(0.5),
		Online:             true,
	})
	client.Flush()

	body := fake.waitForBody(t, "climate,device_id=ac-1")
	for _, want := range []string{"mode=cool", "name=Living", "power_kw=0.5", "online=true"} {
		if !strings.Contains(body, want) {
			t.Errorf("line protocol %q missing %q", body, want)
		}
	}
	if strings.Contains(body, "outdoor_temperature") {
		t.Errorf("nil outdoor temperature should be omitted: %q", body)
	}
}

func TestWriteClimate_NoFieldsSkipped(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteClimate(influxdb.ClimateSample{DeviceID: "ac-1", Online: false})
	client.WriteCommand("ac-1", "mode", "ok", 120*time.Millisecond)
	client.Flush()

	body := fake.waitForBody(t, "command,attribute=mode,device_id=ac-1,outcome=ok")
	if strings.Contains(body, "climate,") {
		t.Errorf("empty sample should not be written: %q", body)
	}
}

func TestWriteCycle(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteCycle(2, 5, 80*time.Millisecond, false)
	client.Flush()

	fake.waitForBody(t, "bridge_cycle,status=ok")
}

func TestClose(t *testing.T) {
	client, _ := connectFake(t)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after close = %v, want ErrNotConnected", err)
	}

	// Writes and a second close after Close are no-ops.
	client.WriteClimate(influxdb.ClimateSample{DeviceID: "ac-1", PowerKW: ptr(1)})
	client.Flush()
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestNilClient(t *testing.T) {
	var client *influxdb.Client

	client.WriteClimate(influxdb.ClimateSample{DeviceID: "ac-1", PowerKW: ptr(1)})
	client.WriteCommand("ac-1", "mode", "ok", 0)
	client.WriteCycle(0, 0, 0, true)
	client.Flush()
	if client.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client = %v", err)
	}
}
