package daikin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/godaikin-mqtt/internal/audit"
	"github.com/nerrad567/godaikin-mqtt/internal/cloud"
	"github.com/nerrad567/godaikin-mqtt/internal/device"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/mqtt"
)

// MockMQTTClient records publishes and routes simulated messages to
// subscribed handlers.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions map[string]mqtt.MessageHandler
	connected     bool
	failTopics    map[string]error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		subscriptions: make(map[string]mqtt.MessageHandler),
		connected:     true,
		failTopics:    make(map[string]error),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failTopics[topic]; ok {
		return err
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) FailTopic(topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTopics[topic] = err
}

func (m *MockMQTTClient) HealTopic(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failTopics, topic)
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

func (m *MockMQTTClient) GetSubscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subscriptions))
	for topic := range m.subscriptions {
		out = append(out, topic)
	}
	return out
}

// SimulateMessage delivers a message to every handler whose filter
// matches the topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) error {
	m.mu.Lock()
	var handlers []mqtt.MessageHandler
	for filter, h := range m.subscriptions {
		if topicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscription matches %s", topic)
	}
	for _, h := range handlers {
		if err := h(topic, payload); err != nil {
			return err
		}
	}
	return nil
}

// statePublishes returns publishes to state and availability topics.
func (m *MockMQTTClient) statePublishes() []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if strings.HasPrefix(p.Topic, "godaikin/") && len(p.Payload) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// topicMatches implements MQTT '+' and '#' wildcard matching.
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

type sentCommand struct {
	ID    string
	Attr  device.Attribute
	Value any
}

// fakeVendor serves a fixed device list and per-device states.
type fakeVendor struct {
	mu      sync.Mutex
	devices []device.Device
	states  map[string]device.State
	listErr error
	readErr map[string]error
	sendErr error
	sent    []sentCommand

	// onRead runs at the start of every ReadState, without the lock held.
	onRead func(id string)

	// Blocked calls wait for their context like a stuck vendor.
	blockList bool
	blocked   map[string]bool
}

func newFakeVendor(devs ...device.Device) *fakeVendor {
	return &fakeVendor{
		devices: devs,
		states:  make(map[string]device.State),
		readErr: make(map[string]error),
		blocked: make(map[string]bool),
	}
}

func (f *fakeVendor) ListDevices(ctx context.Context) ([]device.Device, error) {
	f.mu.Lock()
	block := f.blockList
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", cloud.ErrTransient, ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]device.Device, len(f.devices))
	for i, d := range f.devices {
		out[i] = d.DeepCopy()
	}
	return out, nil
}

func (f *fakeVendor) ReadState(ctx context.Context, id string) (device.State, error) {
	f.mu.Lock()
	hook := f.onRead
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	f.mu.Lock()
	block := f.blocked[id]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", cloud.ErrTransient, ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[id]; err != nil {
		return nil, err
	}
	s, ok := f.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cloud.ErrNotFound, id)
	}
	return s.Clone(), nil
}

func (f *fakeVendor) SendCommand(ctx context.Context, id string, attr device.Attribute, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCommand{ID: id, Attr: attr, Value: value})
	return f.sendErr
}

func (f *fakeVendor) setState(id string, s device.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = s
}

func (f *fakeVendor) setDevices(devs ...device.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devs
}

func (f *fakeVendor) setListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *fakeVendor) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeVendor) setReadErr(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.readErr, id)
		return
	}
	f.readErr[id] = err
}

func (f *fakeVendor) setBlocked(id string, blocked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[id] = blocked
}

func (f *fakeVendor) setBlockList(blocked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockList = blocked
}

func (f *fakeVendor) setOnRead(hook func(id string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRead = hook
}

func (f *fakeVendor) sentCommands() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sent...)
}

// fakeAuditor keeps audit entries in memory.
type fakeAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *fakeAuditor) Create(_ context.Context, e *audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *e)
	return nil
}

func (a *fakeAuditor) all() []audit.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Entry(nil), a.entries...)
}

// fakeSink records emitted events.
type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *fakeSink) ofType(t string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ac1 is a basic unit: cool and fan modes with a setpoint.
func ac1() device.Device {
	return device.Device{
		ID:           "ac-1",
		Name:         "Living Room",
		ObjectID:     device.ObjectIDFor("Living Room"),
		MAC:          device.DefaultMAC,
		Model:        device.DefaultModel,
		Manufacturer: device.DefaultManufacturer,
		Capabilities: device.NewCapabilitySet(device.CapCool, device.CapFan, device.CapTemperature),
	}
}

func unit(id string, caps ...device.Capability) device.Device {
	return device.Device{
		ID:           id,
		Name:         id,
		ObjectID:     device.ObjectIDFor(id),
		MAC:          device.DefaultMAC,
		Model:        device.DefaultModel,
		Manufacturer: device.DefaultManufacturer,
		Capabilities: device.NewCapabilitySet(caps...),
	}
}

type testBridge struct {
	*Bridge
	mock    *MockMQTTClient
	vend    *fakeVendor
	auditor *fakeAuditor
	sink    *fakeSink
	clock   *fakeClock
}

func newTestBridge(t *testing.T, vendor *fakeVendor, modify ...func(*BridgeOptions)) *testBridge {
	t.Helper()

	mock := NewMockMQTTClient()
	auditor := &fakeAuditor{}
	sink := &fakeSink{}
	clock := newFakeClock()

	opts := BridgeOptions{
		Config: config.BridgeConfig{
			RefreshInterval: 60,
			MissThreshold:   3,
			Workers:         2,
			TopicPrefix:     "godaikin",
			DiscoveryPrefix: "homeassistant",
			CommandTimeout:  5,
		},
		QoS:    1,
		Vendor: vendor,
		MQTT:   mock,
		Audit:  auditor,
		Events: sink,
		Now:    clock.Now,
	}
	for _, fn := range modify {
		fn(&opts)
	}

	b, err := NewBridge(opts)
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	t.Cleanup(b.Stop)

	return &testBridge{Bridge: b, mock: mock, vend: vendor, auditor: auditor, sink: sink, clock: clock}
}

func (tb *testBridge) cycle(t *testing.T) CycleReport {
	t.Helper()
	report, err := tb.Bridge.runCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	return report
}

func topicsOf(pubs []mockPublish) []string {
	out := make([]string, len(pubs))
	for i, p := range pubs {
		out[i] = p.Topic
	}
	return out
}
