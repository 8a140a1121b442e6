package daikin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/godaikin-mqtt/internal/audit"
	"github.com/nerrad567/godaikin-mqtt/internal/device"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/config"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/influxdb"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/mqtt"
)

// Defaults applied when the bridge config leaves a field at zero.
const (
	defaultRefreshInterval = 60 * time.Second
	defaultCommandTimeout  = 10 * time.Second
	defaultMissThreshold   = 3
	defaultWorkers         = 4

	// energyGapCycles is how many refresh intervals may pass between two
	// power samples before the energy meter restarts its clock.
	energyGapCycles = 5

	// storeTimeout bounds side writes (energy, history, audit) so a slow
	// database cannot stall a cycle.
	storeTimeout = 5 * time.Second

	pruneSchedule = "@daily"
)

// MQTTClient is the subset of the MQTT client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Vendor is the vendor cloud as seen by the bridge. *cloud.Client
// satisfies it.
type Vendor interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
	ReadState(ctx context.Context, id string) (device.State, error)
	SendCommand(ctx context.Context, id string, attr device.Attribute, value any) error
}

// Auditor records handled commands.
type Auditor interface {
	Create(ctx context.Context, e *audit.Entry) error
}

// Telemetry receives time-series samples. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteClimate(s influxdb.ClimateSample)
	WriteCommand(deviceID, attribute, outcome string, latency time.Duration)
	WriteCycle(devices, published int, duration time.Duration, failed bool)
}

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds the dependencies of a bridge. Vendor and MQTT are
// required; everything else is optional.
type BridgeOptions struct {
	// Config is the bridge section of the configuration.
	Config config.BridgeConfig

	// QoS is used for every publish and the command subscription.
	QoS byte

	// HistoryRetention is how long state history is kept. Zero disables
	// pruning.
	HistoryRetention time.Duration

	Vendor Vendor
	MQTT   MQTTClient

	// Registry is created when nil.
	Registry *device.Registry

	History   device.StateHistoryRepository
	Energy    EnergyStore
	Audit     Auditor
	Telemetry Telemetry
	Events    EventSink
	Metrics   *Metrics
	Logger    Logger

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Bridge connects the vendor cloud to MQTT.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	vendor    Vendor
	mqtt      MQTTClient
	registry  *device.Registry
	topics    mqtt.Topics
	discovery *DiscoveryPublisher
	meter     *EnergyMeter

	history   device.StateHistoryRepository
	energy    EnergyStore
	audit     Auditor
	telemetry Telemetry
	events    EventSink
	metrics   *Metrics

	qos                byte
	refreshInterval    time.Duration
	cycleTimeout       time.Duration
	commandTimeout     time.Duration
	historyRetention   time.Duration
	missThreshold      int
	workers            int
	republishDiscovery bool

	locks     deviceLocks
	cycleMu   sync.Mutex
	refreshCh chan struct{}
	scheduler *cron.Cron
	started   atomic.Bool
	stats     bridgeStats

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex

	now func() time.Time
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Vendor == nil {
		return nil, fmt.Errorf("vendor client is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	cfg := opts.Config
	refresh := time.Duration(cfg.RefreshInterval) * time.Second
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	commandTimeout := time.Duration(cfg.CommandTimeout) * time.Second
	if commandTimeout <= 0 {
		commandTimeout = defaultCommandTimeout
	}
	missThreshold := cfg.MissThreshold
	if missThreshold <= 0 {
		missThreshold = defaultMissThreshold
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	registry := opts.Registry
	if registry == nil {
		registry = device.NewRegistry()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
		registry.SetLogger(opts.Logger)
	}

	topics := mqtt.NewTopics(cfg.TopicPrefix, cfg.DiscoveryPrefix)
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		vendor:             opts.Vendor,
		mqtt:               opts.MQTT,
		registry:           registry,
		topics:             topics,
		discovery:          NewDiscoveryPublisher(opts.MQTT, topics, opts.QoS),
		meter:              NewEnergyMeter(energyGapCycles * refresh),
		history:            opts.History,
		energy:             opts.Energy,
		audit:              opts.Audit,
		telemetry:          opts.Telemetry,
		events:             opts.Events,
		metrics:            opts.Metrics,
		qos:                opts.QoS,
		refreshInterval:    refresh,
		cycleTimeout:       refresh,
		commandTimeout:     commandTimeout,
		historyRetention:   opts.HistoryRetention,
		missThreshold:      missThreshold,
		workers:            workers,
		republishDiscovery: cfg.RepublishDiscovery,
		locks:              deviceLocks{locks: make(map[string]*sync.Mutex)},
		refreshCh:          make(chan struct{}, 1),
		ctx:                ctx,
		ctxCancel:          ctxCancel,
		logger:             logger,
		now:                now,
	}
	return b, nil
}

// Start restores energy totals, subscribes to commands, starts the
// scheduler and triggers the first cycle.
func (b *Bridge) Start(ctx context.Context) error {
	if b.started.Load() {
		return fmt.Errorf("bridge already started")
	}

	if b.energy != nil {
		loadCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		totals, err := b.energy.LoadEnergy(loadCtx)
		cancel()
		if err != nil {
			b.logError("failed to load energy totals", err)
		} else {
			b.meter.Restore(totals)
			b.logDebug("energy totals restored", "devices", len(totals))
		}
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.scheduler = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{b})))
	if _, err := b.scheduler.AddFunc("@every "+b.refreshInterval.String(), b.scheduledCycle); err != nil {
		return fmt.Errorf("scheduling refresh: %w", err)
	}
	if b.history != nil && b.historyRetention > 0 {
		if _, err := b.scheduler.AddFunc(pruneSchedule, b.pruneHistory); err != nil {
			return fmt.Errorf("scheduling history pruning: %w", err)
		}
	}

	b.wg.Add(1)
	go b.refreshLoop()

	b.scheduler.Start()
	b.started.Store(true)

	b.logInfo("bridge started",
		"refresh_interval", b.refreshInterval.String(),
		"workers", b.workers,
		"miss_threshold", b.missThreshold)

	return b.Refresh()
}

// Stop cancels in-flight work and waits for the running cycle to finish.
// No publish happens after Stop returns.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		if b.scheduler != nil {
			<-b.scheduler.Stop().Done()
		}

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// Refresh requests an immediate cycle. Requests made while one is pending
// coalesce into it.
func (b *Bridge) Refresh() error {
	if !b.started.Load() {
		return ErrNotStarted
	}
	select {
	case b.refreshCh <- struct{}{}:
	default:
	}
	return nil
}

// HandleReconnect is called after the MQTT connection is re-established.
// The broker may have lost its retained messages, so discovery and state
// are republished in full on the next cycle.
func (b *Bridge) HandleReconnect() {
	b.registry.InvalidateDiscovery()
	b.registry.InvalidateState()
	b.logInfo("mqtt reconnected, republishing discovery and state")

	if err := b.Refresh(); err != nil {
		b.logDebug("refresh after reconnect skipped", "reason", err.Error())
	}
}

// Registry returns the device registry.
func (b *Bridge) Registry() *device.Registry {
	return b.registry
}

func (b *Bridge) refreshLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.refreshCh:
			b.runCycleLogged("on_demand")
		}
	}
}

func (b *Bridge) scheduledCycle() {
	b.runCycleLogged("scheduled")
}

func (b *Bridge) runCycleLogged(trigger string) {
	if b.ctx.Err() != nil {
		return
	}
	if err := b.RunCycle(b.ctx); err != nil && b.ctx.Err() == nil {
		b.logError("cycle failed", err, "trigger", trigger)
	}
}

func (b *Bridge) pruneHistory() {
	ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
	defer cancel()

	n, err := b.history.PruneHistory(ctx, b.historyRetention)
	if err != nil {
		b.logError("state history pruning failed", err)
		return
	}
	if n > 0 {
		b.logInfo("state history pruned", "rows", n)
	}
}

// deviceLocks serialises apply-and-publish per device.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *deviceLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// bridgeStats holds counters for the health endpoint.
type bridgeStats struct {
	cycles        atomic.Uint64
	failedCycles  atomic.Uint64
	commands      atomic.Uint64
	failedCmds    atomic.Uint64
	lastCycleUnix atomic.Int64
	lastCycleErr  atomic.Value // string
}

// BridgeMetrics is a point-in-time summary for the health endpoint.
type BridgeMetrics struct {
	Connected      bool      `json:"mqtt_connected"`
	Status         string    `json:"status"`
	Devices        int       `json:"devices"`
	Cycles         uint64    `json:"cycles"`
	FailedCycles   uint64    `json:"failed_cycles"`
	Commands       uint64    `json:"commands"`
	FailedCommands uint64    `json:"failed_commands"`
	LastCycle      time.Time `json:"last_cycle,omitempty"`
	LastCycleError string    `json:"last_cycle_error,omitempty"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	m := BridgeMetrics{
		Connected:      b.mqtt.IsConnected(),
		Devices:        b.registry.Len(),
		Cycles:         b.stats.cycles.Load(),
		FailedCycles:   b.stats.failedCycles.Load(),
		Commands:       b.stats.commands.Load(),
		FailedCommands: b.stats.failedCmds.Load(),
	}
	if unix := b.stats.lastCycleUnix.Load(); unix > 0 {
		m.LastCycle = time.Unix(unix, 0).UTC()
	}
	if s, ok := b.stats.lastCycleErr.Load().(string); ok {
		m.LastCycleError = s
	}

	switch {
	case !m.Connected:
		m.Status = "disconnected"
	case m.LastCycleError != "":
		m.Status = "degraded"
	default:
		m.Status = "healthy"
	}
	return m
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.getLogger().Info(msg, keysAndValues...)
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.getLogger().Warn(msg, keysAndValues...)
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.getLogger().Debug(msg, keysAndValues...)
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	b.getLogger().Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// cronLogger adapts the bridge logger to cron.Logger.
type cronLogger struct {
	b *Bridge
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.b.logDebug("scheduler: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.b.logError("scheduler: "+msg, err, keysAndValues...)
}
