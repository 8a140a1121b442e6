package daikin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	devices         prometheus.Gauge
	statePublishes  prometheus.Counter
	publishFailures *prometheus.CounterVec
	readFailures    *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandLatency  prometheus.Histogram
	purges          prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godaikin_cycles_total",
			Help: "Reconciliation cycles by result (ok, failed, cancelled)",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "godaikin_cycle_duration_seconds",
			Help:    "Duration of reconciliation cycles",
			Buckets: prometheus.DefBuckets,
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "godaikin_devices",
			Help: "Devices held in the registry",
		}),
		statePublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godaikin_state_publishes_total",
			Help: "Retained state messages published",
		}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godaikin_publish_failures_total",
			Help: "Failed MQTT publishes by kind (discovery, state, retract, correction)",
		}, []string{"kind"}),
		readFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godaikin_read_failures_total",
			Help: "Failed vendor state reads by error class",
		}, []string{"class"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "godaikin_commands_total",
			Help: "Commands handled by attribute and outcome",
		}, []string{"attribute", "outcome"}),
		commandLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "godaikin_command_duration_seconds",
			Help:    "Time from command receipt to vendor acknowledgement or failure",
			Buckets: prometheus.DefBuckets,
		}),
		purges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "godaikin_device_purges_total",
			Help: "Devices purged after consecutive missed cycles",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cycles,
		m.cycleDuration,
		m.devices,
		m.statePublishes,
		m.publishFailures,
		m.readFailures,
		m.commands,
		m.commandLatency,
		m.purges,
	}
}

func (m *Metrics) observeCycle(result string, d time.Duration, devices int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
	m.devices.Set(float64(devices))
}

func (m *Metrics) statePublished(n int) {
	if m == nil || n == 0 {
		return
	}
	m.statePublishes.Add(float64(n))
}

func (m *Metrics) publishFailed(kind string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) readFailed(class string) {
	if m == nil {
		return
	}
	m.readFailures.WithLabelValues(class).Inc()
}

func (m *Metrics) commandHandled(attribute, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(attribute, outcome).Inc()
	m.commandLatency.Observe(latency.Seconds())
}

func (m *Metrics) purged() {
	if m == nil {
		return
	}
	m.purges.Inc()
}
