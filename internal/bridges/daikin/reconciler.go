package daikin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/godaikin-mqtt/internal/cloud"
	"github.com/nerrad567/godaikin-mqtt/internal/device"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/influxdb"
)

// Cycle results used as metric labels.
const (
	cycleOK        = "ok"
	cycleFailed    = "failed"
	cycleCancelled = "cancelled"
)

// CycleReport summarises one reconciliation cycle.
type CycleReport struct {
	ID        string
	Listed    int
	Published int
	ReadFails int
	Missing   []string
	Purged    []string
	Duration  time.Duration
}

// readResult is the outcome of one device's read within a cycle.
type readResult struct {
	published int
	notFound  bool
	failed    bool
}

// RunCycle performs one reconciliation cycle. Cycles never overlap.
//
// A listing failure skips the cycle: no miss is counted and nothing is
// purged. Once ctx is cancelled nothing more is applied or published and
// no miss accounting happens.
//
// Vendor calls share one deadline of one refresh interval, so a stuck
// vendor delays the next scheduled cycle by at most one tick. Devices not
// applied by the deadline are treated as in a cancelled cycle and the
// cycle fails with ErrCycleTimeout.
func (b *Bridge) RunCycle(ctx context.Context) error {
	_, err := b.runCycle(ctx)
	return err
}

func (b *Bridge) runCycle(ctx context.Context) (CycleReport, error) {
	b.cycleMu.Lock()
	defer b.cycleMu.Unlock()

	start := b.now()
	report := CycleReport{ID: uuid.NewString()[:8]}
	epoch := b.registry.BeginCycle()

	cycleCtx, cancel := context.WithTimeout(ctx, b.cycleTimeout)
	defer cancel()

	devices, err := b.vendor.ListDevices(cycleCtx)
	if err != nil {
		report.Duration = b.now().Sub(start)
		if ctx.Err() != nil {
			b.finishCycle(report, cycleCancelled, nil)
			return report, ctx.Err()
		}
		if cycleCtx.Err() != nil {
			err = fmt.Errorf("listing devices: %w: %w", ErrCycleTimeout, err)
		} else {
			err = fmt.Errorf("listing devices: %w", err)
		}
		b.finishCycle(report, cycleFailed, err)
		return report, err
	}
	report.Listed = len(devices)

	listed := make(map[string]bool, len(devices))
	for _, dev := range devices {
		listed[dev.ID] = true
		switch res := b.registry.Upsert(dev); res {
		case device.UpsertAdded:
			b.logInfo("device discovered", "device_id", dev.ID, "name", dev.Name, "cycle", report.ID)
			b.emit(EventDeviceAdded, dev.ID, map[string]any{"name": dev.Name, "capabilities": dev.Capabilities.List()})
		case device.UpsertCapabilitiesChanged:
			b.logInfo("device capabilities changed, rediscovering", "device_id", dev.ID, "cycle", report.ID)
		case device.UpsertUpdated:
			b.logDebug("device metadata changed", "device_id", dev.ID, "cycle", report.ID)
		}
	}
	if b.republishDiscovery {
		b.registry.InvalidateDiscovery()
	}

	results := make([]readResult, len(devices))
	g := new(errgroup.Group)
	g.SetLimit(b.workers)
	for i, dev := range devices {
		g.Go(func() error {
			results[i] = b.reconcileDevice(cycleCtx, dev.ID, epoch)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	if ctx.Err() != nil {
		report.Duration = b.now().Sub(start)
		b.finishCycle(report, cycleCancelled, nil)
		return report, ctx.Err()
	}
	if cycleCtx.Err() != nil {
		for _, r := range results {
			report.Published += r.published
		}
		report.Duration = b.now().Sub(start)
		timeoutErr := fmt.Errorf("%w after %s", ErrCycleTimeout, b.cycleTimeout)
		b.logWarn("cycle deadline reached, skipping miss accounting", "cycle", report.ID, "published", report.Published)
		b.finishCycle(report, cycleFailed, timeoutErr)
		return report, timeoutErr
	}

	for i, dev := range devices {
		report.Published += results[i].published
		if results[i].failed {
			report.ReadFails++
		}
		if results[i].notFound {
			b.accountMiss(ctx, dev.ID, &report)
			continue
		}
		b.registry.MarkSeen(dev.ID)
	}
	for _, id := range b.registry.IDs() {
		if !listed[id] {
			b.accountMiss(ctx, id, &report)
		}
	}

	report.Duration = b.now().Sub(start)
	b.finishCycle(report, cycleOK, nil)
	return report, nil
}

// reconcileDevice reads one device and publishes what changed.
func (b *Bridge) reconcileDevice(ctx context.Context, id string, epoch uint64) readResult {
	state, err := b.vendor.ReadState(ctx, id)
	if err != nil {
		if errors.Is(err, cloud.ErrNotFound) {
			return readResult{notFound: true}
		}
		if ctx.Err() == nil {
			b.metrics.readFailed(errorClass(err))
			b.logWarn("device read failed", "device_id", id, "error", err)
		}
		return readResult{failed: true}
	}

	snap, ok := b.registry.Get(id)
	if !ok {
		return readResult{}
	}
	dev := snap.Device
	b.addEnergy(ctx, dev, state)

	unlock := b.locks.lock(id)
	defer unlock()

	if ctx.Err() != nil {
		return readResult{}
	}

	if !b.ensureDiscovered(ctx, id) {
		return readResult{}
	}

	changed := b.registry.ApplyAuthoritative(id, state, epoch)
	if len(changed) == 0 {
		return readResult{}
	}

	published := b.publishAttributes(ctx, id, state, changed)
	b.metrics.statePublished(published)
	b.recordChange(ctx, dev, state, changed)

	return readResult{published: published}
}

// publishAttributes publishes one retained message per attribute, taking
// values from s. An attribute whose publish fails, or that was not reached
// before cancellation, is forgotten so the next cycle republishes it.
func (b *Bridge) publishAttributes(ctx context.Context, id string, s device.State, attrs []device.Attribute) int {
	published := 0
	for i, attr := range attrs {
		if ctx.Err() != nil {
			b.registry.Forget(id, attrs[i:]...)
			break
		}
		if err := b.publishValue(id, attr, s[attr]); err != nil {
			b.registry.Forget(id, attr)
			b.metrics.publishFailed("state")
			b.logError("state publish failed", err, "device_id", id, "attribute", string(attr))
			continue
		}
		published++
	}
	return published
}

func (b *Bridge) publishValue(id string, attr device.Attribute, v any) error {
	topic := b.stateTopic(id, attr)
	return b.mqtt.Publish(topic, []byte(device.FormatValue(attr, v)), b.qos, true)
}

func (b *Bridge) stateTopic(id string, attr device.Attribute) string {
	if attr == device.AttrAvailability {
		return b.topics.DeviceAvailability(id)
	}
	return b.topics.State(id, string(attr))
}

// addEnergy integrates the read's power into the energy meter and sets the
// energy attribute.
func (b *Bridge) addEnergy(ctx context.Context, dev device.Device, s device.State) {
	if !device.Supports(dev, device.AttrEnergy) {
		return
	}
	power, ok := s[device.AttrPower].(float64)
	if !ok {
		return
	}

	before := device.RoundEnergy(b.meter.Total(dev.ID))
	total := b.meter.Add(dev.ID, power, b.now())
	s[device.AttrEnergy] = device.RoundEnergy(total)

	if b.energy == nil || device.RoundEnergy(total) == before {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := b.energy.SaveEnergy(saveCtx, dev.ID, total); err != nil {
		b.logError("failed to save energy total", err, "device_id", dev.ID)
	}
}

// recordChange fans an authoritative change out to history, telemetry and
// events.
func (b *Bridge) recordChange(ctx context.Context, dev device.Device, s device.State, changed []device.Attribute) {
	changes := make(map[string]any, len(changed))
	for _, attr := range changed {
		changes[string(attr)] = s[attr]
	}
	b.emit(EventStateChanged, dev.ID, map[string]any{"source": device.StateHistorySourceRefresh, "changes": changes})

	if b.telemetry != nil {
		b.telemetry.WriteClimate(climateSample(dev, s, b.now()))
	}

	if b.history != nil {
		snap, ok := b.registry.Get(dev.ID)
		if !ok {
			return
		}
		histCtx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := b.history.RecordStateChange(histCtx, dev.ID, snap.State, device.StateHistorySourceRefresh); err != nil {
			b.logError("failed to record state history", err, "device_id", dev.ID)
		}
	}
}

// accountMiss records a missed cycle and purges the device once it reaches
// the threshold.
func (b *Bridge) accountMiss(ctx context.Context, id string, report *CycleReport) {
	misses := b.registry.MarkMissing(id)
	report.Missing = append(report.Missing, id)
	b.logInfo("device missing", "device_id", id, "misses", misses, "threshold", b.missThreshold)

	if !b.registry.PurgeIfStale(id, b.missThreshold) {
		return
	}
	report.Purged = append(report.Purged, id)
	b.metrics.purged()
	b.meter.Reset(id)

	unlock := b.locks.lock(id)
	err := b.discovery.Retract(ctx, id)
	unlock()
	if err != nil {
		b.metrics.publishFailed("retract")
		b.logError("discovery retraction incomplete", err, "device_id", id)
	}
	b.logInfo("device purged", "device_id", id, "misses", misses)
	b.emit(EventDeviceRemoved, id, map[string]any{"misses": misses})
}

func (b *Bridge) finishCycle(report CycleReport, result string, err error) {
	devices := b.registry.Len()
	b.metrics.observeCycle(result, report.Duration, devices)
	if b.telemetry != nil && result != cycleCancelled {
		b.telemetry.WriteCycle(devices, report.Published, report.Duration, result == cycleFailed)
	}
	if result == cycleCancelled {
		return
	}

	b.stats.cycles.Add(1)
	b.stats.lastCycleUnix.Store(b.now().Unix())
	if err != nil {
		b.stats.failedCycles.Add(1)
		b.stats.lastCycleErr.Store(err.Error())
		return
	}
	b.stats.lastCycleErr.Store("")

	b.logDebug("cycle complete",
		"cycle", report.ID,
		"listed", report.Listed,
		"published", report.Published,
		"read_failures", report.ReadFails,
		"missing", len(report.Missing),
		"purged", len(report.Purged),
		"duration", report.Duration.String())
	b.emit(EventCycle, "", map[string]any{
		"cycle":     report.ID,
		"listed":    report.Listed,
		"published": report.Published,
		"purged":    report.Purged,
	})
}

func climateSample(dev device.Device, s device.State, at time.Time) influxdb.ClimateSample {
	sample := influxdb.ClimateSample{
		DeviceID: dev.ID,
		Name:     dev.Name,
		Time:     at,
	}
	if mode, ok := s[device.AttrMode].(string); ok {
		sample.Mode = mode
	}
	if avail, ok := s[device.AttrAvailability].(string); ok {
		sample.Online = avail == device.AvailabilityOnline
	}
	sample.TargetTemperature = floatPtr(s, device.AttrTemperature)
	sample.CurrentTemperature = floatPtr(s, device.AttrCurrentTemperature)
	sample.OutdoorTemperature = floatPtr(s, device.AttrOutdoorTemperature)
	if w := floatPtr(s, device.AttrPower); w != nil {
		kw := *w / 1000
		sample.PowerKW = &kw
	}
	sample.EnergyKWh = floatPtr(s, device.AttrEnergy)
	return sample
}

func floatPtr(s device.State, attr device.Attribute) *float64 {
	v, ok := s[attr].(float64)
	if !ok {
		return nil
	}
	return &v
}
