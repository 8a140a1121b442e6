package daikin

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/godaikin-mqtt/internal/audit"
	"github.com/nerrad567/godaikin-mqtt/internal/device"
)

// handleMQTTMessage routes a <prefix>/<id>/<attribute>/set message to
// OnCommand. Command failures are logged and audited by OnCommand, so only
// malformed topics surface as handler errors.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	id, attr, ok := b.topics.ParseCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	_ = b.OnCommandFrom(b.ctx, audit.SourceMQTT, id, device.Attribute(attr), string(payload)) //nolint:errcheck // logged and audited
	return nil
}

// OnCommand handles a command received over MQTT.
func (b *Bridge) OnCommand(ctx context.Context, id string, attr device.Attribute, raw string) error {
	return b.OnCommandFrom(ctx, audit.SourceMQTT, id, attr, raw)
}

// OnCommandFrom validates a command, sends it to the vendor and, on
// acknowledgement, publishes the new value immediately.
//
// Validation failures never reach the vendor. A vendor failure leaves the
// registry untouched, republishes the last value a read confirmed so Home
// Assistant drops its optimistic guess, and is not retried. Discovery is
// published first when the device has none yet.
func (b *Bridge) OnCommandFrom(ctx context.Context, source, id string, attr device.Attribute, raw string) error {
	start := b.now()

	snap, ok := b.registry.Get(id)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownDevice, id)
		b.finishCommand(ctx, source, id, attr, raw, start, err)
		return err
	}

	value, err := device.ParseCommand(snap.Device, attr, raw)
	if err != nil {
		b.finishCommand(ctx, source, id, attr, raw, start, err)
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, b.commandTimeout)
	err = b.vendor.SendCommand(sendCtx, id, attr, value)
	cancel()

	// Whatever the vendor answered stands even if the caller has gone.
	pubCtx, pubCancel := context.WithTimeout(context.WithoutCancel(ctx), b.commandTimeout)
	defer pubCancel()
	if err != nil {
		err = fmt.Errorf("sending %s to %s: %w", attr, id, err)
		b.correct(pubCtx, id, attr)
		b.finishCommand(ctx, source, id, attr, raw, start, err)
		return err
	}

	b.applyAcknowledged(pubCtx, id, attr, value)
	b.finishCommand(ctx, source, id, attr, raw, start, nil)
	return nil
}

// applyAcknowledged stores an acknowledged value and publishes it if it
// changed. The vendor has already applied the command, so a cancelled
// request does not stop this; only Stop does.
func (b *Bridge) applyAcknowledged(ctx context.Context, id string, attr device.Attribute, value any) {
	unlock := b.locks.lock(id)
	defer unlock()

	if b.ctx.Err() != nil {
		return
	}
	changed, err := b.registry.ApplyOptimistic(id, attr, value)
	if err != nil {
		// Purged between lookup and acknowledgement.
		b.logWarn("acknowledged command for removed device", "device_id", id, "attribute", string(attr))
		return
	}
	if !changed {
		return
	}
	if !b.ensureDiscovered(ctx, id) {
		// The next cycle publishes discovery and then the read value.
		b.registry.Forget(id, attr)
		return
	}

	if err := b.publishValue(id, attr, value); err != nil {
		b.registry.Forget(id, attr)
		b.metrics.publishFailed("state")
		b.logError("state publish failed", err, "device_id", id, "attribute", string(attr))
		return
	}
	b.metrics.statePublished(1)
	b.emit(EventStateChanged, id, map[string]any{
		"source":  device.StateHistorySourceCommand,
		"changes": map[string]any{string(attr): value},
	})
}

// correct reverts attr to the last value a vendor read confirmed, if one is
// known, and republishes it. Unconfirmed optimistic values are never used.
func (b *Bridge) correct(ctx context.Context, id string, attr device.Attribute) {
	unlock := b.locks.lock(id)
	defer unlock()

	if b.ctx.Err() != nil {
		return
	}
	v, ok := b.registry.Revert(id, attr)
	if !ok {
		return
	}
	if !b.ensureDiscovered(ctx, id) {
		b.registry.Forget(id, attr)
		return
	}
	if err := b.publishValue(id, attr, v); err != nil {
		b.registry.Forget(id, attr)
		b.metrics.publishFailed("correction")
		b.logError("correction publish failed", err, "device_id", id, "attribute", string(attr))
		return
	}
	b.logDebug("republished last confirmed value", "device_id", id, "attribute", string(attr))
}

// finishCommand logs, counts and audits a handled command.
func (b *Bridge) finishCommand(ctx context.Context, source, id string, attr device.Attribute, raw string, start time.Time, err error) {
	latency := b.now().Sub(start)
	result := outcome(err)

	b.stats.commands.Add(1)
	if err != nil {
		b.stats.failedCmds.Add(1)
		if IsValidation(err) {
			b.logWarn("command rejected", "device_id", id, "attribute", string(attr), "value", raw, "error", err)
		} else {
			b.logError("command failed", err, "device_id", id, "attribute", string(attr), "outcome", result)
		}
	} else {
		b.logInfo("command acknowledged", "device_id", id, "attribute", string(attr), "value", raw,
			"latency", latency.String())
	}

	b.metrics.commandHandled(string(attr), result, latency)
	if b.telemetry != nil {
		b.telemetry.WriteCommand(id, string(attr), result, latency)
	}

	payload := map[string]any{"attribute": string(attr), "value": raw, "outcome": result}
	if err != nil {
		payload["error"] = err.Error()
	}
	b.emit(EventCommand, id, payload)

	if b.audit == nil {
		return
	}
	entry := &audit.Entry{
		DeviceID:  id,
		Attribute: string(attr),
		Value:     raw,
		Outcome:   result,
		Source:    source,
		CreatedAt: start,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	// The audit row outlives a cancelled request.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if auditErr := b.audit.Create(auditCtx, entry); auditErr != nil {
		b.logError("failed to audit command", auditErr, "device_id", id)
	}
}
