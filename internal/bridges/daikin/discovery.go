package daikin

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/godaikin-mqtt/internal/device"
	"github.com/nerrad567/godaikin-mqtt/internal/hass"
	"github.com/nerrad567/godaikin-mqtt/internal/infrastructure/mqtt"
)

// Publisher is the publish half of the MQTT client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DiscoveryPublisher publishes and retracts Home Assistant discovery
// configs.
type DiscoveryPublisher struct {
	pub     Publisher
	topics  mqtt.Topics
	builder hass.Builder
	qos     byte
}

// NewDiscoveryPublisher creates a publisher on the given topic layout.
func NewDiscoveryPublisher(pub Publisher, topics mqtt.Topics, qos byte) *DiscoveryPublisher {
	return &DiscoveryPublisher{
		pub:     pub,
		topics:  topics,
		builder: hass.NewBuilder(topics, qos),
		qos:     qos,
	}
}

// Publish publishes every discovery config the device's capabilities
// allow, retained. It stops at the first failure.
func (p *DiscoveryPublisher) Publish(ctx context.Context, dev device.Device) error {
	records, err := p.builder.Records(dev)
	if err != nil {
		return fmt.Errorf("building discovery for %s: %w", dev.ID, err)
	}
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.pub.Publish(r.Topic, r.Payload, p.qos, true); err != nil {
			return fmt.Errorf("publishing discovery %s: %w", r.Topic, err)
		}
	}
	return nil
}

// Retract clears every retained topic the device could own: all candidate
// discovery configs, every attribute state topic and the device
// availability topic. It attempts them all and joins the failures.
func (p *DiscoveryPublisher) Retract(ctx context.Context, id string) error {
	topics := p.builder.CandidateTopics(id)
	for _, attr := range device.AllAttributes() {
		if attr == device.AttrAvailability {
			continue
		}
		topics = append(topics, p.topics.State(id, string(attr)))
	}
	topics = append(topics, p.topics.DeviceAvailability(id))

	var errs []error
	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.pub.Publish(topic, []byte{}, p.qos, true); err != nil {
			errs = append(errs, fmt.Errorf("clearing %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// ensureDiscovered publishes the device's discovery configs if they are
// still pending and reports whether state may be published. The caller
// holds the device lock.
func (b *Bridge) ensureDiscovered(ctx context.Context, id string) bool {
	if !b.registry.NeedsDiscovery(id) {
		return true
	}
	snap, ok := b.registry.Get(id)
	if !ok {
		return false
	}
	if err := b.discovery.Publish(ctx, snap.Device); err != nil {
		b.metrics.publishFailed("discovery")
		b.logError("discovery publish failed, skipping state", err, "device_id", id)
		return false
	}
	b.registry.MarkDiscovered(id)
	b.logDebug("discovery published", "device_id", id)
	return true
}
