// Package device holds the bridge's model of GO DAIKIN air conditioners.
//
// # Key Types
//
//   - Device: identity, Home Assistant metadata and the CapabilitySet
//     derived from the unit's shadow flags
//   - State: projected attribute values (mode, temperature, fan_mode, ...)
//   - Registry: the in-memory source of truth for what has been published
//
// # Registry
//
// The Registry keeps one entry per device with its last published state,
// its presence (active, missing) and whether discovery has been published.
// Vendor reads and acknowledged commands write through separate paths:
//
//	epoch := reg.BeginCycle()
//	changed := reg.ApplyAuthoritative(id, state, epoch) // reconciler
//	changed, err := reg.ApplyOptimistic(id, attr, value) // command bridge
//
// An optimistic value written during cycle e survives reads from cycle e and
// is replaced by the first read of a later cycle.
//
// # Commands
//
// ParseCommand validates a raw MQTT payload against the device's
// capabilities and returns the typed value. FormatValue is its inverse for
// state publishes.
//
// # History
//
// SQLiteStateHistoryRepository records state snapshots in the state_history
// table for the HTTP API.
package device
