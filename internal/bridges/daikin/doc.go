// Package daikin bridges GO DAIKIN air conditioners to MQTT.
//
// The Bridge runs two independent paths over a shared device.Registry:
//
//   - The reconciler polls the vendor cloud on a cron schedule. Each cycle
//     lists devices, reads their state on a bounded worker pool, publishes
//     Home Assistant discovery for new or changed devices and one retained
//     message per changed attribute, then does miss accounting. A device
//     missing for bridge.miss_threshold consecutive cycles is purged and its
//     discovery retracted.
//
//   - The command path receives <prefix>/<id>/<attribute>/set messages (or
//     API requests), validates them against the device's capabilities,
//     sends them to the vendor and publishes the acknowledged value
//     immediately. A failed command republishes the last confirmed value.
//
// Apply-and-publish for one device is serialised by a per-device lock, so
// the retained MQTT state always matches the registry order of writes.
//
// Topic layout:
//
//	homeassistant/climate/<id>/config            discovery, retained
//	homeassistant/sensor/<id>/<object>/config    discovery, retained
//	homeassistant/light/<id>/status_led/config   discovery, retained
//	godaikin/<id>/<attribute>/state              state, retained
//	godaikin/<id>/<attribute>/set                commands
//	godaikin/<id>/availability                   online/offline, retained
package daikin
