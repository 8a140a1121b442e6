// Package hass builds Home Assistant MQTT discovery payloads for GO DAIKIN
// units.
//
// Each unit maps to one climate entity, up to four sensors (power, energy,
// indoor and outdoor temperature) and a status LED light. Which entities
// and which climate features are declared depends on the unit's capability
// set. Every entity uses per-attribute raw state topics, so no value
// templates are needed, and declares availability_mode "all" over the
// bridge and device availability topics.
package hass
