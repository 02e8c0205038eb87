// Package mqtt mirrors device actions onto an MQTT broker so devices
// that speak MQTT rather than websockets can act on them. The mirror
// registers with the device hub as one more observer.
//
// Connection management uses Eclipse Paho v2's [autopaho] package with
// automatic reconnection. On every (re-)connect the mirror publishes a
// retained "online" birth message to its availability topic; a will
// message flips it to "offline" on unexpected disconnects.
package mqtt
