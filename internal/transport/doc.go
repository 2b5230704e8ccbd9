// Package transport provides protocol.Link implementations over real
// networks.
//
// MQTTLink carries a device's frames over the shared MQTT broker connection
// the way zigbee2mqtt-style gateways do: the device publishes acks and reports
// on its device topic, and commands are published to <device topic>/set.
package transport
