// Package mqtt wraps the paho MQTT client for the integration core.
//
// The broker carries two kinds of traffic:
//
//   - device frames for backends whose link type is "mqtt"
//     (<prefix>/device/<backend>/<id> and its /set command topic)
//   - hub state republished for other consumers
//     (<prefix>/state/<category>/<id>, retained)
//
// The client tracks subscriptions and restores them after a reconnect,
// recovers panics in message handlers, and announces its status on
// <prefix>/system/status with a last will for unexpected disconnects.
//
// Usage:
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	t := client.Topics()
//	err = client.PublishRetained(t.State("light", "light1"), payload)
package mqtt
