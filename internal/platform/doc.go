// Package platform assembles the integration core from configuration.
//
// For every configured device it builds a link (simulated or MQTT), the
// protocol backend for the device's manufacturer, a communication bridge and
// the category adapter, and registers the adapter with the notification hub.
// It is also the single entry point for callers issuing commands by device
// ID, and it fans hub changes out to MQTT and operational telemetry to
// InfluxDB.
//
// Lifecycle:
//
//	p, err := platform.New(opts)   // build and register
//	err = p.Initialize(ctx)        // connect bridges
//	err = p.Start(ctx)             // pollers, republish, telemetry
//	...
//	p.Stop()
package platform
