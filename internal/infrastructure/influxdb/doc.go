// Package influxdb writes operational telemetry to InfluxDB v2.
//
// Telemetry covers the integration core itself: per-device bridge counters
// and connection state, and hub totals. Device attribute history is not
// recorded here; the hub keeps only the latest state.
//
// Writes are non-blocking and batched by the underlying client. Asynchronous
// write failures are delivered to the SetOnError callback.
//
// # Measurements
//
//	bridge  tags: device_id, backend, state
//	        fields: sends, successes, failures, retries, reconnects,
//	                exhaustions, consecutive_failures, connected
//	hub     fields: devices, updates, dropped, store_errors, listener_panics
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WritePoints(influxdb.HubPoint(stats, time.Now()))
package influxdb
