package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementBridge = "bridge"
	MeasurementHub    = "hub"
)

// BridgeSample is one device's bridge counters at a point in time.
type BridgeSample struct {
	DeviceID            string
	Backend             string
	State               string
	Connected           bool
	ConsecutiveFailures int
	Sends               uint64
	Successes           uint64
	Failures            uint64
	Retries             uint64
	Reconnects          uint64
	Exhaustions         uint64
}

// HubSample is the hub's totals at a point in time.
type HubSample struct {
	Devices        int
	Updates        uint64
	Dropped        uint64
	StoreErrors    uint64
	ListenerPanics uint64
}

// BridgePoint builds a bridge measurement point.
func BridgePoint(s BridgeSample, at time.Time) *write.Point {
	return write.NewPoint(MeasurementBridge,
		map[string]string{
			"device_id": s.DeviceID,
			"backend":   s.Backend,
			"state":     s.State,
		},
		map[string]any{
			"connected":            s.Connected,
			"consecutive_failures": int64(s.ConsecutiveFailures),
			"sends":                s.Sends,
			"successes":            s.Successes,
			"failures":             s.Failures,
			"retries":              s.Retries,
			"reconnects":           s.Reconnects,
			"exhaustions":          s.Exhaustions,
		},
		at)
}

// HubPoint builds a hub measurement point.
func HubPoint(s HubSample, at time.Time) *write.Point {
	return write.NewPoint(MeasurementHub,
		nil,
		map[string]any{
			"devices":         int64(s.Devices),
			"updates":         s.Updates,
			"dropped":         s.Dropped,
			"store_errors":    s.StoreErrors,
			"listener_panics": s.ListenerPanics,
		},
		at)
}
