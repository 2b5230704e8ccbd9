package metrics

import "github.com/prometheus/client_golang/prometheus"

// BridgeStates lists every bridge state reported by the state gauge.
var BridgeStates = []string{"disconnected", "connecting", "connected", "exhausted"}

// DeviceSample is one device's counters at scrape time.
type DeviceSample struct {
	DeviceID string
	Category string
	Backend  string
	State    string

	Sends       uint64
	Successes   uint64
	Failures    uint64
	Retries     uint64
	Reconnects  uint64
	Exhaustions uint64

	ReportsDropped uint64
	DecodeErrors   uint64

	Events           uint64
	Busy             uint64
	Rejected         uint64
	SubscriberPanics uint64
}

// HubSample is the hub's counters at scrape time.
type HubSample struct {
	Devices        int
	Updates        uint64
	Dropped        uint64
	StoreErrors    uint64
	ListenerPanics uint64
}

// Source supplies samples on each scrape.
type Source interface {
	MetricSamples() ([]DeviceSample, HubSample)
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(DeviceSample) uint64
}

type statsCollector struct {
	src Source

	deviceCounters []counterDesc
	bridgeState    *prometheus.Desc

	hubDevices        *prometheus.Desc
	hubUpdates        *prometheus.Desc
	hubDropped        *prometheus.Desc
	hubStoreErrors    *prometheus.Desc
	hubListenerPanics *prometheus.Desc
}

func newStatsCollector(namespace string, src Source) *statsCollector {
	labels := []string{"device_id", "category", "backend"}
	desc := func(subsystem, name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}
	hubDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "hub", name), help, nil, nil)
	}

	return &statsCollector{
		src: src,
		deviceCounters: []counterDesc{
			{desc("bridge", "sends_total", "Commands submitted to the bridge."), func(s DeviceSample) uint64 { return s.Sends }},
			{desc("bridge", "successes_total", "Commands acknowledged by the device."), func(s DeviceSample) uint64 { return s.Successes }},
			{desc("bridge", "failures_total", "Connection failures seen by the bridge."), func(s DeviceSample) uint64 { return s.Failures }},
			{desc("bridge", "retries_total", "Send attempts after a failure."), func(s DeviceSample) uint64 { return s.Retries }},
			{desc("bridge", "reconnects_total", "Successful reconnections."), func(s DeviceSample) uint64 { return s.Reconnects }},
			{desc("bridge", "exhaustions_total", "Times the retry bound was reached."), func(s DeviceSample) uint64 { return s.Exhaustions }},
			{desc("backend", "reports_dropped_total", "Device reports dropped because the queue was full."), func(s DeviceSample) uint64 { return s.ReportsDropped }},
			{desc("backend", "decode_errors_total", "Inbound frames that could not be decoded."), func(s DeviceSample) uint64 { return s.DecodeErrors }},
			{desc("adapter", "events_total", "Status events emitted."), func(s DeviceSample) uint64 { return s.Events }},
			{desc("adapter", "busy_total", "Commands refused because the device was busy."), func(s DeviceSample) uint64 { return s.Busy }},
			{desc("adapter", "rejected_total", "Commands rejected by validation."), func(s DeviceSample) uint64 { return s.Rejected }},
			{desc("adapter", "subscriber_panics_total", "Recovered subscriber panics."), func(s DeviceSample) uint64 { return s.SubscriberPanics }},
		},
		bridgeState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "state"),
			"Current bridge connection state (1 for the active state).",
			append(labels, "state"), nil,
		),
		hubDevices:        hubDesc("devices", "Registered devices."),
		hubUpdates:        hubDesc("updates_total", "Status events applied to snapshots."),
		hubDropped:        hubDesc("dropped_events_total", "Status events for unregistered devices."),
		hubStoreErrors:    hubDesc("store_errors_total", "Failed snapshot mirror writes."),
		hubListenerPanics: hubDesc("listener_panics_total", "Recovered change listener panics."),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.deviceCounters {
		ch <- d.desc
	}
	ch <- c.bridgeState
	ch <- c.hubDevices
	ch <- c.hubUpdates
	ch <- c.hubDropped
	ch <- c.hubStoreErrors
	ch <- c.hubListenerPanics
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	devices, hub := c.src.MetricSamples()

	for _, s := range devices {
		for _, d := range c.deviceCounters {
			ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue,
				float64(d.value(s)), s.DeviceID, s.Category, s.Backend)
		}
		for _, state := range BridgeStates {
			v := 0.0
			if state == s.State {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.bridgeState, prometheus.GaugeValue,
				v, s.DeviceID, s.Category, s.Backend, state)
		}
	}

	ch <- prometheus.MustNewConstMetric(c.hubDevices, prometheus.GaugeValue, float64(hub.Devices))
	ch <- prometheus.MustNewConstMetric(c.hubUpdates, prometheus.CounterValue, float64(hub.Updates))
	ch <- prometheus.MustNewConstMetric(c.hubDropped, prometheus.CounterValue, float64(hub.Dropped))
	ch <- prometheus.MustNewConstMetric(c.hubStoreErrors, prometheus.CounterValue, float64(hub.StoreErrors))
	ch <- prometheus.MustNewConstMetric(c.hubListenerPanics, prometheus.CounterValue, float64(hub.ListenerPanics))
}
