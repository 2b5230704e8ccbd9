package platform

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/metrics"
)

// DefaultTelemetryInterval is used when no interval is configured.
const DefaultTelemetryInterval = 30 * time.Second

// TelemetryWriter accepts operational telemetry points. *influxdb.Client
// satisfies it.
type TelemetryWriter interface {
	WritePoints(points ...*write.Point)
}

func (p *Platform) telemetryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.telemetry.WritePoints(p.TelemetryPoints(now)...)
		}
	}
}

// TelemetryPoints builds one bridge point per device and one hub point.
func (p *Platform) TelemetryPoints(at time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(p.order)+1)
	for _, id := range p.order {
		d := p.devices[id]
		bs := d.bridge.Stats()
		points = append(points, influxdb.BridgePoint(influxdb.BridgeSample{
			DeviceID:            id,
			Backend:             string(d.kind),
			State:               string(bs.Binding.State),
			Connected:           bs.Backend.Connected,
			ConsecutiveFailures: bs.Binding.ConsecutiveFailures,
			Sends:               bs.Sends,
			Successes:           bs.Successes,
			Failures:            bs.Failures,
			Retries:             bs.Retries,
			Reconnects:          bs.Reconnects,
			Exhaustions:         bs.Exhaustions,
		}, at))
	}

	hs := p.hub.Stats()
	points = append(points, influxdb.HubPoint(influxdb.HubSample{
		Devices:        hs.Devices,
		Updates:        hs.Updates,
		Dropped:        hs.Dropped,
		StoreErrors:    hs.StoreErrors,
		ListenerPanics: hs.ListenerPanics,
	}, at))
	return points
}

// MetricSamples implements metrics.Source.
func (p *Platform) MetricSamples() ([]metrics.DeviceSample, metrics.HubSample) {
	samples := make([]metrics.DeviceSample, 0, len(p.order))
	for _, id := range p.order {
		d := p.devices[id]
		bs := d.bridge.Stats()
		as := d.adapter.Stats()
		samples = append(samples, metrics.DeviceSample{
			DeviceID:         id,
			Category:         string(d.category),
			Backend:          string(d.kind),
			State:            string(bs.Binding.State),
			Sends:            bs.Sends,
			Successes:        bs.Successes,
			Failures:         bs.Failures,
			Retries:          bs.Retries,
			Reconnects:       bs.Reconnects,
			Exhaustions:      bs.Exhaustions,
			ReportsDropped:   bs.Backend.ReportsDropped,
			DecodeErrors:     bs.Backend.DecodeErrors,
			Events:           as.Events,
			Busy:             as.Busy,
			Rejected:         as.Rejected,
			SubscriberPanics: as.SubscriberPanics,
		})
	}

	hs := p.hub.Stats()
	return samples, metrics.HubSample{
		Devices:        hs.Devices,
		Updates:        hs.Updates,
		Dropped:        hs.Dropped,
		StoreErrors:    hs.StoreErrors,
		ListenerPanics: hs.ListenerPanics,
	}
}
