package platform

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-integration/internal/hub"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-integration/internal/transport"
)

// republishQueue bounds the changes waiting to be published.
const republishQueue = 256

// Broker is the MQTT connection used for links and state republishing.
// *mqtt.Client satisfies it.
type Broker interface {
	transport.Broker
	PublishRetained(topic string, payload []byte) error
	Topics() mqtt.Topics
	QoS() byte
}

// republisher publishes each changed device's snapshot, retained, to
// <prefix>/state/<category>/<id>. enqueue never blocks; publishing runs on
// the run goroutine.
type republisher struct {
	broker Broker
	hub    *hub.Hub
	log    *logging.Logger
	queue  chan hub.Change

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func newRepublisher(broker Broker, h *hub.Hub, log *logging.Logger) *republisher {
	return &republisher{
		broker: broker,
		hub:    h,
		log:    log,
		queue:  make(chan hub.Change, republishQueue),
	}
}

func (r *republisher) enqueue(c hub.Change) {
	select {
	case r.queue <- c:
	default:
		r.dropped.Add(1)
		r.log.Warn("republish queue full, dropping change", "device_id", c.DeviceID, "attribute", c.Attribute)
	}
}

func (r *republisher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.queue:
			r.publish(c)
		}
	}
}

func (r *republisher) publish(c hub.Change) {
	snap, err := r.hub.Snapshot(c.DeviceID)
	if err != nil {
		// Unregistered between the change and now.
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		r.failed.Add(1)
		r.log.Error("encoding snapshot", "device_id", c.DeviceID, "error", err)
		return
	}

	topic := r.broker.Topics().State(string(c.Category), c.DeviceID)
	if err := r.broker.PublishRetained(topic, payload); err != nil {
		r.failed.Add(1)
		r.log.Warn("publishing state", "topic", topic, "error", err)
		return
	}
	r.published.Add(1)
}

// RepublishStats reports MQTT state republishing counters.
type RepublishStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// RepublishStats returns zero values when republishing is not running.
func (p *Platform) RepublishStats() RepublishStats {
	p.runMu.Lock()
	r := p.republisher
	p.runMu.Unlock()
	if r == nil {
		return RepublishStats{}
	}
	return RepublishStats{
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
	}
}
