package platform

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-integration/internal/adapter"
	"github.com/nerrad567/gray-logic-integration/internal/audit"
	"github.com/nerrad567/gray-logic-integration/internal/bridge"
	"github.com/nerrad567/gray-logic-integration/internal/hub"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-integration/internal/protocol"
	"github.com/nerrad567/gray-logic-integration/internal/simulator"
	"github.com/nerrad567/gray-logic-integration/internal/transport"
)

// Options configures a Platform. Config is required; everything else is
// optional.
type Options struct {
	Config *config.Config
	Logger *logging.Logger

	// Broker carries mqtt links and state republishing.
	Broker Broker

	// Store mirrors hub snapshots.
	Store hub.SnapshotStore

	// Telemetry receives bridge and hub counters every
	// config.InfluxDB.TelemetryInterval.
	Telemetry TelemetryWriter

	// Metrics records command outcomes.
	Metrics *metrics.Metrics

	// Audit keeps a row per executed command.
	Audit audit.Repository
}

// device is one assembled pipeline.
type device struct {
	cfg      config.DeviceConfig
	kind     protocol.Kind
	category adapter.Category
	link     protocol.Link
	backend  protocol.Backend
	bridge   *bridge.Bridge
	adapter  adapter.Adapter
	sim      *simulator.Device
}

// Platform owns every device pipeline and the hub they report to.
//
// Thread Safety: the device set is fixed after New, so lookups need no lock.
// Start and Stop are serialised by runMu.
type Platform struct {
	cfg       *config.Config
	log       *logging.Logger
	broker    Broker
	telemetry TelemetryWriter
	metrics   *metrics.Metrics
	audit     audit.Repository

	hub     *hub.Hub
	devices map[string]*device
	order   []string

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopFns []func()

	republisher *republisher
}

// New builds every configured device and registers it with a new hub.
//
// Parameters:
//   - opts: Configuration and optional infrastructure
//
// Returns:
//   - *Platform: Ready to Initialize
//   - error: If any device cannot be built or registered; nothing is left
//     running in that case
func New(opts Options) (*Platform, error) {
	if opts.Config == nil {
		return nil, errors.New("platform: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	p := &Platform{
		cfg:       opts.Config,
		log:       opts.Logger.Component("platform"),
		broker:    opts.Broker,
		telemetry: opts.Telemetry,
		metrics:   opts.Metrics,
		audit:     opts.Audit,
		devices:   make(map[string]*device, len(opts.Config.Devices)),
		hub: hub.New(hub.Options{
			Store:  opts.Store,
			Logger: opts.Logger.Component("hub"),
		}),
	}

	for _, dc := range opts.Config.Devices {
		d, err := p.build(dc, opts.Logger)
		if err != nil {
			p.closeDevices()
			return nil, fmt.Errorf("building device %s: %w", dc.ID, err)
		}
		if err := p.hub.RegisterDevice(d.adapter, dc.ID, d.category); err != nil {
			_ = d.bridge.Close()
			p.closeDevices()
			return nil, err
		}
		p.devices[dc.ID] = d
		p.order = append(p.order, dc.ID)
	}

	p.log.Info("devices assembled", "count", len(p.devices))
	return p, nil
}

func (p *Platform) build(dc config.DeviceConfig, log *logging.Logger) (*device, error) {
	kind, err := protocol.ParseKind(dc.Backend)
	if err != nil {
		return nil, err
	}
	category := adapter.Category(dc.Category)
	if !category.Valid() {
		return nil, fmt.Errorf("%w: category %q", adapter.ErrInvalidConfig, dc.Category)
	}

	d := &device{cfg: dc, kind: kind, category: category}
	devLog := log.With("device_id", dc.ID, "backend", kind)

	if err := p.buildLink(d); err != nil {
		return nil, err
	}

	d.backend, err = protocol.New(kind, d.link, protocol.Options{
		AckTimeout: p.cfg.Bridge.AckTimeout,
		Logger:     devLog.Component("protocol"),
	})
	if err != nil {
		_ = d.link.Close()
		return nil, err
	}

	d.bridge, err = bridge.New(d.backend, bridge.Options{
		MaxRetries:     p.cfg.Bridge.MaxRetries,
		RetryBackoff:   p.cfg.Bridge.RetryBackoff,
		MaxBackoff:     p.cfg.Bridge.MaxBackoff,
		ReceiveTimeout: p.cfg.Bridge.ReceiveTimeout,
		Logger:         devLog.Component("bridge"),
	})
	if err != nil {
		_ = d.backend.Close()
		return nil, err
	}

	adapterOpts := adapter.Options{
		CommandTimeout:   p.cfg.Adapter.CommandTimeout,
		PollInterval:     p.cfg.Adapter.PollInterval,
		MaxEventsPerPoll: p.cfg.Adapter.MaxEventsPerPoll,
		Logger:           devLog.Component("adapter"),
	}
	switch category {
	case adapter.CategoryLight:
		d.adapter, err = adapter.NewLight(dc.ID, d.bridge, adapterOpts)
	case adapter.CategoryThermostat:
		var rng adapter.TemperatureRange
		if dc.Range != nil {
			rng = adapter.TemperatureRange{Min: dc.Range.Min, Max: dc.Range.Max}
		}
		d.adapter, err = adapter.NewThermostat(dc.ID, d.bridge, rng, adapterOpts)
	}
	if err != nil {
		_ = d.bridge.Close()
		return nil, err
	}
	return d, nil
}

func (p *Platform) buildLink(d *device) error {
	switch d.cfg.Link.Type {
	case config.LinkSimulated, "":
		sim, err := simulator.NewDevice(d.cfg.ID, d.kind)
		if err != nil {
			return err
		}
		d.sim, d.link = sim, sim.Link()
		return nil

	case config.LinkMQTT:
		if p.broker == nil {
			return ErrMQTTRequired
		}
		topic := d.cfg.Link.Topic
		if topic == "" {
			topic = p.broker.Topics().Device(string(d.kind), d.cfg.ID)
		}
		link, err := transport.NewMQTTLink(p.broker, topic, p.broker.QoS())
		if err != nil {
			return err
		}
		d.link = link
		return nil

	default:
		return fmt.Errorf("unknown link type %q", d.cfg.Link.Type)
	}
}

// Initialize connects every bridge. A device whose bridge fails stays
// registered; its commands fail with bridge.ErrNotInitialized. The returned
// error joins every per-device failure.
func (p *Platform) Initialize(ctx context.Context) error {
	var errs []error
	for _, id := range p.order {
		d := p.devices[id]
		if err := d.bridge.Initialize(ctx); err != nil {
			p.log.Warn("bridge initialization failed", "device_id", id, "backend", d.kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		p.log.Debug("bridge initialized", "device_id", id)
	}
	return errors.Join(errs...)
}

// Start launches the receive pollers, MQTT state republishing and the
// telemetry loop. Calling Start twice is a no-op.
func (p *Platform) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)

	for _, id := range p.order {
		if err := p.devices[id].adapter.Start(runCtx); err != nil {
			cancel()
			p.stopAdapters()
			return fmt.Errorf("starting poller for %s: %w", id, err)
		}
	}

	if p.broker != nil {
		p.republisher = newRepublisher(p.broker, p.hub, p.log.Component("republish"))
		p.stopFns = append(p.stopFns, p.hub.AddListener(p.republisher.enqueue))
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.republisher.run(runCtx)
		}()
	}

	if p.telemetry != nil {
		interval := p.cfg.InfluxDB.TelemetryInterval
		if interval <= 0 {
			interval = DefaultTelemetryInterval
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.telemetryLoop(runCtx, interval)
		}()
	}

	p.cancel = cancel
	p.running = true
	p.log.Info("platform started", "devices", len(p.devices))
	return nil
}

// Stop halts background work and closes every bridge. The platform cannot
// be restarted afterwards.
func (p *Platform) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.stopAdapters()
	for _, fn := range p.stopFns {
		fn()
	}
	p.stopFns = nil
	p.wg.Wait()

	p.hub.Close()
	p.closeDevices()
	p.running = false
	p.log.Info("platform stopped")
}

func (p *Platform) stopAdapters() {
	for _, d := range p.devices {
		d.adapter.Stop()
	}
}

func (p *Platform) closeDevices() {
	for id, d := range p.devices {
		if err := d.bridge.Close(); err != nil {
			p.log.Warn("closing bridge", "device_id", id, "error", err)
		}
	}
}

// Hub returns the notification hub.
func (p *Platform) Hub() *hub.Hub { return p.hub }

// Simulator returns the simulated device behind id, if its link is
// simulated.
func (p *Platform) Simulator(id string) (*simulator.Device, bool) {
	d, ok := p.devices[id]
	if !ok || d.sim == nil {
		return nil, false
	}
	return d.sim, true
}

// DeviceInfo describes one configured device for callers.
type DeviceInfo struct {
	ID           string                    `json:"id"`
	Name         string                    `json:"name,omitempty"`
	Category     adapter.Category          `json:"category"`
	Backend      protocol.Kind             `json:"backend"`
	Link         string                    `json:"link"`
	Operations   []protocol.Operation      `json:"operations"`
	Range        *adapter.TemperatureRange `json:"range,omitempty"`
	Binding      bridge.Binding            `json:"binding"`
	RegisteredAt time.Time                 `json:"registered_at"`
}

// DeviceStats combines the counters of one device's pipeline.
type DeviceStats struct {
	ID      string         `json:"id"`
	Bridge  bridge.Stats   `json:"bridge"`
	Adapter adapter.Stats  `json:"adapter"`
	Backend protocol.Stats `json:"backend"`
}

// Device returns information about one device.
func (p *Platform) Device(id string) (DeviceInfo, error) {
	d, ok := p.devices[id]
	if !ok {
		return DeviceInfo{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return p.info(d), nil
}

// Devices returns every device in configuration order.
func (p *Platform) Devices() []DeviceInfo {
	out := make([]DeviceInfo, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.info(p.devices[id]))
	}
	return out
}

// Stats returns per-device counters in configuration order.
func (p *Platform) Stats() []DeviceStats {
	out := make([]DeviceStats, 0, len(p.order))
	for _, id := range p.order {
		d := p.devices[id]
		bs := d.bridge.Stats()
		out = append(out, DeviceStats{
			ID:      id,
			Bridge:  bs,
			Adapter: d.adapter.Stats(),
			Backend: bs.Backend,
		})
	}
	return out
}

func (p *Platform) info(d *device) DeviceInfo {
	info := DeviceInfo{
		ID:         d.cfg.ID,
		Name:       d.cfg.Name,
		Category:   d.category,
		Backend:    d.kind,
		Link:       d.cfg.Link.Type,
		Operations: supportedOperations(d.adapter),
		Binding:    d.bridge.Binding(),
	}
	if info.Link == "" {
		info.Link = config.LinkSimulated
	}
	if t, ok := d.adapter.(*adapter.Thermostat); ok {
		rng := t.Range()
		info.Range = &rng
	}
	if hd, err := p.hub.Device(d.cfg.ID); err == nil {
		info.RegisteredAt = hd.RegisteredAt
	}
	return info
}

func supportedOperations(a adapter.Adapter) []protocol.Operation {
	var ops []protocol.Operation
	if _, ok := a.(adapter.Switch); ok {
		ops = append(ops, protocol.OpTurnOn, protocol.OpTurnOff)
	}
	if _, ok := a.(adapter.Dimmer); ok {
		ops = append(ops, protocol.OpSetBrightness)
	}
	if _, ok := a.(adapter.Heater); ok {
		ops = append(ops, protocol.OpSetTemperature)
	}
	return slices.Clip(ops)
}
