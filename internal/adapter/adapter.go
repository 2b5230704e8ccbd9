// Package adapter implements the per-category device adapters.
//
// An adapter turns domain operations (turn a light on, set a thermostat) into
// protocol-neutral commands sent through exactly one bridge, and raises a
// status event once the device has acknowledged. It also polls its bridge for
// unsolicited reports, so a light switched by hand raises the same events as
// one switched through the API.
//
// Concurrency policy: each adapter has a single command slot. A caller that
// finds the slot taken waits until its own deadline (or CommandTimeout when
// it has none) and then fails with ErrBusy. A context that has already ended
// fails with its own error and is never reported as busy. Commands therefore reach a device
// one at a time, in arrival order as far as the Go scheduler allows.
package adapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// Category is a device category. Each category has its own adapter type.
type Category string

// Supported categories.
const (
	CategoryLight      Category = "light"
	CategoryThermostat Category = "thermostat"
)

// Valid reports whether c is a supported category.
func (c Category) Valid() bool {
	return c == CategoryLight || c == CategoryThermostat
}

// StatusFunc is called when a device's state changes.
type StatusFunc func(deviceID, attribute string, value protocol.Value, at time.Time)

// StatusEvent describes one attribute change.
type StatusEvent struct {
	DeviceID  string         `json:"device_id"`
	Attribute string         `json:"attribute"`
	Value     protocol.Value `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
}

// Bridge is the subset of the communication bridge an adapter uses.
type Bridge interface {
	Send(ctx context.Context, cmd protocol.Command) (protocol.Ack, error)
	Receive(ctx context.Context) (*protocol.RawEvent, error)
}

// Adapter is implemented by every category adapter.
type Adapter interface {
	ID() string
	Category() Category

	// Subscribe registers fn for status events and returns a function that
	// removes it. The returned function is idempotent.
	Subscribe(fn StatusFunc) (unsubscribe func())
	SubscriberCount() int

	// Start launches the receive poller. Stop halts it.
	Start(ctx context.Context) error
	Stop()

	Stats() Stats
}

// Switch is implemented by adapters that can be turned on and off.
type Switch interface {
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Dimmer is implemented by adapters with a brightness level.
type Dimmer interface {
	SetBrightness(ctx context.Context, percent int) error
}

// Heater is implemented by adapters with a temperature setpoint.
type Heater interface {
	SetTemperature(ctx context.Context, celsius float64) error
}

// Default adapter timing.
const (
	DefaultCommandTimeout   = 5 * time.Second
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultMaxEventsPerPoll = 32
)

// Options configures the behaviour shared by all adapters.
type Options struct {
	CommandTimeout   time.Duration
	PollInterval     time.Duration
	MaxEventsPerPoll int
	Logger           Logger
}

func (o *Options) applyDefaults() {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.MaxEventsPerPoll <= 0 {
		o.MaxEventsPerPoll = DefaultMaxEventsPerPoll
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
}

// Stats holds adapter counters.
type Stats struct {
	Commands         uint64 `json:"commands"`
	CommandFailures  uint64 `json:"command_failures"`
	Rejected         uint64 `json:"rejected"`
	Busy             uint64 `json:"busy"`
	Events           uint64 `json:"events"`
	ReportsReceived  uint64 `json:"reports_received"`
	SubscriberPanics uint64 `json:"subscriber_panics"`
}

type subscription struct {
	id string
	fn StatusFunc
}

// base carries the plumbing shared by every category: command slot,
// subscriber list and receive poller.
type base struct {
	id       string
	category Category
	bridge   Bridge
	opts     Options
	logger   Logger

	// accepts lists the report attributes this category surfaces.
	accepts map[string]bool

	slot chan struct{}

	subMu sync.RWMutex
	subs  []subscription

	pollMu  sync.Mutex
	cancel  context.CancelFunc
	pollWG  sync.WaitGroup
	running bool

	commands         atomic.Uint64
	commandFailures  atomic.Uint64
	rejected         atomic.Uint64
	busy             atomic.Uint64
	events           atomic.Uint64
	reportsReceived  atomic.Uint64
	subscriberPanics atomic.Uint64
}

func newBase(id string, category Category, bridge Bridge, opts Options, accepts ...string) (*base, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidConfig)
	}
	if bridge == nil {
		return nil, fmt.Errorf("%w: bridge is required for %s", ErrInvalidConfig, id)
	}
	opts.applyDefaults()

	acc := make(map[string]bool, len(accepts))
	for _, a := range accepts {
		acc[a] = true
	}

	return &base{
		id:       id,
		category: category,
		bridge:   bridge,
		opts:     opts,
		logger:   opts.Logger,
		accepts:  acc,
		slot:     make(chan struct{}, 1),
	}, nil
}

// ID returns the device identifier.
func (b *base) ID() string { return b.id }

// Category returns the device category.
func (b *base) Category() Category { return b.category }

// Subscribe adds fn to the subscriber list.
func (b *base) Subscribe(fn StatusFunc) func() {
	if fn == nil {
		return func() {}
	}

	id := uuid.NewString()
	b.subMu.Lock()
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *base) SubscriberCount() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subs)
}

// Stats returns a snapshot of the adapter counters.
func (b *base) Stats() Stats {
	return Stats{
		Commands:         b.commands.Load(),
		CommandFailures:  b.commandFailures.Load(),
		Rejected:         b.rejected.Load(),
		Busy:             b.busy.Load(),
		Events:           b.events.Load(),
		ReportsReceived:  b.reportsReceived.Load(),
		SubscriberPanics: b.subscriberPanics.Load(),
	}
}

func (b *base) unsubscribe(id string) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// execute runs cmd through the bridge while holding the command slot and
// raises events once the device has acknowledged. A failed send raises
// nothing.
func (b *base) execute(ctx context.Context, cmd protocol.Command, events ...StatusEvent) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.CommandTimeout)
		defer cancel()
	}

	// An ended context fails before the slot is tried.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", b.id, err)
	}

	select {
	case b.slot <- struct{}{}:
	default:
		select {
		case b.slot <- struct{}{}:
		case <-ctx.Done():
			b.busy.Add(1)
			return fmt.Errorf("%w: %s: %w", ErrBusy, b.id, ctx.Err())
		}
	}
	defer func() { <-b.slot }()

	b.commands.Add(1)
	ack, err := b.bridge.Send(ctx, cmd)
	if err != nil {
		b.commandFailures.Add(1)
		b.logger.Warn("command failed", "device_id", b.id, "operation", cmd.Operation(), "error", err)
		return err
	}

	at := ack.At
	if at.IsZero() {
		at = time.Now()
	}
	for _, ev := range events {
		ev.DeviceID = b.id
		ev.Timestamp = at
		b.notify(ev)
	}
	return nil
}

// notify calls every subscriber in subscription order. A panicking subscriber
// is recovered so the rest still run.
func (b *base) notify(ev StatusEvent) {
	b.subMu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.subMu.RUnlock()

	b.events.Add(1)
	for _, s := range subs {
		b.call(s, ev)
	}
}

func (b *base) call(s subscription, ev StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.subscriberPanics.Add(1)
			b.logger.Error("status subscriber panicked",
				"device_id", ev.DeviceID,
				"attribute", ev.Attribute,
				"panic", r,
			)
		}
	}()
	s.fn(ev.DeviceID, ev.Attribute, ev.Value, ev.Timestamp)
}

func (b *base) reject(err error) error {
	b.rejected.Add(1)
	return err
}
