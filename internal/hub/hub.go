// Package hub implements the notification hub: the central registry of
// devices and their last known state.
//
// The hub subscribes to every registered adapter and applies status events
// synchronously as they arrive. It never polls devices and never writes
// state back to them. Snapshots may be mirrored to a SnapshotStore (SQLite or
// Redis) for other processes to read; the mirror is write-only and never
// seeds the hub.
package hub

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-integration/internal/adapter"
	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// Logger defines the logging interface used by the hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SnapshotStore mirrors snapshots outside the process.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Delete(ctx context.Context, deviceID string) error
}

// DefaultStoreTimeout bounds each store write.
const DefaultStoreTimeout = 2 * time.Second

// Options configures a Hub.
type Options struct {
	// Store is optional. When set, every applied update is mirrored to it.
	Store        SnapshotStore
	StoreTimeout time.Duration
	Logger       Logger
}

type entry struct {
	device      Device
	adapter     adapter.Adapter
	unsubscribe func()
	snapshot    *Snapshot

	// mirrorMu orders store writes for this device. mirrored is the last
	// version saved; removed is set once the device is unregistered.
	mirrorMu sync.Mutex
	mirrored uint64
	removed  bool
}

type listener struct {
	id string
	fn func(Change)
}

// Hub is the notification hub.
//
// All public methods are thread-safe. Snapshots are replaced, never mutated,
// so a snapshot pointer read under the lock stays consistent after release.
type Hub struct {
	mu      sync.RWMutex
	entries map[string]*entry

	listenerMu sync.RWMutex
	listeners  []listener

	store        SnapshotStore
	storeTimeout time.Duration

	loggerMu sync.RWMutex
	logger   Logger

	updates        atomic.Uint64
	dropped        atomic.Uint64
	storeErrors    atomic.Uint64
	listenerPanics atomic.Uint64
}

// New creates an empty hub.
func New(opts Options) *Hub {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Hub{
		entries:      make(map[string]*entry),
		store:        opts.Store,
		storeTimeout: opts.StoreTimeout,
		logger:       opts.Logger,
	}
}

// SetLogger sets the logger for the hub. It is safe to call while updates
// are being applied.
func (h *Hub) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *Hub) log() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

// RegisterDevice adds a device and subscribes to its adapter.
//
// The adapter must report the same id and category. Validation and the
// duplicate check happen before any state changes.
func (h *Hub) RegisterDevice(a adapter.Adapter, id string, category adapter.Category) error {
	if err := validateRegistration(a, id, category); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.entries[id]; exists {
		return &RegistrationError{ID: id, Err: ErrDuplicateID}
	}

	now := time.Now().UTC()
	e := &entry{
		device:  Device{ID: id, Category: category, RegisteredAt: now},
		adapter: a,
		snapshot: &Snapshot{
			DeviceID:   id,
			Category:   category,
			Attributes: make(map[string]AttributeState),
		},
	}
	e.unsubscribe = a.Subscribe(func(deviceID, attribute string, value protocol.Value, at time.Time) {
		h.Update(deviceID, attribute, value, at)
	})
	h.entries[id] = e

	h.log().Info("device registered", "id", id, "category", category)
	return nil
}

// UnregisterDevice removes a device and cancels its subscription. It reports
// whether the device was registered; unregistering an unknown ID is a no-op.
func (h *Hub) UnregisterDevice(id string) bool {
	h.mu.Lock()
	e, ok := h.entries[id]
	if ok {
		delete(h.entries, id)
	}
	h.mu.Unlock()

	if !ok {
		return false
	}

	e.unsubscribe()

	// Waits for an in-flight save so it cannot re-create the mirrored state.
	e.mirrorMu.Lock()
	e.removed = true
	if h.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
		if err := h.store.Delete(ctx, id); err != nil {
			h.storeErrors.Add(1)
			h.log().Warn("deleting mirrored snapshot failed", "id", id, "error", err)
		}
		cancel()
	}
	e.mirrorMu.Unlock()

	h.log().Info("device unregistered", "id", id)
	return true
}

// Update records a new attribute value. It never fails: events for devices
// that are not registered are dropped and counted.
func (h *Hub) Update(deviceID, attribute string, value protocol.Value, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	h.mu.Lock()
	e, ok := h.entries[deviceID]
	if !ok {
		h.mu.Unlock()
		h.dropped.Add(1)
		h.log().Debug("dropping event for unregistered device", "id", deviceID, "attribute", attribute)
		return
	}

	var previous *protocol.Value
	if prev, had := e.snapshot.Attributes[attribute]; had {
		previous = &prev.Value
	}

	updated := e.snapshot.DeepCopy()
	updated.Attributes[attribute] = AttributeState{Value: value, UpdatedAt: at}
	updated.UpdatedAt = at
	updated.Version++
	e.snapshot = updated
	category := e.device.Category
	h.mu.Unlock()

	h.updates.Add(1)
	h.log().Debug("device state updated", "id", deviceID, "attribute", attribute, "value", value.String())

	h.mirror(e, updated)
	h.notify(Change{
		DeviceID:  deviceID,
		Category:  category,
		Attribute: attribute,
		Value:     value,
		Previous:  previous,
		At:        at,
		Version:   updated.Version,
	})
}

// Device returns a registered device.
func (h *Hub) Device(id string) (Device, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.entries[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return e.device, nil
}

// Adapter returns the adapter bound to a registered device.
func (h *Hub) Adapter(id string) (adapter.Adapter, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.entries[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return e.adapter, nil
}

// Devices returns all registered devices ordered by ID.
func (h *Hub) Devices() []Device {
	h.mu.RLock()
	devices := make([]Device, 0, len(h.entries))
	for _, e := range h.entries {
		devices = append(devices, e.device)
	}
	h.mu.RUnlock()

	slices.SortFunc(devices, func(a, b Device) int { return strings.Compare(a.ID, b.ID) })
	return devices
}

// Snapshot returns a copy of a device's last known state.
func (h *Hub) Snapshot(id string) (*Snapshot, error) {
	h.mu.RLock()
	e, ok := h.entries[id]
	var snap *Snapshot
	if ok {
		snap = e.snapshot
	}
	h.mu.RUnlock()

	if !ok {
		return nil, ErrDeviceNotFound
	}
	return snap.DeepCopy(), nil
}

// Snapshots returns copies of every snapshot ordered by device ID.
func (h *Hub) Snapshots() []*Snapshot {
	h.mu.RLock()
	snaps := make([]*Snapshot, 0, len(h.entries))
	for _, e := range h.entries {
		snaps = append(snaps, e.snapshot)
	}
	h.mu.RUnlock()

	out := make([]*Snapshot, len(snaps))
	for i, s := range snaps {
		out[i] = s.DeepCopy()
	}
	slices.SortFunc(out, func(a, b *Snapshot) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return out
}

// DeviceCount returns the number of registered devices.
func (h *Hub) DeviceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Stats returns current hub statistics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	stats := Stats{
		Devices:    len(h.entries),
		ByCategory: make(map[adapter.Category]int),
	}
	for _, e := range h.entries {
		stats.ByCategory[e.device.Category]++
	}
	h.mu.RUnlock()

	stats.Updates = h.updates.Load()
	stats.Dropped = h.dropped.Load()
	stats.StoreErrors = h.storeErrors.Load()
	stats.ListenerPanics = h.listenerPanics.Load()
	return stats
}

// AddListener registers fn to be called after every applied update and
// returns a function that removes it.
func (h *Hub) AddListener(fn func(Change)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	id := uuid.NewString()

	h.listenerMu.Lock()
	h.listeners = append(h.listeners, listener{id: id, fn: fn})
	h.listenerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.listenerMu.Lock()
			defer h.listenerMu.Unlock()
			h.listeners = slices.DeleteFunc(h.listeners, func(l listener) bool { return l.id == id })
		})
	}
}

// Close unregisters every device.
func (h *Hub) Close() {
	for _, d := range h.Devices() {
		h.UnregisterDevice(d.ID)
	}
}

// mirror saves snap unless a newer version was already saved or the device
// has been unregistered.
func (h *Hub) mirror(e *entry, snap *Snapshot) {
	if h.store == nil {
		return
	}

	e.mirrorMu.Lock()
	defer e.mirrorMu.Unlock()
	if e.removed || snap.Version <= e.mirrored {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.storeTimeout)
	defer cancel()

	if err := h.store.Save(ctx, snap); err != nil {
		h.storeErrors.Add(1)
		h.log().Warn("mirroring snapshot failed", "id", snap.DeviceID, "error", err)
		return
	}
	e.mirrored = snap.Version
}

func (h *Hub) notify(c Change) {
	h.listenerMu.RLock()
	ls := slices.Clone(h.listeners)
	h.listenerMu.RUnlock()

	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.listenerPanics.Add(1)
					h.log().Error("hub listener panicked", "id", c.DeviceID, "panic", r)
				}
			}()
			l.fn(c)
		}()
	}
}
