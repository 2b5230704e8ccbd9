package hub

import (
	"maps"
	"time"

	"github.com/nerrad567/gray-logic-integration/internal/adapter"
	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// Device is a registered device. The category and adapter binding never
// change after registration.
type Device struct {
	ID           string           `json:"id"`
	Category     adapter.Category `json:"category"`
	RegisteredAt time.Time        `json:"registered_at"`
}

// AttributeState is the last known value of one attribute.
type AttributeState struct {
	Value     protocol.Value `json:"value"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Snapshot is the last known state of a device, built only from status
// events. It is never read back into the device.
type Snapshot struct {
	DeviceID   string                    `json:"device_id"`
	Category   adapter.Category          `json:"category"`
	Attributes map[string]AttributeState `json:"attributes"`
	UpdatedAt  time.Time                 `json:"updated_at,omitzero"`

	// Version increases by one with every applied update.
	Version uint64 `json:"version"`
}

// DeepCopy returns an independent copy of the snapshot.
func (s *Snapshot) DeepCopy() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Attributes = maps.Clone(s.Attributes)
	if cp.Attributes == nil {
		cp.Attributes = make(map[string]AttributeState)
	}
	return &cp
}

// Value returns the current value of attribute.
func (s *Snapshot) Value(attribute string) (protocol.Value, bool) {
	a, ok := s.Attributes[attribute]
	return a.Value, ok
}

// Change describes an applied update, delivered to listeners.
type Change struct {
	DeviceID  string           `json:"device_id"`
	Category  adapter.Category `json:"category"`
	Attribute string           `json:"attribute"`
	Value     protocol.Value   `json:"value"`
	Previous  *protocol.Value  `json:"previous,omitempty"`
	At        time.Time        `json:"at"`
	Version   uint64           `json:"version"`
}

// Stats holds hub counters.
type Stats struct {
	Devices        int                      `json:"devices"`
	ByCategory     map[adapter.Category]int `json:"by_category"`
	Updates        uint64                   `json:"updates"`
	Dropped        uint64                   `json:"dropped"`
	StoreErrors    uint64                   `json:"store_errors"`
	ListenerPanics uint64                   `json:"listener_panics"`
}
