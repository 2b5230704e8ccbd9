package adapter

import (
	"context"
	"fmt"
	"math"

	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// Default setpoint range in °C.
const (
	DefaultMinTemperature = 5.0
	DefaultMaxTemperature = 30.0
)

// TemperatureRange bounds the setpoints a thermostat accepts.
type TemperatureRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultTemperatureRange returns the range used when none is configured.
func DefaultTemperatureRange() TemperatureRange {
	return TemperatureRange{Min: DefaultMinTemperature, Max: DefaultMaxTemperature}
}

// Contains reports whether v is a finite value within the range.
func (r TemperatureRange) Contains(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= r.Min && v <= r.Max
}

// Thermostat adapts a heating thermostat.
type Thermostat struct {
	*base
	rng TemperatureRange
}

// NewThermostat creates a thermostat adapter. A zero range takes the default.
func NewThermostat(id string, bridge Bridge, rng TemperatureRange, opts Options) (*Thermostat, error) {
	if rng == (TemperatureRange{}) {
		rng = DefaultTemperatureRange()
	}
	if math.IsNaN(rng.Min) || math.IsNaN(rng.Max) || rng.Min >= rng.Max {
		return nil, fmt.Errorf("%w: temperature range %.1f-%.1f for %s", ErrInvalidConfig, rng.Min, rng.Max, id)
	}

	b, err := newBase(id, CategoryThermostat, bridge, opts, protocol.AttrTemperature, protocol.AttrCurrentTemperature)
	if err != nil {
		return nil, err
	}
	return &Thermostat{base: b, rng: rng}, nil
}

// Range returns the accepted setpoint range.
func (t *Thermostat) Range() TemperatureRange { return t.rng }

// SetTemperature validates celsius against the configured range, sends it
// and raises temperature=celsius once acknowledged.
func (t *Thermostat) SetTemperature(ctx context.Context, celsius float64) error {
	if !t.rng.Contains(celsius) {
		return t.reject(fmt.Errorf("%w: temperature %v°C (allowed %.1f-%.1f)",
			ErrOutOfRange, celsius, t.rng.Min, t.rng.Max))
	}
	return t.execute(ctx, protocol.SetTemperature(celsius), StatusEvent{
		Attribute: protocol.AttrTemperature,
		Value:     protocol.Float(celsius),
	})
}

var (
	_ Adapter = (*Thermostat)(nil)
	_ Heater  = (*Thermostat)(nil)
)
