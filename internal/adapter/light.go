package adapter

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// Light adapts a dimmable or switch-only light.
type Light struct {
	*base
}

// NewLight creates a light adapter bound to bridge for its whole life.
func NewLight(id string, bridge Bridge, opts Options) (*Light, error) {
	b, err := newBase(id, CategoryLight, bridge, opts, protocol.AttrPower, protocol.AttrBrightness)
	if err != nil {
		return nil, err
	}
	return &Light{base: b}, nil
}

// TurnOn switches the light on and raises power=ON once acknowledged.
func (l *Light) TurnOn(ctx context.Context) error {
	return l.execute(ctx, protocol.TurnOn(), StatusEvent{
		Attribute: protocol.AttrPower,
		Value:     protocol.String(protocol.PowerOn),
	})
}

// TurnOff switches the light off and raises power=OFF once acknowledged.
func (l *Light) TurnOff(ctx context.Context) error {
	return l.execute(ctx, protocol.TurnOff(), StatusEvent{
		Attribute: protocol.AttrPower,
		Value:     protocol.String(protocol.PowerOff),
	})
}

// SetBrightness sets the level in percent (0-100) and raises brightness=N
// once acknowledged.
func (l *Light) SetBrightness(ctx context.Context, percent int) error {
	if percent < protocol.MinBrightness || percent > protocol.MaxBrightness {
		return l.reject(fmt.Errorf("%w: brightness %d%% (allowed %d-%d)",
			ErrOutOfRange, percent, protocol.MinBrightness, protocol.MaxBrightness))
	}
	return l.execute(ctx, protocol.SetBrightness(percent), StatusEvent{
		Attribute: protocol.AttrBrightness,
		Value:     protocol.Int(int64(percent)),
	})
}

var (
	_ Adapter = (*Light)(nil)
	_ Switch  = (*Light)(nil)
	_ Dimmer  = (*Light)(nil)
)
