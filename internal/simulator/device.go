package simulator

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

var (
	// ErrOffline is returned by Link.Open and Link.Write while the device is
	// unreachable.
	ErrOffline = errors.New("simulator: device offline")

	// ErrLinkClosed is returned when a closed link is used.
	ErrLinkClosed = errors.New("simulator: link closed")

	// ErrRejectUnsupported is returned by RejectCommands for wire formats
	// that cannot express a refusal.
	ErrRejectUnsupported = errors.New("simulator: backend cannot reject commands")
)

// errorEncoder is implemented by codecs whose devices can refuse a command.
type errorEncoder interface {
	EncodeError(description string) ([]byte, error)
}

const frameBuffer = 64

// Device is a simulated device of one backend kind.
//
// Thread Safety: all methods are safe for concurrent use.
type Device struct {
	id    string
	kind  protocol.Kind
	codec protocol.Codec
	link  *Link

	mu       sync.Mutex
	state    map[string]protocol.Value
	commands []protocol.Command
	offline  bool
	dropAcks int
	rejects  int
	latency  time.Duration
	garbage  int
}

// NewDevice creates a device that answers in kind's wire format.
func NewDevice(id string, kind protocol.Kind) (*Device, error) {
	codec, err := protocol.CodecFor(kind)
	if err != nil {
		return nil, err
	}
	d := &Device{
		id:    id,
		kind:  kind,
		codec: codec,
		state: make(map[string]protocol.Value),
	}
	d.link = &Link{device: d, frames: make(chan []byte, frameBuffer)}
	return d, nil
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// Kind returns the wire format the device speaks.
func (d *Device) Kind() protocol.Kind { return d.kind }

// Link returns the controller side of the device's connection.
func (d *Device) Link() *Link { return d.link }

// SetOffline makes the device unreachable (or reachable again).
func (d *Device) SetOffline(offline bool) {
	d.mu.Lock()
	d.offline = offline
	d.mu.Unlock()
}

// DropAcks makes the device silently ignore the next n commands.
func (d *Device) DropAcks(n int) {
	d.mu.Lock()
	d.dropAcks = n
	d.mu.Unlock()
}

// RejectCommands makes the device refuse the next n commands with an error
// reply instead of an ack.
func (d *Device) RejectCommands(n int) error {
	if _, ok := d.codec.(errorEncoder); !ok {
		return fmt.Errorf("%w: %s", ErrRejectUnsupported, d.kind)
	}
	d.mu.Lock()
	d.rejects = n
	d.mu.Unlock()
	return nil
}

// SetLatency delays every ack and report by latency.
func (d *Device) SetLatency(latency time.Duration) {
	d.mu.Lock()
	d.latency = latency
	d.mu.Unlock()
}

// State returns a copy of the device's current attributes.
func (d *Device) State() map[string]protocol.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.state)
}

// Value returns one attribute.
func (d *Device) Value(attribute string) (protocol.Value, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.state[attribute]
	return v, ok
}

// Commands returns every command the device has applied, oldest first.
func (d *Device) Commands() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Command, len(d.commands))
	copy(out, d.commands)
	return out
}

// GarbageFrames returns how many inbound frames could not be decoded.
func (d *Device) GarbageFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.garbage
}

// Press simulates the physical power button: the power attribute toggles and
// the device reports the new value.
func (d *Device) Press() error {
	d.mu.Lock()
	next := protocol.String(protocol.PowerOn)
	if v, ok := d.state[protocol.AttrPower]; ok && v.Equal(protocol.String(protocol.PowerOn)) {
		next = protocol.String(protocol.PowerOff)
	}
	d.mu.Unlock()
	return d.Report(protocol.AttrPower, next)
}

// Report changes attribute locally and sends an unsolicited report, as a
// device does after a physical interaction or a sensor reading.
func (d *Device) Report(attribute string, value protocol.Value) error {
	frame, err := d.codec.EncodeReport(attribute, value)
	if err != nil {
		return fmt.Errorf("simulator: encoding %s report: %w", attribute, err)
	}

	d.mu.Lock()
	d.state[attribute] = value
	latency := d.latency
	offline := d.offline
	d.mu.Unlock()

	if offline {
		return ErrOffline
	}
	d.link.deliver(frame, latency)
	return nil
}

// handle processes one command frame written by the controller.
func (d *Device) handle(frame []byte) {
	cmd, err := d.codec.DecodeCommand(frame)
	if err != nil {
		d.mu.Lock()
		d.garbage++
		d.mu.Unlock()
		return
	}

	d.mu.Lock()
	if d.dropAcks > 0 {
		d.dropAcks--
		d.mu.Unlock()
		return
	}
	if d.rejects > 0 {
		d.rejects--
		latency := d.latency
		d.mu.Unlock()
		if enc, ok := d.codec.(errorEncoder); ok {
			if reply, err := enc.EncodeError("device refused " + string(cmd.Operation())); err == nil {
				d.link.deliver(reply, latency)
			}
		}
		return
	}
	d.apply(cmd)
	latency := d.latency
	d.mu.Unlock()

	ack, err := d.codec.EncodeAck(cmd)
	if err != nil {
		return
	}
	d.link.deliver(ack, latency)
}

// apply updates state for cmd. Caller holds mu.
func (d *Device) apply(cmd protocol.Command) {
	d.commands = append(d.commands, cmd)

	switch cmd.Operation() {
	case protocol.OpTurnOn:
		d.state[protocol.AttrPower] = protocol.String(protocol.PowerOn)
	case protocol.OpTurnOff:
		d.state[protocol.AttrPower] = protocol.String(protocol.PowerOff)
	case protocol.OpSetBrightness:
		d.state[protocol.AttrBrightness] = cmd.Arg(0)
	case protocol.OpSetTemperature:
		d.state[protocol.AttrTemperature] = cmd.Arg(0)
	}
}
