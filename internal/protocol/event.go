package protocol

import (
	"slices"
	"time"
)

// EventKind classifies a decoded inbound frame.
type EventKind string

// Inbound event kinds.
const (
	// EventAck confirms that the device accepted a command.
	EventAck EventKind = "ack"

	// EventReport carries an attribute value the device volunteered, for
	// example after a physical button press.
	EventReport EventKind = "report"
)

// RawEvent is a decoded frame received from a device.
//
// For EventAck, Operation and Args describe the acknowledged command.
// For EventReport, Attribute and Value describe the state change.
// A non-empty Reason on an ack means the device rejected the command.
type RawEvent struct {
	Kind       EventKind
	Operation  Operation
	Args       []Value
	Attribute  string
	Value      Value
	Reason     string
	Payload    []byte
	ReceivedAt time.Time
}

// Ack is a device's acknowledgement of a command.
type Ack struct {
	Operation Operation
	Args      []Value
	At        time.Time
}

// Command rebuilds the acknowledged command.
func (a Ack) Command() Command {
	return NewCommand(a.Operation, a.Args...)
}

// Matches reports whether the ack confirms cmd.
func (a Ack) Matches(cmd Command) bool {
	return a.Command().Equal(cmd)
}

func ackFromEvent(ev *RawEvent) Ack {
	return Ack{
		Operation: ev.Operation,
		Args:      slices.Clone(ev.Args),
		At:        ev.ReceivedAt,
	}
}
