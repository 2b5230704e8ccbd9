package protocol

import (
	"fmt"
	"math"
	"slices"
)

// Operation identifies a command in the generic, manufacturer-independent
// vocabulary. The string form is stable and used on the API and in logs.
type Operation string

// Generic command vocabulary.
const (
	OpTurnOn         Operation = "turn_on"
	OpTurnOff        Operation = "turn_off"
	OpSetBrightness  Operation = "set_brightness"
	OpSetTemperature Operation = "set_temperature"
)

// AllOperations lists the vocabulary in a stable order.
var AllOperations = []Operation{OpTurnOn, OpTurnOff, OpSetBrightness, OpSetTemperature}

// Valid reports whether op is part of the vocabulary.
func (op Operation) Valid() bool {
	return slices.Contains(AllOperations, op)
}

// Canonical status attribute names shared by every backend.
const (
	AttrPower              = "power"
	AttrBrightness         = "brightness"
	AttrTemperature        = "temperature"
	AttrCurrentTemperature = "current_temperature"
)

// Power attribute values.
const (
	PowerOn  = "ON"
	PowerOff = "OFF"
)

// Brightness bounds, in percent.
const (
	MinBrightness = 0
	MaxBrightness = 100
)

// Command is an immutable protocol-neutral instruction: an operation plus
// ordered typed arguments. Construct with NewCommand.
type Command struct {
	op   Operation
	args []Value
}

// NewCommand builds a command. The argument slice is copied.
func NewCommand(op Operation, args ...Value) Command {
	return Command{op: op, args: slices.Clone(args)}
}

// TurnOn returns a turn_on command.
func TurnOn() Command { return NewCommand(OpTurnOn) }

// TurnOff returns a turn_off command.
func TurnOff() Command { return NewCommand(OpTurnOff) }

// SetBrightness returns a set_brightness command for a percentage.
func SetBrightness(pct int) Command { return NewCommand(OpSetBrightness, Int(int64(pct))) }

// SetTemperature returns a set_temperature command for a setpoint in °C.
func SetTemperature(celsius float64) Command {
	return NewCommand(OpSetTemperature, Float(celsius))
}

// Operation returns the command's operation.
func (c Command) Operation() Operation { return c.op }

// Args returns a copy of the arguments.
func (c Command) Args() []Value { return slices.Clone(c.args) }

// NumArgs returns the number of arguments.
func (c Command) NumArgs() int { return len(c.args) }

// Arg returns argument i, or an invalid Value when out of range.
func (c Command) Arg(i int) Value {
	if i < 0 || i >= len(c.args) {
		return Value{}
	}
	return c.args[i]
}

// Equal reports whether two commands have the same operation and arguments.
func (c Command) Equal(o Command) bool {
	return c.op == o.op && slices.EqualFunc(c.args, o.args, Value.Equal)
}

// String renders the command for logs, e.g. "set_temperature(22.5)".
func (c Command) String() string {
	s := string(c.op) + "("
	for i, a := range c.args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + ")"
}

// Validate checks the argument arity and types for the operation.
// It returns an error wrapping ErrMalformed.
func (c Command) Validate() error {
	switch c.op {
	case OpTurnOn, OpTurnOff:
		if len(c.args) != 0 {
			return fmt.Errorf("%w: %s takes no arguments, got %d", ErrMalformed, c.op, len(c.args))
		}
	case OpSetBrightness:
		if len(c.args) != 1 {
			return fmt.Errorf("%w: %s takes 1 argument, got %d", ErrMalformed, c.op, len(c.args))
		}
		pct, ok := c.args[0].AsInt()
		if !ok {
			return fmt.Errorf("%w: %s argument must be int, got %s", ErrMalformed, c.op, c.args[0].Type())
		}
		if pct < MinBrightness || pct > MaxBrightness {
			return fmt.Errorf("%w: %s argument %d outside %d-%d", ErrMalformed, c.op, pct, MinBrightness, MaxBrightness)
		}
	case OpSetTemperature:
		if len(c.args) != 1 {
			return fmt.Errorf("%w: %s takes 1 argument, got %d", ErrMalformed, c.op, len(c.args))
		}
		v, ok := c.args[0].AsFloat()
		if !ok {
			return fmt.Errorf("%w: %s argument must be float, got %s", ErrMalformed, c.op, c.args[0].Type())
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s argument is not a finite number", ErrMalformed, c.op)
		}
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrMalformed, c.op)
	}
	return nil
}
