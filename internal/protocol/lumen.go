package protocol

import (
	"encoding/json"
	"fmt"
)

// LumenCodec speaks the JSON dialect used by zigbee2mqtt-style devices.
//
// Commands are single-key documents:
//
//	{"state":"ON"}  {"state":"OFF"}  {"brightness":40}  {"current_heating_setpoint":21.5}
//
// Acknowledgements echo the command with "ack":true. Reports carry the same
// keys without "ack", plus "local_temperature" for measured temperature.
type LumenCodec struct{}

type lumenMessage struct {
	Ack              bool     `json:"ack,omitempty"`
	Error            string   `json:"error,omitempty"`
	State            *string  `json:"state,omitempty"`
	Brightness       *int64   `json:"brightness,omitempty"`
	Setpoint         *float64 `json:"current_heating_setpoint,omitempty"`
	LocalTemperature *float64 `json:"local_temperature,omitempty"`
}

func (m lumenMessage) fields() int {
	n := 0
	if m.State != nil {
		n++
	}
	if m.Brightness != nil {
		n++
	}
	if m.Setpoint != nil {
		n++
	}
	if m.LocalTemperature != nil {
		n++
	}
	return n
}

// EncodeCommand implements Codec.
func (LumenCodec) EncodeCommand(cmd Command) ([]byte, error) {
	msg, err := lumenFromCommand(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Decode implements Codec.
func (LumenCodec) Decode(frame []byte) (*RawEvent, error) {
	var msg lumenMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("%w: lumen: %w", ErrDecodingFailed, err)
	}

	if msg.Ack {
		if msg.Error != "" {
			return &RawEvent{Kind: EventAck, Reason: msg.Error}, nil
		}
		cmd, err := lumenToCommand(msg)
		if err != nil {
			return nil, err
		}
		return &RawEvent{Kind: EventAck, Operation: cmd.Operation(), Args: cmd.Args()}, nil
	}

	if msg.fields() != 1 {
		return nil, fmt.Errorf("%w: lumen report must carry exactly one attribute, got %d", ErrDecodingFailed, msg.fields())
	}

	ev := &RawEvent{Kind: EventReport}
	switch {
	case msg.State != nil:
		if *msg.State != PowerOn && *msg.State != PowerOff {
			return nil, fmt.Errorf("%w: lumen state %q", ErrDecodingFailed, *msg.State)
		}
		ev.Attribute, ev.Value = AttrPower, String(*msg.State)
	case msg.Brightness != nil:
		ev.Attribute, ev.Value = AttrBrightness, Int(*msg.Brightness)
	case msg.Setpoint != nil:
		ev.Attribute, ev.Value = AttrTemperature, Float(*msg.Setpoint)
	case msg.LocalTemperature != nil:
		ev.Attribute, ev.Value = AttrCurrentTemperature, Float(*msg.LocalTemperature)
	}
	return ev, nil
}

// DecodeCommand implements Codec.
func (LumenCodec) DecodeCommand(frame []byte) (Command, error) {
	var msg lumenMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Command{}, fmt.Errorf("%w: lumen: %w", ErrDecodingFailed, err)
	}
	if msg.Ack {
		return Command{}, fmt.Errorf("%w: lumen frame is an ack, not a command", ErrDecodingFailed)
	}
	return lumenToCommand(msg)
}

// EncodeAck implements Codec.
func (LumenCodec) EncodeAck(cmd Command) ([]byte, error) {
	msg, err := lumenFromCommand(cmd)
	if err != nil {
		return nil, err
	}
	msg.Ack = true
	return json.Marshal(msg)
}

// EncodeReport implements Codec.
func (LumenCodec) EncodeReport(attribute string, value Value) ([]byte, error) {
	var msg lumenMessage
	switch attribute {
	case AttrPower:
		s, ok := value.AsString()
		if !ok || (s != PowerOn && s != PowerOff) {
			return nil, fmt.Errorf("%w: lumen power report %s", ErrMalformed, value)
		}
		msg.State = &s
	case AttrBrightness:
		n, ok := value.AsInt()
		if !ok {
			return nil, fmt.Errorf("%w: lumen brightness report %s", ErrMalformed, value)
		}
		msg.Brightness = &n
	case AttrTemperature, AttrCurrentTemperature:
		f, ok := value.Number()
		if !ok {
			return nil, fmt.Errorf("%w: lumen %s report %s", ErrMalformed, attribute, value)
		}
		if attribute == AttrTemperature {
			msg.Setpoint = &f
		} else {
			msg.LocalTemperature = &f
		}
	default:
		return nil, fmt.Errorf("%w: lumen has no attribute %q", ErrMalformed, attribute)
	}
	return json.Marshal(msg)
}

func lumenFromCommand(cmd Command) (lumenMessage, error) {
	if err := cmd.Validate(); err != nil {
		return lumenMessage{}, err
	}

	var msg lumenMessage
	switch cmd.Operation() {
	case OpTurnOn:
		s := PowerOn
		msg.State = &s
	case OpTurnOff:
		s := PowerOff
		msg.State = &s
	case OpSetBrightness:
		n, _ := cmd.Arg(0).AsInt()
		msg.Brightness = &n
	case OpSetTemperature:
		f, _ := cmd.Arg(0).AsFloat()
		msg.Setpoint = &f
	}
	return msg, nil
}

func lumenToCommand(msg lumenMessage) (Command, error) {
	if msg.LocalTemperature != nil || msg.fields() != 1 {
		return Command{}, fmt.Errorf("%w: lumen frame does not name a single command", ErrDecodingFailed)
	}
	switch {
	case msg.State != nil && *msg.State == PowerOn:
		return TurnOn(), nil
	case msg.State != nil && *msg.State == PowerOff:
		return TurnOff(), nil
	case msg.Brightness != nil:
		return NewCommand(OpSetBrightness, Int(*msg.Brightness)), nil
	case msg.Setpoint != nil:
		return SetTemperature(*msg.Setpoint), nil
	default:
		return Command{}, fmt.Errorf("%w: lumen state %q", ErrDecodingFailed, *msg.State)
	}
}
