package protocol

import (
	"fmt"
)

// KNXCodec speaks a compact binary telegram format built on KNX datapoint
// types.
//
// Frame layout:
//
//	[APCI][opcode][length][payload...]
//
// APCI is 0x80 for a write from the controller, 0x40 for the device's
// response (ack) and 0x00 for an unsolicited value report.
type KNXCodec struct{}

// Application-layer control values.
const (
	knxAPCIReport   byte = 0x00
	knxAPCIResponse byte = 0x40
	knxAPCIWrite    byte = 0x80
)

// Opcodes address the datapoint being written or reported.
const (
	knxOpSwitch      byte = 0x01 // DPT 1.001
	knxOpBrightness  byte = 0x02 // DPT 5.001
	knxOpSetpoint    byte = 0x03 // DPT 9.001
	knxOpTemperature byte = 0x04 // DPT 9.001, report only
)

const knxHeaderLen = 3

type knxTelegram struct {
	apci    byte
	opcode  byte
	payload []byte
}

func (t knxTelegram) encode() []byte {
	frame := make([]byte, 0, knxHeaderLen+len(t.payload))
	frame = append(frame, t.apci, t.opcode, byte(len(t.payload)))
	return append(frame, t.payload...)
}

func parseKNXTelegram(frame []byte) (knxTelegram, error) {
	if len(frame) < knxHeaderLen {
		return knxTelegram{}, fmt.Errorf("%w: knx telegram too short (%d bytes)", ErrDecodingFailed, len(frame))
	}
	n := int(frame[2])
	if len(frame) != knxHeaderLen+n {
		return knxTelegram{}, fmt.Errorf("%w: knx length byte %d does not match payload %d", ErrDecodingFailed, n, len(frame)-knxHeaderLen)
	}
	return knxTelegram{apci: frame[0], opcode: frame[1], payload: frame[knxHeaderLen:]}, nil
}

// EncodeCommand implements Codec.
func (KNXCodec) EncodeCommand(cmd Command) ([]byte, error) {
	t, err := knxFromCommand(cmd, knxAPCIWrite)
	if err != nil {
		return nil, err
	}
	return t.encode(), nil
}

// Decode implements Codec.
func (KNXCodec) Decode(frame []byte) (*RawEvent, error) {
	t, err := parseKNXTelegram(frame)
	if err != nil {
		return nil, err
	}

	switch t.apci {
	case knxAPCIResponse:
		cmd, err := knxToCommand(t)
		if err != nil {
			return nil, err
		}
		return &RawEvent{Kind: EventAck, Operation: cmd.Operation(), Args: cmd.Args()}, nil

	case knxAPCIReport:
		attr, v, err := knxToReport(t)
		if err != nil {
			return nil, err
		}
		return &RawEvent{Kind: EventReport, Attribute: attr, Value: v}, nil

	default:
		return nil, fmt.Errorf("%w: unexpected knx APCI 0x%02x", ErrDecodingFailed, t.apci)
	}
}

// DecodeCommand implements Codec.
func (KNXCodec) DecodeCommand(frame []byte) (Command, error) {
	t, err := parseKNXTelegram(frame)
	if err != nil {
		return Command{}, err
	}
	if t.apci != knxAPCIWrite {
		return Command{}, fmt.Errorf("%w: knx APCI 0x%02x is not a write", ErrDecodingFailed, t.apci)
	}
	return knxToCommand(t)
}

// EncodeAck implements Codec.
func (KNXCodec) EncodeAck(cmd Command) ([]byte, error) {
	t, err := knxFromCommand(cmd, knxAPCIResponse)
	if err != nil {
		return nil, err
	}
	return t.encode(), nil
}

// EncodeReport implements Codec.
func (KNXCodec) EncodeReport(attribute string, value Value) ([]byte, error) {
	t := knxTelegram{apci: knxAPCIReport}
	switch attribute {
	case AttrPower:
		s, ok := value.AsString()
		if !ok || (s != PowerOn && s != PowerOff) {
			return nil, fmt.Errorf("%w: knx power report %s", ErrMalformed, value)
		}
		t.opcode, t.payload = knxOpSwitch, encodeDPT1(s == PowerOn)
	case AttrBrightness:
		n, ok := value.AsInt()
		if !ok || n < MinBrightness || n > MaxBrightness {
			return nil, fmt.Errorf("%w: knx brightness report %s", ErrMalformed, value)
		}
		t.opcode, t.payload = knxOpBrightness, encodeDPT5(n)
	case AttrTemperature, AttrCurrentTemperature:
		f, ok := value.Number()
		if !ok {
			return nil, fmt.Errorf("%w: knx %s report %s", ErrMalformed, attribute, value)
		}
		payload, err := encodeDPT9(f)
		if err != nil {
			return nil, err
		}
		t.opcode, t.payload = knxOpSetpoint, payload
		if attribute == AttrCurrentTemperature {
			t.opcode = knxOpTemperature
		}
	default:
		return nil, fmt.Errorf("%w: knx has no attribute %q", ErrMalformed, attribute)
	}
	return t.encode(), nil
}

func knxFromCommand(cmd Command, apci byte) (knxTelegram, error) {
	if err := cmd.Validate(); err != nil {
		return knxTelegram{}, err
	}

	t := knxTelegram{apci: apci}
	switch cmd.Operation() {
	case OpTurnOn:
		t.opcode, t.payload = knxOpSwitch, encodeDPT1(true)
	case OpTurnOff:
		t.opcode, t.payload = knxOpSwitch, encodeDPT1(false)
	case OpSetBrightness:
		n, _ := cmd.Arg(0).AsInt()
		t.opcode, t.payload = knxOpBrightness, encodeDPT5(n)
	case OpSetTemperature:
		f, _ := cmd.Arg(0).AsFloat()
		payload, err := encodeDPT9Exact(f)
		if err != nil {
			return knxTelegram{}, err
		}
		t.opcode, t.payload = knxOpSetpoint, payload
	}
	return t, nil
}

func knxToCommand(t knxTelegram) (Command, error) {
	switch t.opcode {
	case knxOpSwitch:
		on, err := decodeDPT1(t.payload)
		if err != nil {
			return Command{}, err
		}
		if on {
			return TurnOn(), nil
		}
		return TurnOff(), nil
	case knxOpBrightness:
		pct, err := decodeDPT5(t.payload)
		if err != nil {
			return Command{}, err
		}
		return NewCommand(OpSetBrightness, Int(pct)), nil
	case knxOpSetpoint:
		v, err := decodeDPT9(t.payload)
		if err != nil {
			return Command{}, err
		}
		return SetTemperature(v), nil
	default:
		return Command{}, fmt.Errorf("%w: knx opcode 0x%02x is not a command", ErrDecodingFailed, t.opcode)
	}
}

func knxToReport(t knxTelegram) (string, Value, error) {
	switch t.opcode {
	case knxOpSwitch:
		on, err := decodeDPT1(t.payload)
		if err != nil {
			return "", Value{}, err
		}
		if on {
			return AttrPower, String(PowerOn), nil
		}
		return AttrPower, String(PowerOff), nil
	case knxOpBrightness:
		pct, err := decodeDPT5(t.payload)
		if err != nil {
			return "", Value{}, err
		}
		return AttrBrightness, Int(pct), nil
	case knxOpSetpoint, knxOpTemperature:
		v, err := decodeDPT9(t.payload)
		if err != nil {
			return "", Value{}, err
		}
		if t.opcode == knxOpTemperature {
			return AttrCurrentTemperature, Float(v), nil
		}
		return AttrTemperature, Float(v), nil
	default:
		return "", Value{}, fmt.Errorf("%w: unknown knx opcode 0x%02x", ErrDecodingFailed, t.opcode)
	}
}
