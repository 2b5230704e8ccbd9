package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/amimof/huego"
)

// HueCodec speaks the Philips Hue light state dialect.
//
// Commands and reports are huego.State documents. Acknowledgements use the
// Hue success list:
//
//	[{"success":{"/state/on":true}},{"success":{"/state/bri":128}}]
//
// and rejections the Hue error list. Hue lights have no thermostat
// datapoints, so temperature operations are malformed for this backend.
type HueCodec struct{}

const (
	hueKeyOn  = "/state/on"
	hueKeyBri = "/state/bri"

	hueMinBri = 1
	hueMaxBri = 254
)

// hueBri maps 0-100 % onto the Hue brightness range 1-254.
func hueBri(pct int64) uint8 {
	return uint8(hueMinBri + math.Round(float64(pct)*(hueMaxBri-hueMinBri)/100)) //nolint:gosec // bounded by range
}

// huePercent is the inverse of hueBri.
func huePercent(bri uint8) int64 {
	if bri < hueMinBri {
		return 0
	}
	return int64(math.Round(float64(bri-hueMinBri) * 100 / (hueMaxBri - hueMinBri)))
}

type hueResult struct {
	Success map[string]json.RawMessage `json:"success,omitempty"`
	Error   *hueError                  `json:"error,omitempty"`
}

type hueError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

// EncodeCommand implements Codec.
func (HueCodec) EncodeCommand(cmd Command) ([]byte, error) {
	state, err := hueStateFromCommand(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(state)
}

// Decode implements Codec. Arrays are acknowledgements; objects are state
// reports.
func (HueCodec) Decode(frame []byte) (*RawEvent, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty hue frame", ErrDecodingFailed)
	}

	if trimmed[0] == '[' {
		return decodeHueAck(trimmed)
	}

	var state huego.State
	if err := json.Unmarshal(trimmed, &state); err != nil {
		return nil, fmt.Errorf("%w: hue: %w", ErrDecodingFailed, err)
	}
	if state.Bri > 0 {
		return &RawEvent{Kind: EventReport, Attribute: AttrBrightness, Value: Int(huePercent(state.Bri))}, nil
	}
	power := PowerOff
	if state.On {
		power = PowerOn
	}
	return &RawEvent{Kind: EventReport, Attribute: AttrPower, Value: String(power)}, nil
}

// DecodeCommand implements Codec.
func (HueCodec) DecodeCommand(frame []byte) (Command, error) {
	var state huego.State
	if err := json.Unmarshal(frame, &state); err != nil {
		return Command{}, fmt.Errorf("%w: hue: %w", ErrDecodingFailed, err)
	}
	switch {
	case state.Bri > 0:
		return NewCommand(OpSetBrightness, Int(huePercent(state.Bri))), nil
	case state.On:
		return TurnOn(), nil
	default:
		return TurnOff(), nil
	}
}

// EncodeAck implements Codec.
func (HueCodec) EncodeAck(cmd Command) ([]byte, error) {
	state, err := hueStateFromCommand(cmd)
	if err != nil {
		return nil, err
	}

	results := []map[string]map[string]any{
		{"success": {hueKeyOn: state.On}},
	}
	if state.Bri > 0 {
		results = append(results, map[string]map[string]any{"success": {hueKeyBri: state.Bri}})
	}
	return json.Marshal(results)
}

// EncodeReport implements Codec.
func (HueCodec) EncodeReport(attribute string, value Value) ([]byte, error) {
	state := huego.State{Reachable: true}
	switch attribute {
	case AttrPower:
		s, ok := value.AsString()
		if !ok || (s != PowerOn && s != PowerOff) {
			return nil, fmt.Errorf("%w: hue power report %s", ErrMalformed, value)
		}
		state.On = s == PowerOn
	case AttrBrightness:
		n, ok := value.AsInt()
		if !ok || n < MinBrightness || n > MaxBrightness {
			return nil, fmt.Errorf("%w: hue brightness report %s", ErrMalformed, value)
		}
		state.On = true
		state.Bri = hueBri(n)
	default:
		return nil, fmt.Errorf("%w: hue has no attribute %q", ErrMalformed, attribute)
	}
	return json.Marshal(state)
}

// EncodeError builds a Hue error list rejecting a request. Used by simulated
// devices.
func (HueCodec) EncodeError(description string) ([]byte, error) {
	return json.Marshal([]hueResult{{Error: &hueError{Type: 201, Address: "/state", Description: description}}})
}

func hueStateFromCommand(cmd Command) (*huego.State, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	state := &huego.State{}
	switch cmd.Operation() {
	case OpTurnOn:
		state.On = true
	case OpTurnOff:
		state.On = false
	case OpSetBrightness:
		n, _ := cmd.Arg(0).AsInt()
		state.On = true
		state.Bri = hueBri(n)
	default:
		return nil, fmt.Errorf("%w: hue lights do not support %s", ErrMalformed, cmd.Operation())
	}
	return state, nil
}

func decodeHueAck(frame []byte) (*RawEvent, error) {
	var results []hueResult
	if err := json.Unmarshal(frame, &results); err != nil {
		return nil, fmt.Errorf("%w: hue ack: %w", ErrDecodingFailed, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: empty hue result list", ErrDecodingFailed)
	}

	var (
		on      *bool
		bri     *uint8
		reasons []string
	)
	for _, r := range results {
		if r.Error != nil {
			reasons = append(reasons, r.Error.Description)
			continue
		}
		for key, raw := range r.Success {
			switch {
			case strings.HasSuffix(key, hueKeyOn):
				var v bool
				if err := json.Unmarshal(raw, &v); err != nil {
					return nil, fmt.Errorf("%w: hue %s: %w", ErrDecodingFailed, key, err)
				}
				on = &v
			case strings.HasSuffix(key, hueKeyBri):
				var v uint8
				if err := json.Unmarshal(raw, &v); err != nil {
					return nil, fmt.Errorf("%w: hue %s: %w", ErrDecodingFailed, key, err)
				}
				bri = &v
			}
		}
	}

	if len(reasons) > 0 {
		return &RawEvent{Kind: EventAck, Reason: strings.Join(reasons, "; ")}, nil
	}

	switch {
	case bri != nil:
		return &RawEvent{Kind: EventAck, Operation: OpSetBrightness, Args: []Value{Int(huePercent(*bri))}}, nil
	case on != nil && *on:
		return &RawEvent{Kind: EventAck, Operation: OpTurnOn}, nil
	case on != nil:
		return &RawEvent{Kind: EventAck, Operation: OpTurnOff}, nil
	default:
		return nil, fmt.Errorf("%w: hue result list names no known state", ErrDecodingFailed)
	}
}
