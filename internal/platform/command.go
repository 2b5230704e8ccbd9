package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-integration/internal/adapter"
	"github.com/nerrad567/gray-logic-integration/internal/audit"
	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// CommandRequest is a caller's command for one device.
//
//	{"operation": "set_brightness", "value": 40}
type CommandRequest struct {
	Operation protocol.Operation `json:"operation"`
	Value     *protocol.Value    `json:"value,omitempty"`
}

// Execute dispatches req to the device's adapter and waits for the outcome.
//
// Parameters:
//   - ctx: Bounds the command, including any wait for the device's command slot
//   - deviceID: Configured device ID
//   - req: Operation and its value (brightness percent or °C)
//
// Returns:
//   - error: ErrUnknownDevice, ErrUnsupportedCommand, ErrInvalidArgument, or
//     the adapter, bridge or protocol error unchanged
func (p *Platform) Execute(ctx context.Context, deviceID string, req CommandRequest) (err error) {
	d, ok := p.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	start := time.Now()
	defer func() { p.recordCommand(ctx, deviceID, req, start, err) }()

	switch req.Operation {
	case protocol.OpTurnOn, protocol.OpTurnOff:
		sw, ok := d.adapter.(adapter.Switch)
		if !ok {
			return unsupported(d, req.Operation)
		}
		if req.Operation == protocol.OpTurnOn {
			return sw.TurnOn(ctx)
		}
		return sw.TurnOff(ctx)

	case protocol.OpSetBrightness:
		dim, ok := d.adapter.(adapter.Dimmer)
		if !ok {
			return unsupported(d, req.Operation)
		}
		pct, err := percentArg(req.Value)
		if err != nil {
			return err
		}
		return dim.SetBrightness(ctx, pct)

	case protocol.OpSetTemperature:
		heater, ok := d.adapter.(adapter.Heater)
		if !ok {
			return unsupported(d, req.Operation)
		}
		celsius, err := numberArg(req.Value)
		if err != nil {
			return err
		}
		return heater.SetTemperature(ctx, celsius)

	default:
		return fmt.Errorf("%w: unknown operation %q", ErrUnsupportedCommand, req.Operation)
	}
}

func unsupported(d *device, op protocol.Operation) error {
	return fmt.Errorf("%w: %s cannot %s", ErrUnsupportedCommand, d.category, op)
}

func numberArg(v *protocol.Value) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: value is required", ErrInvalidArgument)
	}
	f, ok := v.Number()
	if !ok {
		return 0, fmt.Errorf("%w: value %s is not a number", ErrInvalidArgument, v)
	}
	return f, nil
}

func percentArg(v *protocol.Value) (int, error) {
	f, err := numberArg(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: brightness %s is not a whole percent", ErrInvalidArgument, v)
	}
	return int(f), nil
}

// IsValidation reports whether err means the request itself was wrong and
// nothing reached the device.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrUnsupportedCommand) ||
		errors.Is(err, protocol.ErrMalformed) ||
		adapter.IsValidation(err)
}

// auditTimeout bounds the command log write after the command returns.
const auditTimeout = 2 * time.Second

func (p *Platform) recordCommand(ctx context.Context, deviceID string, req CommandRequest, start time.Time, err error) {
	op := req.Operation
	result := metrics.ResultOK
	switch {
	case err == nil:
	case errors.Is(err, adapter.ErrBusy):
		result = metrics.ResultBusy
	case IsValidation(err):
		result = metrics.ResultRejected
	default:
		result = metrics.ResultFailed
	}

	if p.metrics != nil {
		label := string(op)
		if !op.Valid() {
			label = "unknown"
		}
		p.metrics.Commands.WithLabelValues(deviceID, label, result).Inc()
	}
	if err != nil {
		p.log.Debug("command failed", "device_id", deviceID, "operation", op, "result", result, "error", err)
	}

	if p.audit == nil {
		return
	}
	origin := audit.OriginFrom(ctx)
	entry := &audit.Entry{
		DeviceID:   deviceID,
		Operation:  string(op),
		Result:     result,
		Source:     origin.Source,
		RequestID:  origin.RequestID,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if req.Value != nil {
		if b, mErr := json.Marshal(req.Value); mErr == nil {
			entry.Value = string(b)
		}
	}
	if err != nil {
		entry.Error = err.Error()
	}

	// The caller's context may already be cancelled, which is often why
	// the command failed.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if aErr := p.audit.Create(wctx, entry); aErr != nil {
		p.log.Warn("recording command failed", "device_id", deviceID, "error", aErr)
	}
}
