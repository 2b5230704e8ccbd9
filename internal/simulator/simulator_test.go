package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

func newBackend(t *testing.T, d *Device, opts protocol.Options) protocol.Backend {
	t.Helper()
	b, err := protocol.New(d.Kind(), d.Link(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewDevice_UnknownKind(t *testing.T) {
	_, err := NewDevice("x", protocol.Kind("zwave"))
	assert.ErrorIs(t, err, protocol.ErrUnknownKind)
}

func TestDevice_CommandsRoundTrip(t *testing.T) {
	tests := []struct {
		kind protocol.Kind
		cmds []protocol.Command
		want map[string]protocol.Value
	}{
		{
			kind: protocol.KindLumen,
			cmds: []protocol.Command{protocol.TurnOn(), protocol.SetBrightness(40)},
			want: map[string]protocol.Value{
				protocol.AttrPower:      protocol.String(protocol.PowerOn),
				protocol.AttrBrightness: protocol.Int(40),
			},
		},
		{
			kind: protocol.KindKNX,
			cmds: []protocol.Command{protocol.SetTemperature(22.5)},
			want: map[string]protocol.Value{
				protocol.AttrTemperature: protocol.Float(22.5),
			},
		},
		{
			kind: protocol.KindHue,
			cmds: []protocol.Command{protocol.TurnOn(), protocol.TurnOff()},
			want: map[string]protocol.Value{
				protocol.AttrPower: protocol.String(protocol.PowerOff),
			},
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			d, err := NewDevice("dev1", tt.kind)
			require.NoError(t, err)
			b := newBackend(t, d, protocol.Options{AckTimeout: time.Second})

			_, err = b.Connect(context.Background())
			require.NoError(t, err)

			for _, cmd := range tt.cmds {
				ack, err := b.SendCommand(context.Background(), cmd)
				require.NoError(t, err, cmd.String())
				assert.True(t, ack.Matches(cmd))
			}

			assert.Equal(t, tt.want, d.State())
			assert.Len(t, d.Commands(), len(tt.cmds))
		})
	}
}

func TestDevice_Offline(t *testing.T) {
	d, err := NewDevice("light1", protocol.KindLumen)
	require.NoError(t, err)
	d.SetOffline(true)

	b := newBackend(t, d, protocol.Options{})
	_, err = b.Connect(context.Background())
	assert.ErrorIs(t, err, protocol.ErrTransport)
	assert.Equal(t, 1, d.Link().Opens())

	d.SetOffline(false)
	_, err = b.Connect(context.Background())
	require.NoError(t, err)

	d.SetOffline(true)
	_, err = b.SendCommand(context.Background(), protocol.TurnOn())
	assert.True(t, protocol.IsConnectionError(err), "got %v", err)
	assert.Empty(t, d.Commands())
}

func TestDevice_DropAcks(t *testing.T) {
	d, err := NewDevice("light1", protocol.KindLumen)
	require.NoError(t, err)
	b := newBackend(t, d, protocol.Options{AckTimeout: 50 * time.Millisecond})
	_, err = b.Connect(context.Background())
	require.NoError(t, err)

	d.DropAcks(1)
	_, err = b.SendCommand(context.Background(), protocol.TurnOn())
	assert.ErrorIs(t, err, protocol.ErrAckTimeout)
	assert.False(t, b.IsConnected())

	_, err = b.Connect(context.Background())
	require.NoError(t, err)
	_, err = b.SendCommand(context.Background(), protocol.TurnOn())
	require.NoError(t, err)
}

func TestDevice_RejectCommands(t *testing.T) {
	lumen, err := NewDevice("l", protocol.KindLumen)
	require.NoError(t, err)
	assert.ErrorIs(t, lumen.RejectCommands(1), ErrRejectUnsupported)

	d, err := NewDevice("h", protocol.KindHue)
	require.NoError(t, err)
	require.NoError(t, d.RejectCommands(1))

	b := newBackend(t, d, protocol.Options{AckTimeout: time.Second})
	_, err = b.Connect(context.Background())
	require.NoError(t, err)

	_, err = b.SendCommand(context.Background(), protocol.TurnOn())
	assert.ErrorIs(t, err, protocol.ErrMalformed)
	assert.Empty(t, d.State())
}

func TestDevice_PressReportsToggle(t *testing.T) {
	d, err := NewDevice("light1", protocol.KindKNX)
	require.NoError(t, err)
	b := newBackend(t, d, protocol.Options{ReadTimeout: time.Second})
	_, err = b.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Press())
	ev, err := b.ReceiveData(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, protocol.EventReport, ev.Kind)
	assert.Equal(t, protocol.AttrPower, ev.Attribute)
	assert.Equal(t, protocol.String(protocol.PowerOn), ev.Value)

	require.NoError(t, d.Press())
	ev, err = b.ReceiveData(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, protocol.String(protocol.PowerOff), ev.Value)
}

func TestDevice_ReportUnsupportedAttribute(t *testing.T) {
	d, err := NewDevice("h", protocol.KindHue)
	require.NoError(t, err)
	err = d.Report(protocol.AttrCurrentTemperature, protocol.Float(20))
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestDevice_Latency(t *testing.T) {
	d, err := NewDevice("t1", protocol.KindLumen)
	require.NoError(t, err)
	d.SetLatency(30 * time.Millisecond)

	b := newBackend(t, d, protocol.Options{AckTimeout: time.Second})
	_, err = b.Connect(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = b.SendCommand(context.Background(), protocol.SetTemperature(21))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestDevice_LateAckNotCreditedToNextCommand(t *testing.T) {
	d, err := NewDevice("t1", protocol.KindLumen)
	require.NoError(t, err)
	d.SetLatency(150 * time.Millisecond)

	b := newBackend(t, d, protocol.Options{AckTimeout: time.Second})
	_, err = b.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	_, err = b.SendCommand(ctx, protocol.SetTemperature(20))
	cancel()
	require.ErrorIs(t, err, protocol.ErrAckTimeout)

	// The device applied 20 but ignores 25; the late ack for 20 must not
	// confirm 25.
	d.DropAcks(1)
	_, err = b.Connect(context.Background())
	require.NoError(t, err)
	ctx, cancel = context.WithTimeout(context.Background(), 400*time.Millisecond)
	_, err = b.SendCommand(ctx, protocol.SetTemperature(25))
	cancel()
	assert.ErrorIs(t, err, protocol.ErrAckTimeout)

	v, _ := d.Value(protocol.AttrTemperature)
	assert.Equal(t, protocol.Float(20), v)
	assert.Equal(t, uint64(1), b.Stats().StrayAcks)
}

func TestDevice_LateAckSkippedForOtherOperation(t *testing.T) {
	d, err := NewDevice("light1", protocol.KindLumen)
	require.NoError(t, err)
	d.SetLatency(150 * time.Millisecond)

	b := newBackend(t, d, protocol.Options{AckTimeout: time.Second})
	_, err = b.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	_, err = b.SendCommand(ctx, protocol.TurnOn())
	cancel()
	require.ErrorIs(t, err, protocol.ErrAckTimeout)

	_, err = b.Connect(context.Background())
	require.NoError(t, err)
	ack, err := b.SendCommand(context.Background(), protocol.TurnOff())
	require.NoError(t, err)
	assert.Equal(t, protocol.OpTurnOff, ack.Operation)

	v, _ := d.Value(protocol.AttrPower)
	assert.Equal(t, protocol.String(protocol.PowerOff), v)
}

func TestLink_Closed(t *testing.T) {
	d, err := NewDevice("light1", protocol.KindLumen)
	require.NoError(t, err)
	l := d.Link()

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, open := <-l.Frames()
	assert.False(t, open)
	assert.ErrorIs(t, l.Open(context.Background()), ErrLinkClosed)
	assert.ErrorIs(t, l.Write(context.Background(), []byte("{}")), ErrLinkClosed)

	// Reports after close are counted, not delivered.
	require.NoError(t, d.Report(protocol.AttrPower, protocol.String(protocol.PowerOn)))
	assert.Equal(t, 1, l.Dropped())
}

func TestDevice_GarbageFrame(t *testing.T) {
	d, err := NewDevice("light1", protocol.KindLumen)
	require.NoError(t, err)
	require.NoError(t, d.Link().Write(context.Background(), []byte("not json")))
	assert.Equal(t, 1, d.GarbageFrames())
}
