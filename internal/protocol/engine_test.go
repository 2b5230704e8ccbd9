package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink is a Link whose device side is a reply function.
type fakeLink struct {
	mu       sync.Mutex
	openErr  error
	writeErr error
	opens    int
	writes   [][]byte
	reply    func(frame []byte) [][]byte
	frames   chan []byte
	closed   bool
}

func newFakeLink(reply func(frame []byte) [][]byte) *fakeLink {
	return &fakeLink{reply: reply, frames: make(chan []byte, 16)}
}

func (l *fakeLink) Open(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens++
	return l.openErr
}

func (l *fakeLink) Write(_ context.Context, frame []byte) error {
	l.mu.Lock()
	err := l.writeErr
	reply := l.reply
	l.writes = append(l.writes, frame)
	l.mu.Unlock()

	if err != nil {
		return err
	}
	if reply != nil {
		for _, f := range reply(frame) {
			l.frames <- f
		}
	}
	return nil
}

func (l *fakeLink) Frames() <-chan []byte { return l.frames }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.frames)
	}
	return nil
}

func (l *fakeLink) push(frame []byte) { l.frames <- frame }

// ackingDevice answers every command with its ack.
func ackingDevice(codec Codec) func([]byte) [][]byte {
	return func(frame []byte) [][]byte {
		cmd, err := codec.DecodeCommand(frame)
		if err != nil {
			return nil
		}
		ack, err := codec.EncodeAck(cmd)
		if err != nil {
			return nil
		}
		return [][]byte{ack}
	}
}

func newTestBackend(t *testing.T, kind Kind, link Link, opts Options) Backend {
	t.Helper()
	b, err := New(kind, link, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New("zwave", newFakeLink(nil), Options{})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = ParseKind("zwave")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestConnectIsIdempotent(t *testing.T) {
	link := newFakeLink(nil)
	b := newTestBackend(t, KindLumen, link, Options{})

	res, err := b.Connect(context.Background())
	require.NoError(t, err)
	assert.False(t, res.AlreadyConnected)

	res, err = b.Connect(context.Background())
	require.NoError(t, err)
	assert.True(t, res.AlreadyConnected)

	assert.Equal(t, 1, link.opens)
	assert.Equal(t, uint64(1), b.Stats().Connects)
}

func TestConnectFailureIsTransport(t *testing.T) {
	link := newFakeLink(nil)
	link.openErr = errors.New("no route")
	b := newTestBackend(t, KindKNX, link, Options{})

	_, err := b.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, b.IsConnected())
}

func TestSendCommandRequiresConnection(t *testing.T) {
	b := newTestBackend(t, KindLumen, newFakeLink(nil), Options{})

	_, err := b.SendCommand(context.Background(), TurnOn())
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestSendCommandAcked(t *testing.T) {
	for _, kind := range AllKinds {
		t.Run(string(kind), func(t *testing.T) {
			codec, _ := CodecFor(kind)
			b := newTestBackend(t, kind, newFakeLink(ackingDevice(codec)), Options{})
			_, err := b.Connect(context.Background())
			require.NoError(t, err)

			ack, err := b.SendCommand(context.Background(), SetBrightness(40))
			require.NoError(t, err)
			assert.True(t, ack.Matches(SetBrightness(40)))
			assert.False(t, ack.At.IsZero())

			stats := b.Stats()
			assert.Equal(t, uint64(1), stats.CommandsSent)
			assert.Equal(t, uint64(1), stats.AcksReceived)
		})
	}
}

func TestSendCommandMalformedDoesNotWrite(t *testing.T) {
	link := newFakeLink(nil)
	b := newTestBackend(t, KindHue, link, Options{})
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	_, err = b.SendCommand(context.Background(), SetTemperature(21))
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Empty(t, link.writes)
	assert.True(t, b.IsConnected())
}

func TestSendCommandAckTimeoutDisconnects(t *testing.T) {
	b := newTestBackend(t, KindLumen, newFakeLink(nil), Options{AckTimeout: 30 * time.Millisecond})
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	_, err = b.SendCommand(context.Background(), TurnOn())
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, b.IsConnected())
}

func TestSendCommandWriteFailure(t *testing.T) {
	link := newFakeLink(nil)
	link.writeErr = errors.New("broken pipe")
	b := newTestBackend(t, KindKNX, link, Options{})
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	_, err = b.SendCommand(context.Background(), TurnOff())
	assert.ErrorIs(t, err, ErrTransport)
	assert.False(t, b.IsConnected())
}

func TestSendCommandMismatchedAck(t *testing.T) {
	codec := LumenCodec{}
	wrong := func([]byte) [][]byte {
		ack, _ := codec.EncodeAck(TurnOff())
		return [][]byte{ack}
	}
	b := newTestBackend(t, KindLumen, newFakeLink(wrong), Options{AckTimeout: 50 * time.Millisecond})
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	_, err = b.SendCommand(context.Background(), TurnOn())
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.Equal(t, uint64(1), b.Stats().StrayAcks)
	assert.Zero(t, b.Stats().AcksReceived)
}

// lateAckDevice stays silent for the first command, then answers every
// later one with the earlier command's ack followed by replies(cmd).
func lateAckDevice(codec Codec, replies func(Command) []Command) func([]byte) [][]byte {
	var (
		mu    sync.Mutex
		first *Command
	)
	return func(frame []byte) [][]byte {
		cmd, err := codec.DecodeCommand(frame)
		if err != nil {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if first == nil {
			first = &cmd
			return nil
		}
		stale, _ := codec.EncodeAck(*first)
		out := [][]byte{stale}
		for _, r := range replies(cmd) {
			ack, _ := codec.EncodeAck(r)
			out = append(out, ack)
		}
		return out
	}
}

func TestSendCommandSkipsLateAcks(t *testing.T) {
	echo := func(c Command) []Command { return []Command{c} }
	silent := func(Command) []Command { return nil }

	tests := []struct {
		name    string
		first   Command
		second  Command
		replies func(Command) []Command
		wantErr error
	}{
		{"same operation, own ack follows", SetTemperature(20), SetTemperature(25), echo, nil},
		{"same operation, own ack lost", SetTemperature(20), SetTemperature(25), silent, ErrAckTimeout},
		{"different operation, own ack follows", TurnOn(), TurnOff(), echo, nil},
		{"different operation, own ack lost", TurnOn(), TurnOff(), silent, ErrAckTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := LumenCodec{}
			link := newFakeLink(lateAckDevice(codec, tt.replies))
			b := newTestBackend(t, KindLumen, link, Options{AckTimeout: 100 * time.Millisecond})
			_, err := b.Connect(context.Background())
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			_, err = b.SendCommand(ctx, tt.first)
			cancel()
			require.ErrorIs(t, err, ErrAckTimeout)

			_, err = b.Connect(context.Background())
			require.NoError(t, err)

			ack, err := b.SendCommand(context.Background(), tt.second)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, ErrMalformed)
			} else {
				require.NoError(t, err)
				assert.True(t, ack.Matches(tt.second), "ack %s, want %s", ack.Command(), tt.second)
			}
			assert.Equal(t, uint64(1), b.Stats().StrayAcks)
		})
	}
}

func TestSendCommandRejected(t *testing.T) {
	reject := func([]byte) [][]byte {
		frame, _ := HueCodec{}.EncodeError("parameter not modifiable")
		return [][]byte{frame}
	}
	b := newTestBackend(t, KindHue, newFakeLink(reject), Options{})
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	_, err = b.SendCommand(context.Background(), TurnOn())
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "parameter not modifiable")
}

func TestReceiveDataReports(t *testing.T) {
	link := newFakeLink(nil)
	b := newTestBackend(t, KindKNX, link, Options{ReadTimeout: 20 * time.Millisecond})
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	ev, err := b.ReceiveData(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ev, "no data must yield nil, not an error")

	frame, err := KNXCodec{}.EncodeReport(AttrPower, String(PowerOn))
	require.NoError(t, err)
	link.push(frame)

	require.Eventually(t, func() bool {
		ev, err = b.ReceiveData(context.Background())
		return err == nil && ev != nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, EventReport, ev.Kind)
	assert.Equal(t, AttrPower, ev.Attribute)
	assert.True(t, ev.Value.Equal(String(PowerOn)))
	assert.Equal(t, frame, ev.Payload)
}

func TestReportQueueDropsOldest(t *testing.T) {
	link := newFakeLink(nil)
	b := newTestBackend(t, KindLumen, link, Options{QueueSize: 2, ReadTimeout: 10 * time.Millisecond})
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	for _, pct := range []int64{10, 20, 30} {
		frame, err := LumenCodec{}.EncodeReport(AttrBrightness, Int(pct))
		require.NoError(t, err)
		link.push(frame)
	}

	require.Eventually(t, func() bool {
		s := b.Stats()
		return s.Reports == 3 && s.ReportsDropped == 1
	}, time.Second, 5*time.Millisecond)

	ev, err := b.ReceiveData(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, ev.Value.Equal(Int(20)))
}

func TestStrayAckAndGarbageAreCounted(t *testing.T) {
	link := newFakeLink(nil)
	b := newTestBackend(t, KindLumen, link, Options{})
	_, err := b.Connect(context.Background())
	require.NoError(t, err)

	ack, _ := LumenCodec{}.EncodeAck(TurnOn())
	link.push(ack)
	link.push([]byte("garbage"))

	require.Eventually(t, func() bool {
		s := b.Stats()
		return s.StrayAcks == 1 && s.DecodeErrors == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	b, err := New(KindLumen, newFakeLink(nil), Options{})
	require.NoError(t, err)
	_, err = b.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err = b.Connect(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = b.SendCommand(context.Background(), TurnOn())
	assert.ErrorIs(t, err, ErrDisconnected)
}
