package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// MockBackend implements protocol.Backend for testing.
type MockBackend struct {
	mu         sync.Mutex
	connected  bool
	connectErr []error
	sendErr    []error
	connects   int
	sends      []protocol.Command
	events     []*protocol.RawEvent
	closed     bool
	sendDelay  time.Duration
}

func (m *MockBackend) Kind() protocol.Kind { return protocol.KindLumen }

func (m *MockBackend) Connect(context.Context) (protocol.ConnectionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if len(m.connectErr) > 0 {
		err := m.connectErr[0]
		m.connectErr = m.connectErr[1:]
		if err != nil {
			return protocol.ConnectionResult{}, err
		}
	}
	already := m.connected
	m.connected = true
	return protocol.ConnectionResult{Kind: protocol.KindLumen, AlreadyConnected: already}, nil
}

func (m *MockBackend) SendCommand(ctx context.Context, cmd protocol.Command) (protocol.Ack, error) {
	m.mu.Lock()
	m.sends = append(m.sends, cmd)
	delay := m.sendDelay
	var err error
	if len(m.sendErr) > 0 {
		err = m.sendErr[0]
		m.sendErr = m.sendErr[1:]
	}
	if err == nil && !m.connected {
		err = protocol.ErrDisconnected
	}
	if err != nil && protocol.IsConnectionError(err) {
		m.connected = false
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.mu.Lock()
			m.connected = false
			m.mu.Unlock()
			return protocol.Ack{}, fmt.Errorf("%w: %w: %w", protocol.ErrTransport, protocol.ErrAckTimeout, ctx.Err())
		}
	}
	if err != nil {
		return protocol.Ack{}, err
	}
	return protocol.Ack{Operation: cmd.Operation(), Args: cmd.Args(), At: time.Now()}, nil
}

func (m *MockBackend) ReceiveData(context.Context) (*protocol.RawEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil, nil
	}
	ev := m.events[0]
	m.events = m.events[1:]
	return ev, nil
}

func (m *MockBackend) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockBackend) Stats() protocol.Stats {
	return protocol.Stats{Kind: protocol.KindLumen, Connected: m.IsConnected()}
}

func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected = false
	return nil
}

func (m *MockBackend) counts() (connects, sends int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, len(m.sends)
}

func fastOptions() Options {
	return Options{
		MaxRetries:     3,
		RetryBackoff:   time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		ReceiveTimeout: 10 * time.Millisecond,
	}
}

func newTestBridge(t *testing.T, backend *MockBackend) *Bridge {
	t.Helper()
	b, err := New(backend, fastOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

func TestNewRequiresBackend(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("New(nil) should fail")
	}
}

func TestNewDefaults(t *testing.T) {
	b, err := New(&MockBackend{}, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if b.opts.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", b.opts.MaxRetries, DefaultMaxRetries)
	}
	if b.opts.RetryBackoff != DefaultRetryBackoff {
		t.Errorf("RetryBackoff = %v, want %v", b.opts.RetryBackoff, DefaultRetryBackoff)
	}
	got := b.Binding()
	if got.State != StateDisconnected || got.BackendKind != protocol.KindLumen {
		t.Errorf("Binding() = %+v, want disconnected lumen", got)
	}
}

func TestSendBeforeInitialize(t *testing.T) {
	backend := &MockBackend{}
	b := newTestBridge(t, backend)

	_, err := b.Send(context.Background(), protocol.TurnOn())
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Send() error = %v, want ErrNotInitialized", err)
	}
	if connects, sends := backend.counts(); connects != 0 || sends != 0 {
		t.Errorf("backend touched: connects=%d sends=%d", connects, sends)
	}
}

func TestInitialize(t *testing.T) {
	backend := &MockBackend{}
	b := newTestBridge(t, backend)

	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := b.Binding().State; got != StateConnected {
		t.Errorf("State = %s, want connected", got)
	}
	if !b.IsInitialized() {
		t.Error("IsInitialized() = false")
	}

	ack, err := b.Send(context.Background(), protocol.SetTemperature(21))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !ack.Matches(protocol.SetTemperature(21)) {
		t.Errorf("ack %v does not match command", ack)
	}
}

func TestInitializeFailure(t *testing.T) {
	backend := &MockBackend{connectErr: []error{protocol.ErrTransport}}
	b := newTestBridge(t, backend)

	err := b.Initialize(context.Background())
	if !errors.Is(err, ErrConnection) || !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("Initialize() error = %v, want ErrConnection wrapping ErrTransport", err)
	}
	if b.IsInitialized() {
		t.Error("bridge should not be initialized")
	}
	binding := b.Binding()
	if binding.State != StateDisconnected || binding.ConsecutiveFailures != 1 {
		t.Errorf("Binding() = %+v, want disconnected with 1 failure", binding)
	}

	if _, err := b.Send(context.Background(), protocol.TurnOn()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Send() error = %v, want ErrNotInitialized", err)
	}
}

func TestSendRetriesTransientFailure(t *testing.T) {
	backend := &MockBackend{sendErr: []error{protocol.ErrTransport}}
	b := newTestBridge(t, backend)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if _, err := b.Send(context.Background(), protocol.TurnOn()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	stats := b.Stats()
	if stats.Retries != 1 || stats.Reconnects != 1 {
		t.Errorf("Retries=%d Reconnects=%d, want 1 and 1", stats.Retries, stats.Reconnects)
	}
	if stats.Binding.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want reset to 0", stats.Binding.ConsecutiveFailures)
	}
	if stats.Binding.State != StateConnected {
		t.Errorf("State = %s, want connected", stats.Binding.State)
	}
}

func TestSendExhaustsAfterBound(t *testing.T) {
	backend := &MockBackend{
		sendErr:    []error{protocol.ErrTransport},
		connectErr: []error{nil, protocol.ErrTransport, protocol.ErrTransport},
	}
	b := newTestBridge(t, backend)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	_, err := b.Send(context.Background(), protocol.TurnOn())
	if !errors.Is(err, ErrExhausted) || !errors.Is(err, ErrConnection) {
		t.Fatalf("Send() error = %v, want ErrConnection+ErrExhausted", err)
	}
	if got := b.Binding().State; got != StateExhausted {
		t.Fatalf("State = %s, want exhausted", got)
	}

	connects, sends := backend.counts()

	_, err = b.Send(context.Background(), protocol.TurnOff())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("second Send() error = %v, want ErrExhausted", err)
	}
	if c, s := backend.counts(); c != connects || s != sends {
		t.Errorf("exhausted bridge touched backend: connects %d->%d sends %d->%d", connects, c, sends, s)
	}

	if err := b.Initialize(context.Background()); !errors.Is(err, ErrExhausted) {
		t.Errorf("Initialize() after exhaustion error = %v, want ErrExhausted", err)
	}
}

func TestThreeFailedInitializationsExhaust(t *testing.T) {
	backend := &MockBackend{connectErr: []error{protocol.ErrTransport, protocol.ErrTransport, protocol.ErrTransport}}
	b := newTestBridge(t, backend)

	for i := range 3 {
		if err := b.Initialize(context.Background()); err == nil {
			t.Fatalf("Initialize() attempt %d succeeded", i+1)
		}
	}

	_, err := b.Send(context.Background(), protocol.TurnOn())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Send() error = %v, want ErrExhausted", err)
	}
	if connects, sends := backend.counts(); connects != 3 || sends != 0 {
		t.Errorf("connects=%d sends=%d, want 3 and 0", connects, sends)
	}
}

func TestSendMalformedNotRetried(t *testing.T) {
	backend := &MockBackend{sendErr: []error{fmt.Errorf("%w: device rejected", protocol.ErrMalformed)}}
	b := newTestBridge(t, backend)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	_, err := b.Send(context.Background(), protocol.TurnOn())
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("Send() error = %v, want ErrMalformed", err)
	}
	if errors.Is(err, ErrConnection) {
		t.Error("malformed error must not be reported as a connection error")
	}

	_, sends := backend.counts()
	if sends != 1 {
		t.Errorf("sends = %d, want 1", sends)
	}
	binding := b.Binding()
	if binding.State != StateConnected || binding.ConsecutiveFailures != 0 {
		t.Errorf("Binding() = %+v, want untouched", binding)
	}
}

func TestSendInvalidCommandBeforeIO(t *testing.T) {
	backend := &MockBackend{}
	b := newTestBridge(t, backend)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	_, err := b.Send(context.Background(), protocol.SetBrightness(150))
	if !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("Send() error = %v, want ErrMalformed", err)
	}
	if _, sends := backend.counts(); sends != 0 {
		t.Errorf("sends = %d, want 0", sends)
	}
}

func TestSendDeadlineMarksDisconnected(t *testing.T) {
	backend := &MockBackend{sendDelay: time.Second}
	b := newTestBridge(t, backend)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Send(ctx, protocol.TurnOn())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send() error = %v, want DeadlineExceeded", err)
	}
	if !errors.Is(err, ErrConnection) {
		t.Errorf("Send() error = %v, want ErrConnection", err)
	}

	binding := b.Binding()
	if binding.State != StateDisconnected {
		t.Errorf("State = %s, want disconnected", binding.State)
	}
	if binding.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", binding.ConsecutiveFailures)
	}
	if _, sends := backend.counts(); sends != 1 {
		t.Errorf("sends = %d, want 1 (no retry after deadline)", sends)
	}
}

func TestReceive(t *testing.T) {
	report := &protocol.RawEvent{Kind: protocol.EventReport, Attribute: protocol.AttrPower, Value: protocol.String(protocol.PowerOn)}
	backend := &MockBackend{events: []*protocol.RawEvent{report}}
	b := newTestBridge(t, backend)

	if _, err := b.Receive(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Receive() before Initialize error = %v, want ErrNotInitialized", err)
	}
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	ev, err := b.Receive(context.Background())
	if err != nil || ev != report {
		t.Fatalf("Receive() = %v, %v; want report", ev, err)
	}

	ev, err = b.Receive(context.Background())
	if err != nil || ev != nil {
		t.Errorf("Receive() on empty backend = %v, %v; want nil, nil", ev, err)
	}
}

func TestClose(t *testing.T) {
	backend := &MockBackend{}
	b := newTestBridge(t, backend)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if !backend.closed {
		t.Error("backend not closed")
	}
	if _, err := b.Send(context.Background(), protocol.TurnOn()); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestConcurrentSends(t *testing.T) {
	backend := &MockBackend{}
	b := newTestBridge(t, backend)
	if err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(pct int) {
			defer wg.Done()
			if _, err := b.Send(context.Background(), protocol.SetBrightness(pct)); err != nil {
				t.Errorf("Send(%d) error = %v", pct, err)
			}
			_ = b.Binding()
		}(i * 5)
	}
	wg.Wait()

	if got := b.Stats().Successes; got != 20 {
		t.Errorf("Successes = %d, want 20", got)
	}
}
