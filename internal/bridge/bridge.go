package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// State is the connection state recorded in a Binding.
type State string

// Binding states.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateExhausted    State = "exhausted"
)

// Binding records which backend a bridge drives and the state of that
// connection. Only the owning bridge writes it.
type Binding struct {
	BackendKind         protocol.Kind `json:"backend_kind"`
	State               State         `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	ChangedAt           time.Time     `json:"changed_at"`
}

// Default retry and timing configuration.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 200 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultReceiveTimeout = 250 * time.Millisecond
)

// Options configures a Bridge.
type Options struct {
	// MaxRetries is the number of consecutive connection failures after which
	// the bridge gives up permanently.
	MaxRetries int

	// RetryBackoff is the first delay between attempts. It doubles after each
	// failure up to MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// ReceiveTimeout bounds a single Receive call.
	ReceiveTimeout time.Duration

	Logger Logger
}

func (o *Options) applyDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultMaxBackoff
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
}

// Stats holds bridge counters together with the backend's own.
type Stats struct {
	Binding     Binding        `json:"binding"`
	Backend     protocol.Stats `json:"backend"`
	Sends       uint64         `json:"sends"`
	Successes   uint64         `json:"successes"`
	Failures    uint64         `json:"failures"`
	Retries     uint64         `json:"retries"`
	Reconnects  uint64         `json:"reconnects"`
	Exhaustions uint64         `json:"exhaustions"`
}

// Bridge is the communication bridge over a single protocol backend.
//
// Thread Safety: all methods are safe for concurrent use. Binding state is
// written only while holding mu.
type Bridge struct {
	backend protocol.Backend
	opts    Options
	logger  Logger

	mu          sync.Mutex
	binding     Binding
	initialized bool

	closed atomic.Bool

	sends       atomic.Uint64
	successes   atomic.Uint64
	failures    atomic.Uint64
	retries     atomic.Uint64
	reconnects  atomic.Uint64
	exhaustions atomic.Uint64
}

// New creates a bridge that owns backend for its entire life.
//
// Parameters:
//   - backend: The protocol backend. Must not be nil.
//   - opts: Retry and timing configuration; zero values take defaults.
//
// Returns:
//   - *Bridge: A bridge in the disconnected state. Call Initialize before Send.
//   - error: If backend is nil.
func New(backend protocol.Backend, opts Options) (*Bridge, error) {
	if backend == nil {
		return nil, errors.New("bridge: backend is required")
	}
	opts.applyDefaults()

	return &Bridge{
		backend: backend,
		opts:    opts,
		logger:  opts.Logger,
		binding: Binding{
			BackendKind: backend.Kind(),
			State:       StateDisconnected,
			ChangedAt:   time.Now(),
		},
	}, nil
}

// SetLogger replaces the bridge's logger.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Kind returns the backend variant this bridge drives.
func (b *Bridge) Kind() protocol.Kind { return b.backend.Kind() }

// Initialize connects the backend and records the outcome in the binding.
// A failed attempt counts towards the retry bound.
func (b *Bridge) Initialize(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	if b.binding.State == StateExhausted {
		b.mu.Unlock()
		return b.exhaustedError(nil)
	}
	b.setStateLocked(StateConnecting)
	b.mu.Unlock()

	res, err := b.backend.Connect(ctx)
	if err != nil {
		if exhausted := b.recordFailure(err); exhausted {
			return b.exhaustedError(err)
		}
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	b.mu.Lock()
	b.initialized = true
	b.binding.ConsecutiveFailures = 0
	b.binding.LastError = ""
	b.setStateLocked(StateConnected)
	logger := b.logger
	b.mu.Unlock()

	logger.Info("bridge initialized", "backend", b.backend.Kind(), "already_connected", res.AlreadyConnected)
	return nil
}

// Send delivers cmd through the backend and returns the device's ack.
//
// Check order: exhausted, not initialized, command validity. Connection
// failures are retried with backoff until the retry bound or ctx's deadline.
// A deadline expiring mid-send counts as a failure and is not retried.
func (b *Bridge) Send(ctx context.Context, cmd protocol.Command) (protocol.Ack, error) {
	if b.closed.Load() {
		return protocol.Ack{}, ErrClosed
	}

	b.mu.Lock()
	state, initialized := b.binding.State, b.initialized
	b.mu.Unlock()

	if state == StateExhausted {
		return protocol.Ack{}, b.exhaustedError(nil)
	}
	if !initialized {
		return protocol.Ack{}, ErrNotInitialized
	}
	if err := cmd.Validate(); err != nil {
		return protocol.Ack{}, err
	}

	b.sends.Add(1)
	backoff := b.opts.RetryBackoff

	for {
		if err := b.ensureConnected(ctx); err != nil {
			if errors.Is(err, ErrExhausted) || ctx.Err() != nil {
				return protocol.Ack{}, err
			}
		} else {
			ack, err := b.backend.SendCommand(ctx, cmd)
			if err == nil {
				b.recordSuccess()
				return ack, nil
			}

			if !protocol.IsConnectionError(err) {
				return protocol.Ack{}, err
			}
			if exhausted := b.recordFailure(err); exhausted {
				return protocol.Ack{}, b.exhaustedError(err)
			}
			if ctx.Err() != nil {
				return protocol.Ack{}, fmt.Errorf("%w: %w", ErrConnection, err)
			}
		}

		b.retries.Add(1)
		b.loggerSnapshot().Debug("retrying command", "backend", b.backend.Kind(), "operation", cmd.Operation(), "backoff", backoff)

		if err := sleep(ctx, backoff); err != nil {
			return protocol.Ack{}, fmt.Errorf("%w: retry abandoned: %w", ErrConnection, err)
		}
		backoff = min(backoff*2, b.opts.MaxBackoff)
	}
}

// Receive returns the next unsolicited event from the backend, or nil when
// none arrived within ReceiveTimeout.
func (b *Bridge) Receive(ctx context.Context) (*protocol.RawEvent, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	initialized := b.initialized
	b.mu.Unlock()
	if !initialized {
		return nil, ErrNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.ReceiveTimeout)
	defer cancel()

	ev, err := b.backend.ReceiveData(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return ev, nil
}

// Binding returns a copy of the current binding.
func (b *Bridge) Binding() Binding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.binding
}

// IsInitialized reports whether Initialize has succeeded.
func (b *Bridge) IsInitialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// Stats returns a snapshot of the bridge and backend counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Binding:     b.Binding(),
		Backend:     b.backend.Stats(),
		Sends:       b.sends.Load(),
		Successes:   b.successes.Load(),
		Failures:    b.failures.Load(),
		Retries:     b.retries.Load(),
		Reconnects:  b.reconnects.Load(),
		Exhaustions: b.exhaustions.Load(),
	}
}

// Close closes the backend. Safe to call repeatedly.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	if b.binding.State != StateExhausted {
		b.setStateLocked(StateDisconnected)
	}
	b.mu.Unlock()

	return b.backend.Close()
}

// ensureConnected reconnects the backend if the binding or the backend
// itself reports a lost connection.
func (b *Bridge) ensureConnected(ctx context.Context) error {
	b.mu.Lock()
	state := b.binding.State
	if state == StateConnected && b.backend.IsConnected() {
		b.mu.Unlock()
		return nil
	}
	b.setStateLocked(StateConnecting)
	b.mu.Unlock()

	b.reconnects.Add(1)
	if _, err := b.backend.Connect(ctx); err != nil {
		if exhausted := b.recordFailure(err); exhausted {
			return b.exhaustedError(err)
		}
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	b.mu.Lock()
	b.setStateLocked(StateConnected)
	b.mu.Unlock()
	return nil
}

func (b *Bridge) recordSuccess() {
	b.successes.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.binding.ConsecutiveFailures = 0
	b.binding.LastError = ""
	if b.binding.State != StateConnected {
		b.setStateLocked(StateConnected)
	}
}

// recordFailure counts a connection failure and reports whether the bridge
// is now exhausted.
func (b *Bridge) recordFailure(err error) bool {
	b.failures.Add(1)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.binding.ConsecutiveFailures++
	b.binding.LastError = err.Error()

	if b.binding.ConsecutiveFailures >= b.opts.MaxRetries {
		b.setStateLocked(StateExhausted)
		b.exhaustions.Add(1)
		b.logger.Error("bridge exhausted",
			"backend", b.backend.Kind(),
			"failures", b.binding.ConsecutiveFailures,
			"error", err,
		)
		return true
	}

	b.setStateLocked(StateDisconnected)
	b.logger.Warn("bridge connection failure",
		"backend", b.backend.Kind(),
		"failures", b.binding.ConsecutiveFailures,
		"max_retries", b.opts.MaxRetries,
		"error", err,
	)
	return false
}

// setStateLocked must be called with mu held. Exhausted is terminal.
func (b *Bridge) setStateLocked(s State) {
	if b.binding.State == StateExhausted || b.binding.State == s {
		return
	}
	b.binding.State = s
	b.binding.ChangedAt = time.Now()
}

func (b *Bridge) exhaustedError(cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %w", ErrConnection, ErrExhausted)
	}
	return fmt.Errorf("%w: %w: %w", ErrConnection, ErrExhausted, cause)
}

func (b *Bridge) loggerSnapshot() Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
