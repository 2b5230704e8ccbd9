package protocol

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies a backend variant.
type Kind string

// Supported backend variants.
const (
	KindLumen Kind = "lumen"
	KindKNX   Kind = "knx"
	KindHue   Kind = "hue"
)

// AllKinds lists the closed set of backend variants.
var AllKinds = []Kind{KindLumen, KindKNX, KindHue}

// ParseKind converts a configuration string into a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Backend talks one manufacturer's wire protocol to one device.
//
// The bridge owns exactly one Backend and is the only caller of Connect.
type Backend interface {
	// Kind returns the backend variant.
	Kind() Kind

	// Connect opens the underlying link. Calling Connect on a connected
	// backend is a no-op that reports AlreadyConnected.
	Connect(ctx context.Context) (ConnectionResult, error)

	// SendCommand encodes cmd, writes it and waits for the device's ack.
	// Returns ErrDisconnected when not connected and ErrMalformed when the
	// command cannot be expressed in this backend's wire format.
	SendCommand(ctx context.Context, cmd Command) (Ack, error)

	// ReceiveData returns the next unsolicited event, or nil when none
	// arrived within the read timeout or before ctx is done.
	ReceiveData(ctx context.Context) (*RawEvent, error)

	// IsConnected reports the link state as the backend last observed it.
	IsConnected() bool

	// Stats returns a snapshot of the backend's counters.
	Stats() Stats

	// Close releases the link. The backend cannot be reused afterwards.
	Close() error
}

// Link is the black-box transport beneath a backend. It is the only place
// real I/O happens.
type Link interface {
	// Open establishes the transport. It may be called again after a failure.
	Open(ctx context.Context) error

	// Write sends one frame to the device.
	Write(ctx context.Context, frame []byte) error

	// Frames delivers inbound frames. The channel lives as long as the link
	// and is closed by Close.
	Frames() <-chan []byte

	// Close shuts the transport down.
	Close() error
}

// Codec is a manufacturer's translation table between the generic vocabulary
// and its wire syntax.
//
// EncodeCommand and Decode are used on the controller side. DecodeCommand,
// EncodeAck and EncodeReport are the device side and are used by simulated
// devices and round-trip tests.
type Codec interface {
	EncodeCommand(cmd Command) ([]byte, error)
	Decode(frame []byte) (*RawEvent, error)

	DecodeCommand(frame []byte) (Command, error)
	EncodeAck(cmd Command) ([]byte, error)
	EncodeReport(attribute string, value Value) ([]byte, error)
}

// ConnectionResult describes the outcome of a successful Connect.
type ConnectionResult struct {
	Kind             Kind
	AlreadyConnected bool
	ConnectedAt      time.Time
}

// Stats holds backend counters.
type Stats struct {
	Kind             Kind      `json:"kind"`
	Connected        bool      `json:"connected"`
	Connects         uint64    `json:"connects"`
	CommandsSent     uint64    `json:"commands_sent"`
	CommandsFailed   uint64    `json:"commands_failed"`
	AcksReceived     uint64    `json:"acks_received"`
	StrayAcks        uint64    `json:"stray_acks"`
	Reports          uint64    `json:"reports"`
	ReportsDropped   uint64    `json:"reports_dropped"`
	DecodeErrors     uint64    `json:"decode_errors"`
	LastCommandAt    time.Time `json:"last_command_at,omitzero"`
	LastDisconnectAt time.Time `json:"last_disconnect_at,omitzero"`
}

// Default timing and sizing.
const (
	DefaultAckTimeout  = 5 * time.Second
	DefaultReadTimeout = 250 * time.Millisecond
	DefaultQueueSize   = 64
)

// Options configures a backend.
type Options struct {
	// AckTimeout bounds the wait for an acknowledgement when the caller's
	// context has no earlier deadline.
	AckTimeout time.Duration

	// ReadTimeout bounds a single ReceiveData call.
	ReadTimeout time.Duration

	// QueueSize is the capacity of the unsolicited report queue. When full,
	// the oldest report is dropped.
	QueueSize int

	Logger Logger
}

func (o *Options) applyDefaults() {
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
}

// CodecFor returns the translation table for a backend kind.
func CodecFor(kind Kind) (Codec, error) {
	switch kind {
	case KindLumen:
		return LumenCodec{}, nil
	case KindKNX:
		return KNXCodec{}, nil
	case KindHue:
		return HueCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// New constructs the backend variant selected by kind over link.
func New(kind Kind, link Link, opts Options) (Backend, error) {
	if link == nil {
		return nil, fmt.Errorf("protocol: link is required")
	}
	codec, err := CodecFor(kind)
	if err != nil {
		return nil, err
	}
	return newEngine(kind, codec, link, opts), nil
}

// Logger defines the logging interface used by backends.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
