package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-integration/internal/infrastructure/mqtt"
)

// DefaultFrameBuffer is the inbound frame capacity of an MQTTLink.
const DefaultFrameBuffer = 64

var (
	// ErrLinkClosed is returned when a closed link is used.
	ErrLinkClosed = errors.New("transport: link closed")

	// ErrBrokerDown is returned by Open and Write while the broker
	// connection is down.
	ErrBrokerDown = errors.New("transport: broker not connected")
)

// Broker is the subset of the MQTT client a link needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// MQTTLink is a protocol.Link over an MQTT device topic.
//
// Thread Safety: all methods are safe for concurrent use.
type MQTTLink struct {
	broker   Broker
	topic    string
	setTopic string
	qos      byte

	// openMu serialises Open and Close. mu guards frames and closed and is
	// never held across a broker call.
	openMu     sync.Mutex
	subscribed bool

	mu     sync.Mutex
	frames chan []byte
	closed bool

	dropped atomic.Uint64
}

// NewMQTTLink creates a link for the device reachable at topic.
//
// Parameters:
//   - broker: Shared broker connection
//   - topic: The device topic; commands go to topic + "/set"
//   - qos: QoS for both directions (0-2)
func NewMQTTLink(broker Broker, topic string, qos byte) (*MQTTLink, error) {
	if broker == nil {
		return nil, errors.New("transport: broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("transport: %w", mqtt.ErrInvalidTopic)
	}
	return &MQTTLink{
		broker:   broker,
		topic:    topic,
		setTopic: mqtt.SetTopic(topic),
		qos:      qos,
		frames:   make(chan []byte, DefaultFrameBuffer),
	}, nil
}

// Topic returns the device topic.
func (l *MQTTLink) Topic() string { return l.topic }

// Open subscribes to the device topic. Reopening an open link only checks
// the broker connection.
func (l *MQTTLink) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.openMu.Lock()
	defer l.openMu.Unlock()

	if l.isClosed() {
		return ErrLinkClosed
	}
	if !l.broker.IsConnected() {
		return ErrBrokerDown
	}
	if l.subscribed {
		return nil
	}

	if err := l.broker.Subscribe(l.topic, l.qos, l.receive); err != nil {
		return fmt.Errorf("subscribing to %s: %w", l.topic, err)
	}
	l.subscribed = true
	return nil
}

// Write publishes frame to the device's set topic.
func (l *MQTTLink) Write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if l.isClosed() {
		return ErrLinkClosed
	}
	if !l.broker.IsConnected() {
		return ErrBrokerDown
	}
	return l.broker.Publish(l.setTopic, frame, l.qos, false)
}

// Frames delivers payloads published on the device topic.
func (l *MQTTLink) Frames() <-chan []byte { return l.frames }

// Dropped returns how many inbound frames were discarded because the buffer
// was full.
func (l *MQTTLink) Dropped() uint64 { return l.dropped.Load() }

// Close unsubscribes and closes Frames. Safe to call more than once.
func (l *MQTTLink) Close() error {
	l.openMu.Lock()
	defer l.openMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.frames)
	l.mu.Unlock()

	if !l.subscribed {
		return nil
	}
	l.subscribed = false
	if !l.broker.IsConnected() {
		return nil
	}
	return l.broker.Unsubscribe(l.topic)
}

func (l *MQTTLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *MQTTLink) receive(_ string, payload []byte) error {
	frame := append([]byte(nil), payload...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	select {
	case l.frames <- frame:
	default:
		l.dropped.Add(1)
	}
	return nil
}
