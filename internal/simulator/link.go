package simulator

import (
	"context"
	"sync"
	"time"
)

// Link is the controller side of a simulated device connection. It
// satisfies protocol.Link.
type Link struct {
	device *Device

	mu      sync.Mutex
	frames  chan []byte
	closed  bool
	opens   int
	dropped int
}

// Open succeeds unless the device is offline.
func (l *Link) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.opens++

	if l.device.isOffline() {
		return ErrOffline
	}
	return nil
}

// Write hands frame to the device. Replies arrive on Frames.
func (l *Link) Write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrLinkClosed
	}
	if l.device.isOffline() {
		return ErrOffline
	}

	l.device.handle(append([]byte(nil), frame...))
	return nil
}

// Frames delivers acks and reports from the device.
func (l *Link) Frames() <-chan []byte { return l.frames }

// Close closes Frames. Safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.frames)
	}
	return nil
}

// Opens returns how many times Open was called.
func (l *Link) Opens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens
}

// Dropped returns how many frames were discarded because the buffer was
// full or the link was closed.
func (l *Link) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

func (l *Link) deliver(frame []byte, latency time.Duration) {
	if latency > 0 {
		time.AfterFunc(latency, func() { l.push(frame) })
		return
	}
	l.push(frame)
}

func (l *Link) push(frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.dropped++
		return
	}
	select {
	case l.frames <- frame:
	default:
		l.dropped++
	}
}

func (d *Device) isOffline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offline
}
