package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// engine is the connection and dispatch machinery shared by every backend
// variant. Variants differ only in their Codec.
//
// A single dispatcher goroutine reads the link's frames. Acknowledgements are
// handed to the one outstanding SendCommand; reports go to a bounded queue
// drained by ReceiveData.
type engine struct {
	kind   Kind
	codec  Codec
	link   Link
	opts   Options
	logger Logger

	connectMu sync.Mutex
	connected atomic.Bool
	closed    atomic.Bool

	// sendSlot admits one outstanding command at a time.
	sendSlot chan struct{}

	pendingMu sync.Mutex
	pending   chan *RawEvent

	reports chan *RawEvent

	dispatchOnce sync.Once
	done         chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup

	connects       atomic.Uint64
	commandsSent   atomic.Uint64
	commandsFailed atomic.Uint64
	acksReceived   atomic.Uint64
	strayAcks      atomic.Uint64
	reportsIn      atomic.Uint64
	reportsDropped atomic.Uint64
	decodeErrors   atomic.Uint64

	timesMu          sync.Mutex
	lastCommandAt    time.Time
	lastDisconnectAt time.Time
}

// pendingAckBuffer holds acks that arrive while SendCommand is still
// discarding a stale one.
const pendingAckBuffer = 4

func newEngine(kind Kind, codec Codec, link Link, opts Options) *engine {
	opts.applyDefaults()
	return &engine{
		kind:     kind,
		codec:    codec,
		link:     link,
		opts:     opts,
		logger:   opts.Logger,
		sendSlot: make(chan struct{}, 1),
		reports:  make(chan *RawEvent, opts.QueueSize),
		done:     make(chan struct{}),
	}
}

// Kind returns the backend variant.
func (e *engine) Kind() Kind { return e.kind }

// IsConnected reports whether the link is believed to be up.
func (e *engine) IsConnected() bool { return e.connected.Load() }

// Connect opens the link if it is not already open.
func (e *engine) Connect(ctx context.Context) (ConnectionResult, error) {
	if e.closed.Load() {
		return ConnectionResult{}, ErrClosed
	}

	e.connectMu.Lock()
	defer e.connectMu.Unlock()

	if e.connected.Load() {
		return ConnectionResult{Kind: e.kind, AlreadyConnected: true, ConnectedAt: time.Now()}, nil
	}

	if err := e.link.Open(ctx); err != nil {
		return ConnectionResult{}, fmt.Errorf("%w: opening %s link: %w", ErrTransport, e.kind, err)
	}

	e.connected.Store(true)
	e.connects.Add(1)
	e.dispatchOnce.Do(func() {
		e.wg.Add(1)
		go e.dispatch()
	})

	e.logger.Debug("backend connected", "kind", e.kind)
	return ConnectionResult{Kind: e.kind, ConnectedAt: time.Now()}, nil
}

// SendCommand encodes and writes cmd, then waits for the matching ack.
//
// Only an ack for the same operation and arguments completes the command.
// Acks for anything else, typically a command that timed out earlier, are
// counted as stray and skipped. A rejection carries no arguments, so it is
// attributed to the outstanding command unless it names another operation.
//
// The wait is bounded by the earlier of ctx's deadline and AckTimeout. A
// missing ack marks the backend disconnected.
func (e *engine) SendCommand(ctx context.Context, cmd Command) (Ack, error) {
	if e.closed.Load() {
		return Ack{}, fmt.Errorf("%w: %w", ErrDisconnected, ErrClosed)
	}
	if !e.connected.Load() {
		return Ack{}, ErrDisconnected
	}

	frame, err := e.codec.EncodeCommand(cmd)
	if err != nil {
		e.commandsFailed.Add(1)
		if !errors.Is(err, ErrMalformed) {
			err = fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return Ack{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.AckTimeout)
	defer cancel()

	select {
	case e.sendSlot <- struct{}{}:
		defer func() { <-e.sendSlot }()
	case <-waitCtx.Done():
		e.commandsFailed.Add(1)
		return Ack{}, fmt.Errorf("%w: waiting for send slot: %w", ErrTransport, waitCtx.Err())
	}

	ackCh := make(chan *RawEvent, pendingAckBuffer)
	e.setPending(ackCh)
	defer e.setPending(nil)

	if err := e.link.Write(waitCtx, frame); err != nil {
		e.commandsFailed.Add(1)
		e.markDisconnected("write failed")
		return Ack{}, fmt.Errorf("%w: writing %s: %w", ErrTransport, cmd.Operation(), err)
	}
	e.commandsSent.Add(1)
	e.timesMu.Lock()
	e.lastCommandAt = time.Now()
	e.timesMu.Unlock()

	for {
		select {
		case ev := <-ackCh:
			if ev.Reason != "" && (ev.Operation == "" || ev.Operation == cmd.Operation()) {
				e.commandsFailed.Add(1)
				return Ack{}, fmt.Errorf("%w: device rejected %s: %s", ErrMalformed, cmd.Operation(), ev.Reason)
			}
			ack := ackFromEvent(ev)
			if ev.Reason == "" && ack.Matches(cmd) {
				e.acksReceived.Add(1)
				return ack, nil
			}
			// A late ack for an earlier command that gave up waiting.
			e.strayAcks.Add(1)
			e.logger.Debug("ignoring ack for another command",
				"kind", e.kind, "ack", ack.Command().String(), "waiting_for", cmd.String())

		case <-waitCtx.Done():
			e.commandsFailed.Add(1)
			e.markDisconnected("ack timeout")
			return Ack{}, fmt.Errorf("%w: %w: %s: %w", ErrTransport, ErrAckTimeout, cmd.Operation(), waitCtx.Err())

		case <-e.done:
			return Ack{}, fmt.Errorf("%w: %w", ErrDisconnected, ErrClosed)
		}
	}
}

// ReceiveData returns the next queued report, or nil if none arrives within
// ReadTimeout or before ctx is done.
func (e *engine) ReceiveData(ctx context.Context) (*RawEvent, error) {
	select {
	case ev := <-e.reports:
		return ev, nil
	default:
	}

	if e.closed.Load() {
		return nil, ErrClosed
	}

	timer := time.NewTimer(e.opts.ReadTimeout)
	defer timer.Stop()

	select {
	case ev := <-e.reports:
		return ev, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, nil
	case <-e.done:
		return nil, ErrClosed
	}
}

// Stats returns a snapshot of the counters.
func (e *engine) Stats() Stats {
	e.timesMu.Lock()
	lastCmd, lastDisc := e.lastCommandAt, e.lastDisconnectAt
	e.timesMu.Unlock()

	return Stats{
		Kind:             e.kind,
		Connected:        e.connected.Load(),
		Connects:         e.connects.Load(),
		CommandsSent:     e.commandsSent.Load(),
		CommandsFailed:   e.commandsFailed.Load(),
		AcksReceived:     e.acksReceived.Load(),
		StrayAcks:        e.strayAcks.Load(),
		Reports:          e.reportsIn.Load(),
		ReportsDropped:   e.reportsDropped.Load(),
		DecodeErrors:     e.decodeErrors.Load(),
		LastCommandAt:    lastCmd,
		LastDisconnectAt: lastDisc,
	}
}

// Close stops the dispatcher and closes the link. Safe to call repeatedly.
func (e *engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		err = e.link.Close()
		e.wg.Wait()
		e.connected.Store(false)
	})
	return err
}

func (e *engine) setPending(ch chan *RawEvent) {
	e.pendingMu.Lock()
	e.pending = ch
	e.pendingMu.Unlock()
}

func (e *engine) markDisconnected(reason string) {
	if e.connected.CompareAndSwap(true, false) {
		e.timesMu.Lock()
		e.lastDisconnectAt = time.Now()
		e.timesMu.Unlock()
		e.logger.Warn("backend disconnected", "kind", e.kind, "reason", reason)
	}
}

func (e *engine) dispatch() {
	defer e.wg.Done()

	frames := e.link.Frames()
	for {
		select {
		case <-e.done:
			return
		case frame, ok := <-frames:
			if !ok {
				e.markDisconnected("link closed")
				return
			}
			e.handleFrame(frame)
		}
	}
}

func (e *engine) handleFrame(frame []byte) {
	ev, err := e.codec.Decode(frame)
	if err != nil {
		e.decodeErrors.Add(1)
		e.logger.Debug("dropping undecodable frame", "kind", e.kind, "error", err, "size", len(frame))
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	ev.Payload = frame

	switch ev.Kind {
	case EventAck:
		e.pendingMu.Lock()
		ch := e.pending
		e.pendingMu.Unlock()

		if ch == nil {
			e.strayAcks.Add(1)
			return
		}
		select {
		case ch <- ev:
		default:
			e.strayAcks.Add(1)
		}

	case EventReport:
		e.reportsIn.Add(1)
		e.enqueueReport(ev)
	}
}

// enqueueReport appends ev, discarding the oldest queued report when full.
func (e *engine) enqueueReport(ev *RawEvent) {
	for {
		select {
		case e.reports <- ev:
			return
		default:
		}
		select {
		case <-e.reports:
			e.reportsDropped.Add(1)
		default:
		}
	}
}
