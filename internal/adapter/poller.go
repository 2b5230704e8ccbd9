package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-integration/internal/protocol"
)

// Start launches the receive poller. Calling Start on a running adapter is a
// no-op. The poller stops when ctx is cancelled or Stop is called.
func (b *base) Start(ctx context.Context) error {
	b.pollMu.Lock()
	defer b.pollMu.Unlock()

	if b.running {
		return nil
	}

	pollCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true

	b.pollWG.Add(1)
	go b.poll(pollCtx)

	b.logger.Debug("adapter poller started", "device_id", b.id, "interval", b.opts.PollInterval)
	return nil
}

// Stop halts the receive poller and waits for it to exit. Safe to call
// repeatedly.
func (b *base) Stop() {
	b.pollMu.Lock()
	if !b.running {
		b.pollMu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.cancel = nil
	b.pollMu.Unlock()

	cancel()
	b.pollWG.Wait()
}

func (b *base) poll(ctx context.Context) {
	defer b.pollWG.Done()

	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drain(ctx)
		}
	}
}

// drain reads up to MaxEventsPerPoll events from the bridge, stopping early
// when the bridge has nothing more to give.
func (b *base) drain(ctx context.Context) {
	for range b.opts.MaxEventsPerPoll {
		if ctx.Err() != nil {
			return
		}

		ev, err := b.bridge.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				b.logger.Debug("receive skipped", "device_id", b.id, "error", err)
			}
			return
		}
		if ev == nil {
			return
		}
		b.handleReport(ev)
	}
}

// handleReport turns an unsolicited device report into a status event. Acks
// arriving out of band carry no new state and are ignored.
func (b *base) handleReport(ev *protocol.RawEvent) {
	if ev.Kind != protocol.EventReport {
		return
	}
	if !b.accepts[ev.Attribute] {
		b.logger.Debug("ignoring report for foreign attribute",
			"device_id", b.id,
			"category", b.category,
			"attribute", ev.Attribute,
		)
		return
	}

	b.reportsReceived.Add(1)

	at := ev.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	b.notify(StatusEvent{
		DeviceID:  b.id,
		Attribute: ev.Attribute,
		Value:     ev.Value,
		Timestamp: at,
	})
}
