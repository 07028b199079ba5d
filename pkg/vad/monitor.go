package vad

import (
	"log/slog"
	"sync"

	"github.com/susurrus-chat/susurrus/pkg/audio"
)

// signalBuffer is the depth of the monitor's outbound signal channel. Signals
// are rare (a handful per recording); the buffer only absorbs a briefly busy
// consumer.
const signalBuffer = 8

// Monitor runs a [Session] as a bounded-message actor: it consumes frames from
// a capture tee on its own goroutine and emits detection signals on a channel,
// so detection work never runs on — and never blocks — the capture path or the
// UI path.
//
// Lifecycle is paired with the recording session that owns the tee: when the
// tee closes (capture stopped), the monitor closes its session and its signal
// channel. Close tears the monitor down early; the tee keeps draining so the
// producer is never blocked.
type Monitor struct {
	signals  chan Signal
	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor starts a monitor feeding frames to sess. The monitor takes
// ownership of sess and closes it on teardown.
func NewMonitor(sess Session, frames <-chan audio.AudioFrame) *Monitor {
	m := &Monitor{
		signals: make(chan Signal, signalBuffer),
		done:    make(chan struct{}),
	}
	go m.run(sess, frames)
	return m
}

// Signals returns the channel emitting detection signals. The channel is
// closed when the frame source closes or the monitor is closed.
func (m *Monitor) Signals() <-chan Signal {
	return m.signals
}

// Close tears the monitor down without waiting for the frame source to close.
// Safe to call more than once; safe to call concurrently with signal delivery.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.done) })
}

// run is the actor loop.
func (m *Monitor) run(sess Session, frames <-chan audio.AudioFrame) {
	defer close(m.signals)
	defer func() { _ = sess.Close() }()

	for {
		select {
		case <-m.done:
			// Detach: keep the producer unblocked until the tee closes.
			go audio.Drain(frames)
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			sig, err := sess.ProcessFrame(frame.Data)
			if err != nil {
				slog.Warn("vad monitor: dropping frame", "err", err)
				continue
			}
			if sig.Type == SignalNone {
				continue
			}
			select {
			case m.signals <- sig:
			default:
				// Consumer behind — detection signals are droppable; a
				// missed silence signal only delays manual stop.
			}
		}
	}
}
