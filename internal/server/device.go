package server

import (
	"context"
	"errors"
	"sync"

	"github.com/susurrus-chat/susurrus/pkg/audio"
)

// streamBuffer is the depth of a connection stream's frame channel. Sized for
// a few hundred milliseconds of small analysis frames so a slow consumer
// never stalls the read loop.
const streamBuffer = 256

// wsDevice adapts a WebSocket connection into an [audio.Device]: the embedding
// page captures the microphone and ships PCM frames as binary messages, and
// the connection's read loop pushes them into whichever stream is currently
// open.
//
// Open may be called once per recording; the capture session owns the
// returned stream's lifecycle.
type wsDevice struct {
	sampleRate int
	channels   int

	mu  sync.Mutex
	cur *wsStream
}

func newWSDevice(sampleRate, channels int) *wsDevice {
	return &wsDevice{sampleRate: sampleRate, channels: channels}
}

// Open starts a fresh frame stream for one recording.
func (d *wsDevice) Open(_ context.Context) (audio.Stream, error) {
	st := &wsStream{frames: make(chan audio.AudioFrame, streamBuffer)}
	d.mu.Lock()
	d.cur = st
	d.mu.Unlock()
	return st, nil
}

// Push routes one PCM frame from the read loop into the open stream. Frames
// arriving while no recording is open are dropped.
func (d *wsDevice) Push(data []byte) {
	d.mu.Lock()
	st := d.cur
	d.mu.Unlock()
	if st == nil {
		return
	}
	st.push(audio.AudioFrame{Data: data, SampleRate: d.sampleRate, Channels: d.channels})
}

// Fail terminates the open stream with err, simulating device loss when the
// connection drops mid-recording.
func (d *wsDevice) Fail(err error) {
	d.mu.Lock()
	st := d.cur
	d.cur = nil
	d.mu.Unlock()
	if st != nil {
		st.fail(err)
	}
}

// Ensure wsDevice implements audio.Device at compile time.
var _ audio.Device = (*wsDevice)(nil)

// wsStream is one recording's frame source.
type wsStream struct {
	frames chan audio.AudioFrame

	mu     sync.Mutex
	err    error
	closed bool
}

// Frames implements audio.Stream.
func (s *wsStream) Frames() <-chan audio.AudioFrame {
	return s.frames
}

// Err implements audio.Stream.
func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements audio.Stream. Idempotent.
func (s *wsStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

func (s *wsStream) push(frame audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.frames <- frame:
	default:
		// Consumer stalled; drop rather than block the read loop.
	}
}

func (s *wsStream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err == nil {
		err = errors.New("server: connection lost")
	}
	s.err = err
	s.closed = true
	close(s.frames)
}
