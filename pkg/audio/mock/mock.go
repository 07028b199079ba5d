// Package mock provides test doubles for the audio package interfaces.
//
// Use Device to verify open behaviour and inject failures. Use Stream to push
// frames into a capture session and to simulate clean closes or mid-capture
// device failures.
//
// Example:
//
//	st := mock.NewStream()
//	dev := &mock.Device{OpenResult: st}
//	sess := audio.NewCaptureSession(dev)
//	_ = sess.Start(context.Background())
//	st.Push(audio.AudioFrame{Data: pcm, SampleRate: 48000, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/susurrus-chat/susurrus/pkg/audio"
)

// OpenCall records a single invocation of Device.Open.
type OpenCall struct{}

// Device is a mock implementation of audio.Device.
type Device struct {
	mu sync.Mutex

	// OpenResult is the Stream returned by Open. If nil and OpenErr is nil,
	// Open returns a fresh default Stream.
	OpenResult audio.Stream

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenFunc, if set, overrides the canned results. It runs outside the
	// mock's lock, so tests may block in it to hold the acquisition open
	// (simulating a pending permission prompt).
	OpenFunc func(ctx context.Context) (audio.Stream, error)

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall
}

// Open records the call and returns OpenResult, OpenErr.
func (d *Device) Open(ctx context.Context) (audio.Stream, error) {
	d.mu.Lock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{})
	fn := d.OpenFunc
	d.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if d.OpenResult != nil {
		return d.OpenResult, nil
	}
	return NewStream(), nil
}

// Ensure Device implements audio.Device at compile time.
var _ audio.Device = (*Device)(nil)

// Stream is a mock implementation of audio.Stream. Tests push frames with
// [Stream.Push] and end the stream with [Stream.Close] (clean) or
// [Stream.Fail] (mid-capture device error).
type Stream struct {
	mu sync.Mutex

	frames chan audio.AudioFrame
	err    error
	closed bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewStream creates a mock stream with a buffered frame channel.
func NewStream() *Stream {
	return &Stream{frames: make(chan audio.AudioFrame, 256)}
}

// Frames returns the mock frame channel.
func (s *Stream) Frames() <-chan audio.AudioFrame {
	return s.frames
}

// Err returns the failure injected via Fail, or nil after a clean Close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close records the call and closes the frame channel. Safe to call more
// than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Push delivers a frame to the stream's consumer. Pushing to a closed stream
// is a no-op so racy teardown in tests cannot panic.
func (s *Stream) Push(frame audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- frame
}

// Fail simulates a mid-capture device failure: the error is recorded and the
// frame channel is closed without a Close call from the owner.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.frames)
}

// Ensure Stream implements audio.Stream at compile time.
var _ audio.Stream = (*Stream)(nil)
