package audio

import (
	"context"
	"errors"
	"sync"
	"time"
)

// SessionState enumerates the lifecycle states of a [CaptureSession].
type SessionState int

const (
	// StateIdle means no capture is active. The initial and terminal state.
	StateIdle SessionState = iota

	// StateRequesting means device access is being awaited (permission prompt).
	StateRequesting

	// StateRecording means frames are being captured and accumulated.
	StateRecording

	// StateStopping means Stop was called and the pump is draining.
	StateStopping

	// StateErrored means the device failed mid-capture. The stream has been
	// forcibly released; the frames captured so far remain retrievable via
	// [CaptureSession.Stop].
	StateErrored
)

// String returns the human-readable name of the state.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ErrSessionActive is returned by [CaptureSession.Start] when the session is
// not in the idle state. Exactly one capture may be active per session.
var ErrSessionActive = errors.New("audio: capture session already active")

// ErrTeeTaken is returned by [CaptureSession.Tee] when a tee channel has
// already been handed out for this session.
var ErrTeeTaken = errors.New("audio: tee already taken")

// ErrCaptureAborted is returned by [CaptureSession.Start] when Stop was called
// while device access was still pending. Any stream the device produced in the
// meantime has been released.
var ErrCaptureAborted = errors.New("audio: capture aborted during device acquisition")

// defaultTeeBuffer is the frame buffer depth of the tee channel. Sized so a
// briefly stalled consumer does not cause frame drops during normal speech.
const defaultTeeBuffer = 64

// CaptureSession wraps microphone acquisition and accumulation of a single
// recorded clip. It is the sole owner of the underlying [Stream]: consumers
// of the tee never control the hardware lifecycle.
//
// A session is single-use: Start, optionally Tee, then Stop. All methods are
// safe for concurrent use.
type CaptureSession struct {
	dev     Device
	onError func(error)
	teeBuf  int

	mu         sync.Mutex
	state      SessionState
	aborted    bool
	stream     Stream
	chunks     [][]byte
	sampleRate int
	channels   int
	startedAt  time.Time
	clip       *Clip
	tee        chan AudioFrame
	pumpDone   chan struct{}
}

// SessionOption is a functional option for [NewCaptureSession].
type SessionOption func(*CaptureSession)

// WithErrorHandler registers cb to be invoked once if the device fails
// mid-capture. The callback runs on the session's pump goroutine — it must
// not block.
func WithErrorHandler(cb func(error)) SessionOption {
	return func(s *CaptureSession) { s.onError = cb }
}

// WithTeeBuffer overrides the tee channel buffer depth. Default is 64 frames.
func WithTeeBuffer(n int) SessionOption {
	return func(s *CaptureSession) { s.teeBuf = n }
}

// NewCaptureSession creates a session that records from dev.
func NewCaptureSession(dev Device, opts ...SessionOption) *CaptureSession {
	s := &CaptureSession{
		dev:    dev,
		teeBuf: defaultTeeBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *CaptureSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start requests device access and begins recording. Valid only from the idle
// state. The ctx governs the access request; cancel it to abandon a pending
// permission prompt.
//
// Returns an error classified via [ErrPermissionDenied] or
// [ErrDeviceUnavailable] when the device cannot be acquired, in which case the
// session returns to idle.
func (s *CaptureSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle || s.clip != nil {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.state = StateRequesting
	s.mu.Unlock()

	stream, err := s.dev.Open(ctx)

	s.mu.Lock()
	if s.aborted {
		// Stop raced the permission prompt. Nobody else holds a reference to
		// whatever the open produced, so it must be released here.
		s.aborted = false
		s.state = StateIdle
		s.mu.Unlock()
		if err == nil {
			_ = stream.Close()
		}
		return ErrCaptureAborted
	}
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateIdle
		return err
	}
	s.stream = stream
	s.state = StateRecording
	s.startedAt = time.Now()
	s.pumpDone = make(chan struct{})
	go s.pump(stream)
	return nil
}

// Tee returns a channel delivering a live copy of captured frames, converted
// to the target format, for voice-activity analysis. Frames are forwarded
// without blocking the capture path: if the consumer falls behind, frames are
// dropped rather than stalling the stream. The channel closes when capture
// ends.
//
// Tee may be taken at most once per session.
func (s *CaptureSession) Tee(target Format) (<-chan AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tee != nil {
		return nil, ErrTeeTaken
	}
	s.tee = make(chan AudioFrame, s.teeBuf)
	return ConvertStream(s.tee, target), nil
}

// Stop ends the capture, releases the underlying stream, and returns the
// finalized clip containing every chunk captured between Start and Stop, in
// order. Stopping while device access is still pending aborts the acquisition:
// the in-flight Start returns [ErrCaptureAborted] and closes the stream if one
// was opened. Stop is idempotent: calling it on an already-stopped session is
// a no-op returning the clip captured so far.
func (s *CaptureSession) Stop() Clip {
	s.mu.Lock()

	switch s.state {
	case StateRequesting:
		// The device is still being acquired. Flag the abort; Start owns the
		// eventual stream and closes it the moment the acquisition resolves.
		s.aborted = true
		s.mu.Unlock()
		return Clip{}

	case StateRecording:
		s.state = StateStopping
		stream := s.stream
		done := s.pumpDone
		s.mu.Unlock()

		// Closing the stream makes the frame channel close, which ends the
		// pump. Only the session ever closes the stream.
		_ = stream.Close()
		<-done

		s.mu.Lock()
		s.finalizeLocked()

	case StateErrored:
		// Stream already force-released by the pump.
		s.finalizeLocked()

	default:
		if s.clip == nil {
			s.mu.Unlock()
			return Clip{}
		}
	}

	clip := *s.clip
	s.mu.Unlock()
	return clip
}

// finalizeLocked concatenates the accumulated chunks into the session clip and
// returns the session to idle. Must be called with s.mu held.
func (s *CaptureSession) finalizeLocked() {
	var total int
	for _, c := range s.chunks {
		total += len(c)
	}
	pcm := make([]byte, 0, total)
	for _, c := range s.chunks {
		pcm = append(pcm, c...)
	}
	s.clip = &Clip{
		PCM:        pcm,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Duration:   time.Since(s.startedAt),
	}
	s.chunks = nil
	s.stream = nil
	s.state = StateIdle
}

// pump drains the stream's frame channel, accumulating chunks and feeding the
// tee. It runs until the frame channel closes, then classifies why.
func (s *CaptureSession) pump(stream Stream) {
	defer close(s.pumpDone)

	for frame := range stream.Frames() {
		s.mu.Lock()
		if s.state != StateRecording && s.state != StateStopping {
			s.mu.Unlock()
			continue
		}
		chunk := make([]byte, len(frame.Data))
		copy(chunk, frame.Data)
		s.chunks = append(s.chunks, chunk)
		s.sampleRate = frame.SampleRate
		s.channels = frame.Channels
		tee := s.tee
		s.mu.Unlock()

		if tee != nil {
			select {
			case tee <- frame:
			default:
				// Consumer behind — drop rather than block capture.
			}
		}
	}

	err := stream.Err()

	s.mu.Lock()
	var surface func(error)
	if s.state == StateRecording && err != nil {
		// Device failed mid-capture: force-release and surface once. No
		// automatic retry is attempted.
		s.state = StateErrored
		_ = stream.Close()
		surface = s.onError
	}
	if s.tee != nil {
		close(s.tee)
		s.tee = nil
	}
	s.mu.Unlock()

	if surface != nil {
		surface(err)
	}
}
