// Package energy implements an RMS-energy Voice Activity Detector.
//
// The detector classifies each frame by its scaled root-mean-square amplitude:
// frames above the configured threshold count as speech and reset the silence
// counter; sub-threshold frames after observed speech increment it. When the
// counter reaches the configured silence window the session emits a single
// silence signal and re-arms.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/susurrus-chat/susurrus/pkg/vad"
)

// rmsScale maps normalized RMS (0–1 for full-scale int16) onto the 0–300
// amplitude scale the thresholds are expressed in.
const rmsScale = 300

// Engine implements [vad.Engine] with pure-Go energy analysis. The zero value
// is ready to use.
type Engine struct{}

// New returns a ready Engine.
func New() *Engine {
	return &Engine{}
}

// NewSession validates cfg and returns an energy-analysis session.
func (e *Engine) NewSession(cfg vad.Config) (vad.Session, error) {
	var errs []error
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("energy: sample_rate %d must be positive", cfg.SampleRate))
	}
	if cfg.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("energy: frame_size %d must be positive", cfg.FrameSize))
	}
	if cfg.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("energy: threshold %.2f must not be negative", cfg.EnergyThreshold))
	}
	if cfg.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("energy: silence_duration %v must be positive", cfg.SilenceDuration))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &session{
		threshold:      cfg.EnergyThreshold,
		requiredSilent: cfg.RequiredSilentFrames(),
	}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// session holds the per-recording detection state.
type session struct {
	threshold      float64
	requiredSilent int

	mu           sync.Mutex
	speaking     bool
	silentFrames int
	closed       bool
}

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: session closed")

// ProcessFrame computes the frame's scaled RMS amplitude and applies the
// speaking-latch state machine. The silence signal fires only after at least
// one frame exceeded the threshold, and at most once per latch: firing resets
// both the latch and the counter so a later utterance in the same recording
// can trigger it again.
func (s *session) ProcessFrame(frame []byte) (vad.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Signal{}, ErrClosed
	}
	if len(frame)%2 != 0 {
		return vad.Signal{}, fmt.Errorf("energy: frame length %d is not int16-aligned", len(frame))
	}
	if len(frame) == 0 {
		return vad.Signal{}, nil
	}

	amplitude := scaledRMS(frame)

	if amplitude > s.threshold {
		s.silentFrames = 0
		if !s.speaking {
			s.speaking = true
			return vad.Signal{Type: vad.SignalSpeechStart, Energy: amplitude}, nil
		}
		return vad.Signal{Type: vad.SignalNone, Energy: amplitude}, nil
	}

	// Sub-threshold frame. Leading silence before any speech is ignored.
	if !s.speaking {
		return vad.Signal{Type: vad.SignalNone, Energy: amplitude}, nil
	}

	s.silentFrames++
	if s.silentFrames >= s.requiredSilent {
		s.speaking = false
		s.silentFrames = 0
		return vad.Signal{Type: vad.SignalSilenceDetected, Energy: amplitude}, nil
	}
	return vad.Signal{Type: vad.SignalNone, Energy: amplitude}, nil
}

// Reset clears the speaking latch and silence counter.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.silentFrames = 0
}

// Close marks the session closed. Safe to call more than once.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure session implements vad.Session at compile time.
var _ vad.Session = (*session)(nil)

// scaledRMS computes the root-mean-square of the int16 samples in frame,
// normalized to [0, 1] and scaled by rmsScale.
func scaledRMS(frame []byte) float64 {
	n := len(frame) / 2
	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := float64(int16(frame[i*2])|int16(frame[i*2+1])<<8) / 32768
		sumSquares += sample * sample
	}
	return math.Sqrt(sumSquares/float64(n)) * rmsScale
}
