// Package vad defines the Engine interface for Voice Activity Detection
// backends and the actor-style Monitor that feeds one from a live capture tee.
//
// A VAD engine wraps a frame-level speech detector (here an RMS-energy
// detector; a model-based detector would fit the same contract) and surfaces
// it as a stateful, per-recording session. Each session maintains its own
// internal state (speaking latch, silence counter) so that multiple widget
// instances can record independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// detection result, making it suitable for the capture tee loop that gates
// auto-stop. The [Monitor] runs that loop on its own goroutine and converts
// results into asynchronous signals, so the detector never blocks the capture
// path waiting on UI work.
//
// Implementations must be safe for concurrent use across different sessions.
// A single Session should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"math"
	"time"
)

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame. Common values: 16000, 48000.
	SampleRate int

	// FrameSize is the number of samples per analysis frame. ProcessFrame
	// derives its silence window from this together with SampleRate.
	FrameSize int

	// EnergyThreshold is the scaled RMS amplitude above which a frame counts
	// as speech. The scale runs roughly 0–300 for full-scale int16 input;
	// typical starting value: 10.
	EnergyThreshold float64

	// SilenceDuration is how long sustained sub-threshold audio must last,
	// after speech has been observed, before the session signals silence.
	// Typical: 1500 ms.
	SilenceDuration time.Duration
}

// RequiredSilentFrames returns how many consecutive sub-threshold frames make
// up the configured silence window: ceil(silenceSeconds * sampleRate / frameSize).
// Computed once at session start.
func (c Config) RequiredSilentFrames() int {
	if c.SampleRate <= 0 || c.FrameSize <= 0 {
		return 0
	}
	framesPerSecond := float64(c.SampleRate) / float64(c.FrameSize)
	return int(math.Ceil(c.SilenceDuration.Seconds() * framesPerSecond))
}

// SignalType enumerates detection signals emitted by a session.
type SignalType int

const (
	// SignalNone indicates the frame produced no state change worth reporting.
	SignalNone SignalType = iota

	// SignalSpeechStart indicates the first frame of an utterance.
	SignalSpeechStart

	// SignalSilenceDetected indicates the silence window elapsed after
	// observed speech. Emitted at most once per utterance; the session then
	// re-arms for a subsequent utterance within the same recording.
	SignalSilenceDetected
)

// String returns the human-readable name of the signal type.
func (t SignalType) String() string {
	switch t {
	case SignalNone:
		return "none"
	case SignalSpeechStart:
		return "speech-start"
	case SignalSilenceDetected:
		return "silence-detected"
	default:
		return "unknown"
	}
}

// Signal is a detection result for a single audio frame.
type Signal struct {
	// Type is the detection result.
	Type SignalType

	// Energy is the scaled RMS amplitude of the frame that produced the signal.
	Energy float64
}

// Session represents an active VAD session for a single recording. Each
// session maintains its own detection state; Reset clears this state without
// closing the session.
//
// A Session should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety; the [Monitor] owns its session
// exclusively.
type Session interface {
	// ProcessFrame analyses a single frame of little-endian int16 PCM and
	// returns the detection result. Returns an error if the frame is
	// malformed or the session is closed.
	//
	// This method is called synchronously in the monitor loop; it must not
	// block.
	ProcessFrame(frame []byte) (Signal, error)

	// Reset clears all accumulated detection state (speaking latch, silence
	// counter) without closing the session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame must return an error. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. Implementations must be safe for
// concurrent use: multiple goroutines may call NewSession simultaneously to
// create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid or the engine cannot
	// allocate resources. A construction failure is non-fatal to recording:
	// callers degrade to manual-stop-only.
	NewSession(cfg Config) (Session, error)
}
