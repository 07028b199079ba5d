package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// capture pipeline. Frames are the atomic unit of audio transport — delivered
// by capture streams, analysed by the VAD, and accumulated into clips.
type AudioFrame struct {
	// PCM audio data, little-endian int16 samples.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for raw device capture, 16000 for VAD analysis).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Clip is a finalized, finished recording ready for transmission to the
// backend. PCM holds the concatenation of every frame captured between start
// and stop, in capture order.
type Clip struct {
	// PCM is the raw little-endian int16 audio data.
	PCM []byte

	// SampleRate and Channels describe the PCM layout.
	SampleRate int
	Channels   int

	// Duration is the wall-clock length of the recording.
	Duration time.Duration
}

// Empty reports whether the clip contains no audio data. Empty clips are never
// sent to the backend — the caller skips the network call entirely.
func (c Clip) Empty() bool {
	return len(c.PCM) == 0
}
