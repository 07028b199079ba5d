// Package audio defines the interfaces and types for microphone capture within
// Susurrus.
//
// The two primary abstractions are:
//
//   - [Device] — requests access to an audio input and returns a [Stream].
//   - [Stream] — an open input delivering [AudioFrame] values until closed.
//
// On top of these, [CaptureSession] implements the recording lifecycle used by
// the voice interaction controller: it owns the stream exclusively, accumulates
// frames into a [Clip], and can tee live frames to a voice-activity detector
// without ever handing the detector control over the stream.
//
// Implementations of [Device] are provided by host-specific adapter packages
// (a browser bridge, a desktop capture backend, the mock package for tests).
// This package lives under pkg/ because external code is expected to implement
// [Device] and [Stream].
package audio

import (
	"context"
	"errors"
)

// Sentinel errors a [Device] must classify its failures into. Callers use
// errors.Is against these to decide what status to surface.
var (
	// ErrPermissionDenied indicates the user or host refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable indicates no usable input device exists or the
	// device is busy.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")
)

// Stream is an open audio input. It is obtained from [Device.Open] and remains
// valid until [Stream.Close] is called.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the channel delivering captured frames. The channel is
	// closed when the stream terminates, either because Close was called or
	// because the underlying device failed mid-capture.
	Frames() <-chan AudioFrame

	// Err reports why the frame channel closed. It returns nil after a clean
	// Close and the device failure otherwise. Only meaningful once Frames()
	// is closed.
	Err() error

	// Close releases the underlying hardware resources (every track). It is
	// idempotent; calling Close on an already-closed stream is a no-op
	// returning nil.
	Close() error
}

// Device is the entry point for an audio input provider. Implementations wrap
// host-specific capture APIs and expose a uniform [Stream] abstraction.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open requests access to the input device and starts capture. The
	// supplied ctx governs the access request only (e.g. a permission prompt);
	// once open, the Stream remains alive until [Stream.Close].
	//
	// Failures are classified via [ErrPermissionDenied] and
	// [ErrDeviceUnavailable].
	Open(ctx context.Context) (Stream, error)
}
