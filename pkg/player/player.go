// Package player defines the audio-output contract consumed by the playback
// controller.
//
// A [Player] wraps exactly one underlying audio-output resource bound to one
// audio reference. The playback controller enforces that at most one Player is
// live per widget at a time; implementations only need to manage their own
// resource and report lifecycle events.
//
// This package lives under pkg/ because external code (host-specific output
// backends, the mock package) is expected to implement [Player] and [Factory].
package player

import "time"

// Events holds the callbacks a [Player] invokes as its underlying resource
// progresses. Callbacks may be invoked from an internal goroutine — receivers
// must not block. Any field may be nil.
//
// Implementations deliver events for the lifetime of the player, including
// after a replacement player was opened; the controller discards events whose
// originating player is no longer the bound one.
type Events struct {
	// OnMetadata fires once the media's duration is known.
	OnMetadata func(duration time.Duration)

	// OnTime fires as the playback position advances.
	OnTime func(position time.Duration)

	// OnPlay fires when playback actually starts or resumes.
	OnPlay func()

	// OnPause fires when playback pauses for any reason other than Close.
	OnPause func()

	// OnEnded fires when playback reaches the end of the media.
	OnEnded func()

	// OnError fires when the resource fails (load or decode error).
	OnError func(err error)
}

// Player is an open audio-output resource. Obtained from [Factory.Open] and
// valid until [Player.Close].
type Player interface {
	// Play starts or resumes playback. Returns an error when the media cannot
	// be started.
	Play() error

	// Pause suspends playback, retaining the current position.
	Pause()

	// SetPosition moves the playhead. The caller guarantees the position is
	// within [0, duration].
	SetPosition(position time.Duration)

	// Close releases the underlying output resource, including any temporary
	// decoded-audio buffer. Idempotent: closing an already-closed player is a
	// no-op returning nil. No events fire after Close returns.
	Close() error
}

// Factory opens players for audio references (URLs or in-memory payload
// handles returned by the backend).
//
// Implementations must be safe for concurrent use.
type Factory interface {
	// Open creates a player bound to audioRef and starts loading its
	// metadata. ev receives the player's lifecycle events.
	Open(audioRef string, ev Events) (Player, error)
}
