// Package chat defines the shared conversation types used across all Susurrus
// packages.
//
// These types form the lingua franca between the capture layer, the voice
// interaction controller, the playback controller, and the UI surfaces. They
// are intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a [Message].
type Role string

const (
	// RoleUser marks a message authored by the end user (typed, spoken, or
	// image-augmented input).
	RoleUser Role = "user"

	// RoleAssistant marks a message authored by the chatbot backend, including
	// inline error messages surfaced in the transcript.
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// InputMethod records how the user produced their most recent request. The
// playback controller reads it exactly once per response to decide whether
// synthesized reply audio auto-plays: only voice-originated requests do.
type InputMethod string

const (
	// InputVoice means the request originated from a finished voice recording.
	InputVoice InputMethod = "voice"

	// InputText means the request originated from typed text, optionally with
	// an attached image.
	InputText InputMethod = "text"
)

// Message is a single entry in a widget conversation transcript.
type Message struct {
	// ID uniquely identifies the message within its session. Backend-assigned
	// when present in a response, otherwise generated locally via [NewMessageID].
	ID string

	// Role is the message author.
	Role Role

	// Content is the text content.
	Content string

	// AudioRef references synthesized reply audio bound to this message, when
	// the backend returned any. Empty for user messages and audio-less replies.
	AudioRef string

	// Input records how the request that produced this message originated.
	// Set on user messages and carried over to the reply they elicited, so
	// the auto-play decision can be made per response.
	Input InputMethod

	// IsError marks assistant-role messages that represent an inline error
	// rather than a genuine reply. Error messages never carry audio.
	IsError bool

	// Timestamp is when the message entered the transcript.
	Timestamp time.Time
}

// NewMessageID returns a fresh locally-generated message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// NewSessionID returns a fresh widget session identifier.
func NewSessionID() string {
	return uuid.NewString()
}
