// Package backend defines the contract to the chatbot backend the widget
// talks to: voice interaction, speech synthesis, text queries, summarization,
// widget configuration and feedback.
//
// The wire format is owned by the backend; this package only fixes the
// operations, their cancellation semantics and the error taxonomy the widget
// layers depend on. Every operation takes a context and must return promptly
// once it is cancelled; cancellation surfaces as [context.Canceled], never as
// [ErrNetwork].
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/susurrus-chat/susurrus/pkg/audio"
	"github.com/susurrus-chat/susurrus/pkg/chat"
)

// Sentinel errors for the failure classes the widget distinguishes. Use
// errors.Is to test; concrete errors wrap these with detail.
var (
	// ErrNetwork marks transport-level failures (DNS, connect, broken pipe).
	ErrNetwork = errors.New("backend: network error")

	// ErrBadStatus marks a non-2xx response from the backend.
	ErrBadStatus = errors.New("backend: unexpected status")
)

// StatusError is a non-2xx response. It matches [ErrBadStatus] under
// errors.Is.
type StatusError struct {
	// Op is the operation that failed, e.g. "voice-interact".
	Op string

	// Code is the HTTP status code.
	Code int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s: unexpected status %d", e.Op, e.Code)
}

// Is reports whether target is [ErrBadStatus].
func (e *StatusError) Is(target error) bool {
	return target == ErrBadStatus
}

// WidgetConfig is the per-widget configuration the backend serves to embedding
// pages. Field semantics follow the widget's recording behavior.
type WidgetConfig struct {
	// WidgetID identifies the widget this configuration belongs to.
	WidgetID string `json:"widget_id"`

	// Title is the display name shown in the widget header.
	Title string `json:"title"`

	// WelcomeMessage is shown as the first assistant message, if set.
	WelcomeMessage string `json:"welcome_message"`

	// LanguageCode is the BCP-47 language for transcripts and replies.
	LanguageCode string `json:"language_code"`

	// VadEnabled turns silence-based auto-stop on for recordings.
	VadEnabled bool `json:"vad_enabled"`

	// SilenceThreshold is the scaled RMS amplitude treated as speech.
	SilenceThreshold float64 `json:"silence_threshold"`

	// SilenceDurationMs is the silence window, in milliseconds, before a
	// recording auto-stops.
	SilenceDurationMs int `json:"silence_duration_ms"`
}

// SilenceDuration returns the silence window as a [time.Duration].
func (c WidgetConfig) SilenceDuration() time.Duration {
	return time.Duration(c.SilenceDurationMs) * time.Millisecond
}

// VoiceInteractRequest carries one finalized voice clip to the backend.
type VoiceInteractRequest struct {
	// Clip is the recorded audio. Never empty; callers skip the request for
	// empty clips.
	Clip audio.Clip

	// LanguageCode is the expected language of the clip.
	LanguageCode string

	// SessionID scopes the interaction to one conversation.
	SessionID string
}

// VoiceInteractResult is the backend's answer to a voice interaction.
type VoiceInteractResult struct {
	// Transcript is what the backend heard in the clip.
	Transcript string

	// ReplyText is the assistant's reply.
	ReplyText string

	// ReplyAudioRef references synthesized reply audio, when present. Either
	// a URL served by the backend or a reference minted by an [AudioStore]
	// for inline audio payloads.
	ReplyAudioRef string

	// MessageID is the backend's identifier for the reply message.
	MessageID string
}

// SpeechRequest asks the backend to synthesize speech for a text.
type SpeechRequest struct {
	Text         string
	LanguageCode string
}

// SpeechResult carries synthesized speech.
type SpeechResult struct {
	// AudioRef references the synthesized audio, playable through the
	// player factory.
	AudioRef string

	// MIMEType is the container format of the referenced audio.
	MIMEType string
}

// QueryRequest is a text (optionally image-grounded) question.
type QueryRequest struct {
	Text      string
	ImageRef  string
	History   []chat.Message
	SessionID string
}

// QueryResult is the backend's answer to a text query.
type QueryResult struct {
	ReplyText string
	MessageID string
}

// SummarizeRequest asks for a summary of page or document content.
type SummarizeRequest struct {
	Content        string
	ContentType    string
	TargetLanguage string
}

// SummarizeResult carries the produced summary.
type SummarizeResult struct {
	Summary   string
	MessageID string
}

// Feedback is a user rating of one assistant message.
type Feedback struct {
	MessageID string
	// Rating is +1 (helpful) or -1 (not helpful).
	Rating  int
	Comment string
}

// Client is the backend contract consumed by the widget controllers. All
// methods honor ctx cancellation and return [context.Canceled] unwrapped when
// cancelled mid-flight.
type Client interface {
	// FetchWidgetConfig loads the configuration for widgetID.
	FetchWidgetConfig(ctx context.Context, widgetID string) (WidgetConfig, error)

	// VoiceInteract uploads a voice clip and returns transcript plus reply.
	VoiceInteract(ctx context.Context, req VoiceInteractRequest) (VoiceInteractResult, error)

	// SynthesizeSpeech produces spoken audio for a text.
	SynthesizeSpeech(ctx context.Context, req SpeechRequest) (SpeechResult, error)

	// Query sends a text question with conversation history.
	Query(ctx context.Context, req QueryRequest) (QueryResult, error)

	// Summarize produces a summary of the given content.
	Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error)

	// SendFeedback records a rating for an assistant message.
	SendFeedback(ctx context.Context, fb Feedback) error
}
