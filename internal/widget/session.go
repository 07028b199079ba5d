// Package widget hosts the per-instance conversation session: transcript
// history, the cancellation registry, and the voice and playback controllers
// wired together.
//
// Nothing in this package is global. Every embedding surface gets its own
// [Session] with independent state, so two widgets on the same page (or two
// WebSocket connections on the same server) never share a microphone, a
// player, or a history.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/susurrus-chat/susurrus/internal/playback"
	"github.com/susurrus-chat/susurrus/internal/request"
	"github.com/susurrus-chat/susurrus/internal/voice"
	"github.com/susurrus-chat/susurrus/pkg/audio"
	"github.com/susurrus-chat/susurrus/pkg/backend"
	"github.com/susurrus-chat/susurrus/pkg/chat"
	"github.com/susurrus-chat/susurrus/pkg/player"
	"github.com/susurrus-chat/susurrus/pkg/vad"
)

// ErrBusy is returned when an operation kind is already in flight and the
// policy for that kind is to block rather than replace.
var ErrBusy = errors.New("widget: operation already in flight")

// Sink receives the session's observable output. The WebSocket layer
// implements it to forward events to the embedding page; tests implement it
// to record them. Callbacks must return quickly and may be invoked from
// multiple goroutines.
type Sink interface {
	// OnMessage fires when a message enters or updates the transcript.
	OnMessage(msg chat.Message)

	// OnHistoryCleared fires after ClearHistory wiped the transcript.
	OnHistoryCleared()

	// OnVoiceState fires on voice interaction state transitions.
	OnVoiceState(state voice.State)

	// OnStatus forwards the transient voice status hint.
	OnStatus(status voice.Status)

	// OnPlayback fires on every playback state change.
	OnPlayback(snap playback.Snapshot)

	// OnError surfaces operational failures that are not transcript
	// messages. Never fired for cancellation.
	OnError(err error)
}

type nopSink struct{}

func (nopSink) OnMessage(chat.Message)       {}
func (nopSink) OnHistoryCleared()            {}
func (nopSink) OnVoiceState(voice.State)     {}
func (nopSink) OnStatus(voice.Status)        {}
func (nopSink) OnPlayback(playback.Snapshot) {}
func (nopSink) OnError(error)                {}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithSink sets the sink receiving session output.
func WithSink(sink Sink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithAudioStore sets the store holding inline audio payloads, so the session
// can free them when messages leave the transcript.
func WithAudioStore(store *backend.AudioStore) Option {
	return func(s *Session) {
		s.store = store
	}
}

// Session is one widget instance's conversation state.
type Session struct {
	ID string

	cfg      backend.WidgetConfig
	client   backend.Client
	sink     Sink
	store    *backend.AudioStore
	registry *request.Registry
	voice    *voice.Controller
	playback *playback.Controller

	mu      sync.Mutex
	history []chat.Message

	wg sync.WaitGroup
}

// NewSession builds a session for cfg, recording from device, detecting
// silence via engine and playing replies through factory. engine may be nil
// when the configuration disables VAD.
func NewSession(client backend.Client, device audio.Device, engine vad.Engine, factory player.Factory, cfg backend.WidgetConfig, opts ...Option) *Session {
	s := &Session{
		ID:       chat.NewSessionID(),
		cfg:      cfg,
		client:   client,
		sink:     nopSink{},
		registry: request.NewRegistry(),
	}
	for _, o := range opts {
		o(s)
	}

	s.playback = playback.NewController(factory, playback.Events{
		OnChange: func(snap playback.Snapshot) { s.sink.OnPlayback(snap) },
		OnError: func(messageID string, err error) {
			s.sink.OnError(fmt.Errorf("playback of message %s: %w", messageID, err))
		},
	})

	vadCfg := vad.Config{
		SampleRate:      16000,
		FrameSize:       128,
		EnergyThreshold: cfg.SilenceThreshold,
		SilenceDuration: cfg.SilenceDuration(),
	}
	s.voice = voice.NewController(device, engine, client, voice.Config{
		SessionID:    s.ID,
		LanguageCode: cfg.LanguageCode,
		VadEnabled:   cfg.VadEnabled,
		Vad:          vadCfg,
	}, voice.WithListener(voiceListener{s}), voice.WithRegistry(s.registry))

	if cfg.WelcomeMessage != "" {
		s.appendMessage(chat.Message{
			Role:    chat.RoleAssistant,
			Content: cfg.WelcomeMessage,
		})
	}
	return s
}

// Config returns the widget configuration the session was built with.
func (s *Session) Config() backend.WidgetConfig {
	return s.cfg
}

// History returns a copy of the transcript.
func (s *Session) History() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.history))
	copy(out, s.history)
	return out
}

// ─── voice passthroughs ───

// StartRecording begins a voice interaction.
func (s *Session) StartRecording(ctx context.Context) error {
	return s.voice.StartRecording(ctx)
}

// StopRecording finalizes the current recording and ships it.
func (s *Session) StopRecording() {
	s.voice.StopRecording()
}

// CancelVoice aborts the current voice interaction, whatever phase it is in.
func (s *Session) CancelVoice() {
	s.voice.Cancel()
}

// VoiceState returns the voice controller's current state.
func (s *Session) VoiceState() voice.State {
	return s.voice.State()
}

// Cancel aborts the live operation of the given kind. Voice interactions
// route through the voice controller so a live recording is discarded too.
func (s *Session) Cancel(kind request.OpKind) {
	if kind == request.OpVoiceInteract {
		s.voice.Cancel()
		return
	}
	s.registry.Cancel(kind)
}

// ─── text path ───

// SendText submits a typed question, optionally grounded on an image. The
// user message enters the transcript immediately; the reply arrives through
// the sink. Returns [ErrBusy] while a previous query is still in flight.
func (s *Session) SendText(ctx context.Context, text, imageRef string) error {
	if text == "" {
		return errors.New("widget: empty message")
	}
	if s.registry.Busy(request.OpQuery) {
		return ErrBusy
	}

	s.appendMessage(chat.Message{
		Role:    chat.RoleUser,
		Content: text,
		Input:   chat.InputText,
	})
	history := s.History()

	opCtx, done := s.registry.Start(context.WithoutCancel(ctx), request.OpQuery)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer done()
		res, err := s.client.Query(opCtx, backend.QueryRequest{
			Text:      text,
			ImageRef:  imageRef,
			History:   history,
			SessionID: s.ID,
		})
		if err != nil {
			s.deliverFailure("query", err)
			return
		}
		s.appendMessage(chat.Message{
			ID:      res.MessageID,
			Role:    chat.RoleAssistant,
			Content: res.ReplyText,
			Input:   chat.InputText,
		})
	}()
	return nil
}

// Summarize asks the backend to summarize content and delivers the summary as
// an assistant message. Returns [ErrBusy] while a previous summarization is
// still in flight.
func (s *Session) Summarize(ctx context.Context, content, contentType string) error {
	if content == "" {
		return errors.New("widget: nothing to summarize")
	}
	if s.registry.Busy(request.OpSummarize) {
		return ErrBusy
	}

	opCtx, done := s.registry.Start(context.WithoutCancel(ctx), request.OpSummarize)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer done()
		res, err := s.client.Summarize(opCtx, backend.SummarizeRequest{
			Content:        content,
			ContentType:    contentType,
			TargetLanguage: s.cfg.LanguageCode,
		})
		if err != nil {
			s.deliverFailure("summarize", err)
			return
		}
		s.appendMessage(chat.Message{
			ID:      res.MessageID,
			Role:    chat.RoleAssistant,
			Content: res.Summary,
			Input:   chat.InputText,
		})
	}()
	return nil
}

// ─── playback ───

// TogglePlay plays or pauses the audio of one assistant message. Messages
// without audio get speech synthesized on first request; the synthesized
// reference is attached to the message and played once ready.
func (s *Session) TogglePlay(ctx context.Context, messageID string) error {
	msg, ok := s.findMessage(messageID)
	if !ok {
		return fmt.Errorf("widget: unknown message %s", messageID)
	}
	if msg.AudioRef != "" {
		return s.playback.TogglePlayPause(msg.ID, msg.AudioRef)
	}
	if msg.Role != chat.RoleAssistant || msg.IsError || msg.Content == "" {
		return fmt.Errorf("widget: message %s has no playable audio", messageID)
	}
	if s.registry.Busy(request.OpTTS) {
		return ErrBusy
	}

	opCtx, done := s.registry.Start(context.WithoutCancel(ctx), request.OpTTS)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer done()
		res, err := s.client.SynthesizeSpeech(opCtx, backend.SpeechRequest{
			Text:         msg.Content,
			LanguageCode: s.cfg.LanguageCode,
		})
		if err != nil {
			s.deliverFailure("synthesize speech", err)
			return
		}
		if res.AudioRef == "" {
			s.sink.OnError(fmt.Errorf("widget: no audio for message %s", messageID))
			return
		}
		s.attachAudio(messageID, res.AudioRef)
		// The user asked for playback, so the fresh audio starts at once.
		_ = s.playback.LoadAndBind(res.AudioRef, messageID, true)
	}()
	return nil
}

// StopPlayback stops the active message's audio.
func (s *Session) StopPlayback(messageID string) error {
	return s.playback.Stop(messageID)
}

// Seek moves the active message's playhead.
func (s *Session) Seek(messageID string, position time.Duration) error {
	return s.playback.Seek(messageID, position)
}

// Playback returns the current playback snapshot.
func (s *Session) Playback() playback.Snapshot {
	return s.playback.Snapshot()
}

// ─── feedback and lifecycle ───

// SendFeedback records a rating for an assistant message.
func (s *Session) SendFeedback(ctx context.Context, messageID string, rating int, comment string) error {
	if _, ok := s.findMessage(messageID); !ok {
		return fmt.Errorf("widget: unknown message %s", messageID)
	}
	return s.client.SendFeedback(ctx, backend.Feedback{
		MessageID: messageID,
		Rating:    rating,
		Comment:   comment,
	})
}

// ClearHistory wipes the transcript, stops playback and frees any inline
// audio payloads held for the cleared messages.
func (s *Session) ClearHistory() {
	_ = s.playback.Close()

	s.mu.Lock()
	cleared := s.history
	s.history = nil
	s.mu.Unlock()

	s.releaseAudio(cleared)
	s.sink.OnHistoryCleared()
}

// Close cancels all in-flight work and releases every held resource. The
// session must not be used afterwards.
func (s *Session) Close() error {
	s.registry.CancelAll()
	err := s.voice.Close()
	_ = s.playback.Close()
	s.wg.Wait()

	s.mu.Lock()
	cleared := s.history
	s.history = nil
	s.mu.Unlock()
	s.releaseAudio(cleared)
	return err
}

// Wait blocks until all in-flight session goroutines have finished.
func (s *Session) Wait() {
	s.voice.Wait()
	s.wg.Wait()
}

// ─── internals ───

// appendMessage stamps, stores and publishes a message. Assistant messages
// carrying audio are bound to the playback controller here; whether they
// auto-play follows how the request originated, read from the message itself.
func (s *Session) appendMessage(msg chat.Message) {
	if msg.ID == "" {
		msg.ID = chat.NewMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.history = append(s.history, msg)
	s.mu.Unlock()

	s.sink.OnMessage(msg)

	if msg.Role == chat.RoleAssistant && msg.AudioRef != "" && !msg.IsError {
		autoplay := msg.Input == chat.InputVoice
		if err := s.playback.LoadAndBind(msg.AudioRef, msg.ID, autoplay); err != nil {
			slog.Warn("binding reply audio", "message_id", msg.ID, "err", err)
		}
	}
}

// findMessage returns a copy of the message with the given ID.
func (s *Session) findMessage(messageID string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.history {
		if m.ID == messageID {
			return m, true
		}
	}
	return chat.Message{}, false
}

// attachAudio sets the audio reference on a stored message and republishes it.
func (s *Session) attachAudio(messageID, audioRef string) {
	s.mu.Lock()
	var updated chat.Message
	for i := range s.history {
		if s.history[i].ID == messageID {
			s.history[i].AudioRef = audioRef
			updated = s.history[i]
			break
		}
	}
	s.mu.Unlock()
	if updated.ID != "" {
		s.sink.OnMessage(updated)
	}
}

// deliverFailure converts an operation failure into transcript output.
// Cancellation stays silent; everything else becomes one inline assistant
// error message.
func (s *Session) deliverFailure(op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	slog.Error("backend operation failed", "session_id", s.ID, "op", op, "err", err)
	s.appendMessage(chat.Message{
		Role:    chat.RoleAssistant,
		Content: "Sorry, something went wrong. Please try again.",
		IsError: true,
	})
}

// releaseAudio frees inline audio payloads referenced by msgs.
func (s *Session) releaseAudio(msgs []chat.Message) {
	if s.store == nil {
		return
	}
	for _, m := range msgs {
		if backend.IsStoreRef(m.AudioRef) {
			s.store.Release(m.AudioRef)
		}
	}
}

// voiceListener adapts the session to the voice controller's listener
// contract.
type voiceListener struct {
	s *Session
}

func (l voiceListener) OnStateChange(_, to voice.State) { l.s.sink.OnVoiceState(to) }
func (l voiceListener) OnMessage(msg chat.Message)      { l.s.appendMessage(msg) }
func (l voiceListener) OnStatus(status voice.Status)    { l.s.sink.OnStatus(status) }
func (l voiceListener) OnError(err error)               { l.s.sink.OnError(err) }
