package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/susurrus-chat/susurrus/internal/playback"
	"github.com/susurrus-chat/susurrus/internal/request"
	"github.com/susurrus-chat/susurrus/internal/voice"
	"github.com/susurrus-chat/susurrus/internal/widget"
	"github.com/susurrus-chat/susurrus/pkg/backend"
	"github.com/susurrus-chat/susurrus/pkg/chat"
)

// writeTimeout bounds a single outbound WebSocket write.
const writeTimeout = 10 * time.Second

// Outbound event types.
const (
	evtReady          = "ready"
	evtMessage        = "message"
	evtHistoryCleared = "history_cleared"
	evtVoiceState     = "voice_state"
	evtStatus         = "status"
	evtPlayback       = "playback"
	evtError          = "error"
	evtPlayerOpen     = "player_open"
	evtPlayerPlay     = "player_play"
	evtPlayerPause    = "player_pause"
	evtPlayerSeek     = "player_seek"
	evtPlayerClose    = "player_close"
)

// Every client command is a JSON object with a "type" field selecting one of
// the payload shapes below. Payloads are decoded strictly per type so a
// misspelled field is rejected instead of silently zero-valuing.

// bareCmd covers commands that carry no payload beyond their type:
// start_recording, stop_recording and clear_history.
type bareCmd struct {
	Type string `json:"type"`
}

type sendCmd struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageRef string `json:"image_ref,omitempty"`
}

type summarizeCmd struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

type cancelCmd struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

// playCmd covers toggle_play and stop_play.
type playCmd struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type seekCmd struct {
	Type       string `json:"type"`
	MessageID  string `json:"message_id"`
	PositionMs int64  `json:"position_ms"`
}

type feedbackCmd struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
}

type playerEventCmd struct {
	Type       string `json:"type"`
	PlayerID   string `json:"player_id"`
	Event      string `json:"event"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	PositionMs int64  `json:"position_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// parseCommand decodes one client command into its typed payload. Unknown
// command types and unknown payload fields both fail the parse.
func parseCommand(data []byte) (any, error) {
	var env bareCmd
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed command: %w", err)
	}

	var cmd any
	switch env.Type {
	case "send":
		cmd = &sendCmd{}
	case "summarize":
		cmd = &summarizeCmd{}
	case "start_recording", "stop_recording", "clear_history":
		cmd = &bareCmd{}
	case "cancel":
		cmd = &cancelCmd{}
	case "toggle_play", "stop_play":
		cmd = &playCmd{}
	case "seek":
		cmd = &seekCmd{}
	case "feedback":
		cmd = &feedbackCmd{}
	case "playback_event":
		cmd = &playerEventCmd{}
	default:
		return nil, fmt.Errorf("unknown command %q", env.Type)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return nil, fmt.Errorf("%s command: %w", env.Type, err)
	}
	return cmd, nil
}

// playerEvent is a page-reported audio element event.
type playerEvent struct {
	PlayerID   string
	Event      string
	DurationMs int64
	PositionMs int64
	Error      string
}

// playerCommand is a server-to-page player control message.
type playerCommand struct {
	Type       string `json:"type"`
	PlayerID   string `json:"player_id"`
	AudioRef   string `json:"audio_ref,omitempty"`
	PositionMs int64  `json:"position_ms,omitempty"`
}

// wireMessage is the JSON shape of a transcript message.
type wireMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	AudioRef  string    `json:"audio_ref,omitempty"`
	Input     string    `json:"input,omitempty"`
	IsError   bool      `json:"is_error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func toWire(m chat.Message) wireMessage {
	return wireMessage{
		ID:        m.ID,
		Role:      string(m.Role),
		Content:   m.Content,
		AudioRef:  m.AudioRef,
		Input:     string(m.Input),
		IsError:   m.IsError,
		Timestamp: m.Timestamp,
	}
}

// wsConn serialises writes to one WebSocket connection.
type wsConn struct {
	ws  *websocket.Conn
	ctx context.Context
	mu  sync.Mutex
}

// writeJSON marshals v and writes it as one text message.
func (c *wsConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// wsSink forwards session output to the page. Write failures are logged and
// dropped; the read loop notices the dead connection and tears down.
type wsSink struct {
	conn *wsConn
}

func (s *wsSink) emit(v any) {
	if err := s.conn.writeJSON(v); err != nil {
		slog.Debug("dropping event on dead connection", "err", err)
	}
}

func (s *wsSink) OnMessage(msg chat.Message) {
	s.emit(struct {
		Type    string      `json:"type"`
		Message wireMessage `json:"message"`
	}{evtMessage, toWire(msg)})
}

func (s *wsSink) OnHistoryCleared() {
	s.emit(struct {
		Type string `json:"type"`
	}{evtHistoryCleared})
}

func (s *wsSink) OnVoiceState(state voice.State) {
	s.emit(struct {
		Type  string `json:"type"`
		State string `json:"state"`
	}{evtVoiceState, state.String()})
}

func (s *wsSink) OnStatus(status voice.Status) {
	s.emit(struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}{evtStatus, string(status)})
}

func (s *wsSink) OnPlayback(snap playback.Snapshot) {
	s.emit(struct {
		Type            string `json:"type"`
		ActiveMessageID string `json:"active_message_id,omitempty"`
		State           string `json:"state"`
		PositionMs      int64  `json:"position_ms"`
		DurationMs      int64  `json:"duration_ms"`
	}{evtPlayback, snap.ActiveMessageID, snap.State.String(), snap.Position.Milliseconds(), snap.Duration.Milliseconds()})
}

func (s *wsSink) OnError(err error) {
	s.emit(struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}{evtError, err.Error()})
}

// Ensure wsSink implements widget.Sink at compile time.
var _ widget.Sink = (*wsSink)(nil)

// handleWS upgrades the connection and runs one widget session for its
// lifetime. Each connection is fully independent: its own capture device, its
// own player proxies, its own history.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	widgetID := chi.URLParam(r, "widgetID")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "widget_id", widgetID, "err", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "session ended")

	ctx := r.Context()
	conn := &wsConn{ws: ws, ctx: ctx}
	sink := &wsSink{conn: conn}

	cfg := s.widgetConfig(ctx, widgetID)
	device := newWSDevice(s.cfg.Audio.SampleRate, 1)
	factory := newRemoteFactory(conn.writeJSON)

	sess := widget.NewSession(s.client, device, s.engine, factory, cfg,
		widget.WithSink(sink), widget.WithAudioStore(s.store))
	defer func() {
		device.Fail(errors.New("connection closed"))
		_ = sess.Close()
		factory.CloseAll()
	}()

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("widget session started", "widget_id", widgetID, "session_id", sess.ID)

	// Greet with the resolved configuration and the current transcript (the
	// welcome message, if configured).
	history := sess.History()
	wireHistory := make([]wireMessage, 0, len(history))
	for _, m := range history {
		wireHistory = append(wireHistory, toWire(m))
	}
	if err := conn.writeJSON(struct {
		Type      string               `json:"type"`
		SessionID string               `json:"session_id"`
		Config    backend.WidgetConfig `json:"config"`
		History   []wireMessage        `json:"history"`
	}{evtReady, sess.ID, cfg, wireHistory}); err != nil {
		return
	}

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			slog.Info("widget session ended", "session_id", sess.ID, "err", err)
			return
		}
		switch typ {
		case websocket.MessageBinary:
			device.Push(data)
		case websocket.MessageText:
			s.dispatch(ctx, sess, factory, sink, data)
		}
	}
}

// dispatch routes one JSON command to the session. Command failures are
// reported as error events rather than closing the connection.
func (s *Server) dispatch(ctx context.Context, sess *widget.Session, factory *remoteFactory, sink *wsSink, data []byte) {
	cmd, err := parseCommand(data)
	if err != nil {
		sink.OnError(err)
		return
	}

	switch c := cmd.(type) {
	case *sendCmd:
		err = sess.SendText(ctx, c.Text, c.ImageRef)
	case *summarizeCmd:
		err = sess.Summarize(ctx, c.Content, c.ContentType)
	case *bareCmd:
		switch c.Type {
		case "start_recording":
			err = sess.StartRecording(ctx)
		case "stop_recording":
			sess.StopRecording()
		case "clear_history":
			sess.ClearHistory()
		}
	case *cancelCmd:
		sess.Cancel(cancelKind(c.Target))
	case *playCmd:
		if c.Type == "stop_play" {
			err = sess.StopPlayback(c.MessageID)
		} else {
			err = sess.TogglePlay(ctx, c.MessageID)
		}
	case *seekCmd:
		err = sess.Seek(c.MessageID, time.Duration(c.PositionMs)*time.Millisecond)
	case *feedbackCmd:
		err = sess.SendFeedback(ctx, c.MessageID, c.Rating, c.Comment)
	case *playerEventCmd:
		factory.HandleEvent(playerEvent{
			PlayerID:   c.PlayerID,
			Event:      c.Event,
			DurationMs: c.DurationMs,
			PositionMs: c.PositionMs,
			Error:      c.Error,
		})
	}
	if err != nil {
		sink.OnError(err)
	}
}

// cancelKind maps a wire cancel target onto an operation kind. Unknown
// targets default to the voice interaction, the most common abort.
func cancelKind(target string) request.OpKind {
	switch target {
	case "query":
		return request.OpQuery
	case "summarize":
		return request.OpSummarize
	case "tts":
		return request.OpTTS
	default:
		return request.OpVoiceInteract
	}
}

// widgetConfig resolves the widget's configuration from the backend, falling
// back to the server-wide defaults when the backend has none.
func (s *Server) widgetConfig(ctx context.Context, widgetID string) backend.WidgetConfig {
	cfg, err := s.client.FetchWidgetConfig(ctx, widgetID)
	if err != nil {
		slog.Warn("widget config unavailable, using defaults", "widget_id", widgetID, "err", err)
		return backend.WidgetConfig{
			WidgetID:          widgetID,
			LanguageCode:      s.cfg.Widget.LanguageCode,
			WelcomeMessage:    s.cfg.Widget.WelcomeMessage,
			VadEnabled:        s.cfg.Widget.VadEnabled,
			SilenceThreshold:  s.cfg.Widget.SilenceThreshold,
			SilenceDurationMs: s.cfg.Widget.SilenceDurationMs,
		}
	}
	if cfg.WidgetID == "" {
		cfg.WidgetID = widgetID
	}
	return cfg
}
