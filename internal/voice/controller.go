// Package voice implements the recording-to-reply state machine behind the
// widget's microphone button.
//
// A [Controller] drives one interaction at a time through
// Idle → Recording → Processing → Idle. Recording owns an
// [audio.CaptureSession] and, when enabled, a [vad.Monitor] watching a tee of
// the capture frames for trailing silence. Silence and an explicit stop
// converge on the same finalize path; a clip that survives it is shipped to
// the backend and the reply is delivered through the [Listener].
//
// Cancellation is first-class on both sides of the pipeline: cancelling a
// recording discards the buffered audio without a network call, and cancelling
// while processing aborts the in-flight request silently.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/susurrus-chat/susurrus/internal/request"
	"github.com/susurrus-chat/susurrus/pkg/audio"
	"github.com/susurrus-chat/susurrus/pkg/backend"
	"github.com/susurrus-chat/susurrus/pkg/chat"
	"github.com/susurrus-chat/susurrus/pkg/vad"
)

// State enumerates the controller's interaction states.
type State int

const (
	// StateIdle means no interaction is in progress.
	StateIdle State = iota

	// StateRecording means the microphone is live.
	StateRecording

	// StateProcessing means a finalized clip is with the backend.
	StateProcessing

	// StateErrored is the transient state while a capture failure is being
	// surfaced; the controller returns to StateIdle afterwards.
	StateErrored
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Status is a short user-visible hint about what the controller is doing.
type Status string

// Status values surfaced through [Listener.OnStatus]. StatusNone clears the
// hint.
const (
	StatusNone       Status = ""
	StatusListening  Status = "listening"
	StatusProcessing Status = "processing"
	StatusNoAudio    Status = "no audio captured"
	StatusManualStop Status = "auto-stop unavailable, tap to stop"
)

// ErrNotIdle is returned by StartRecording outside StateIdle. While
// processing, the triggering control is a cancel affordance, not a second
// recording.
var ErrNotIdle = errors.New("voice: an interaction is already in progress")

// Listener receives the controller's observable output. Callbacks fire
// outside the controller's internal lock, so they may call back into the
// controller. Implementations should return quickly.
type Listener interface {
	// OnStateChange fires on every state transition.
	OnStateChange(from, to State)

	// OnMessage delivers a conversation message: the user's transcript, the
	// assistant's reply, or an assistant-role error marker.
	OnMessage(msg chat.Message)

	// OnStatus updates the transient status hint.
	OnStatus(status Status)

	// OnError surfaces operational failures that are not conversation
	// messages (microphone access, device loss). Never fired for
	// cancellation.
	OnError(err error)
}

// nopListener is the default when no listener is configured.
type nopListener struct{}

func (nopListener) OnStateChange(State, State) {}
func (nopListener) OnMessage(chat.Message)     {}
func (nopListener) OnStatus(Status)            {}
func (nopListener) OnError(error)              {}

// Config carries the per-widget recording parameters.
type Config struct {
	// SessionID scopes backend calls to one conversation.
	SessionID string

	// LanguageCode is forwarded to the backend with every clip.
	LanguageCode string

	// VadEnabled arms silence-based auto-stop.
	VadEnabled bool

	// Vad holds the detection parameters used when VadEnabled is set. The
	// SampleRate and FrameSize double as the tee format for analysis frames.
	Vad vad.Config
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithListener sets the listener receiving controller output.
func WithListener(l Listener) Option {
	return func(c *Controller) {
		c.listener = l
	}
}

// WithRegistry sets the cancellation registry the controller registers its
// backend requests with. Without one, requests are still cancellable through
// [Controller.CancelProcessing] but invisible to other operation kinds.
func WithRegistry(r *request.Registry) Option {
	return func(c *Controller) {
		c.registry = r
	}
}

// recording bundles the resources of one StartRecording call. The gen field
// makes asynchronous callbacks (VAD signals, capture errors) verifiable
// against the controller's current generation so a stale callback can never
// stop a later recording.
type recording struct {
	gen     int
	capture *audio.CaptureSession
	monitor *vad.Monitor
}

// Controller is the voice interaction state machine. Safe for concurrent use;
// all callbacks and operations serialize on an internal mutex.
type Controller struct {
	device   audio.Device
	engine   vad.Engine
	client   backend.Client
	cfg      Config
	listener Listener
	registry *request.Registry

	mu      sync.Mutex
	state   State
	gen     int
	rec     *recording
	cancel  context.CancelFunc
	baseCtx context.Context

	// wg tracks the processing and signal goroutines so tests and shutdown
	// can wait for quiescence.
	wg sync.WaitGroup
}

// NewController creates a controller recording from device, auto-stopping via
// engine and talking to client. engine may be nil when cfg.VadEnabled is
// false.
func NewController(device audio.Device, engine vad.Engine, client backend.Client, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		device:   device,
		engine:   engine,
		client:   client,
		cfg:      cfg,
		listener: nopListener{},
		baseCtx:  context.Background(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current interaction state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartRecording acquires the microphone and begins capturing. Valid only
// from StateIdle; otherwise returns [ErrNotIdle]. A microphone acquisition
// failure is surfaced through the listener and leaves the controller Idle.
//
// ctx bounds the device acquisition and becomes the parent of the eventual
// backend request.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.gen++
	gen := c.gen
	c.baseCtx = context.WithoutCancel(ctx)

	capture := audio.NewCaptureSession(c.device, audio.WithErrorHandler(func(err error) {
		c.captureFailed(gen, err)
	}))
	rec := &recording{gen: gen, capture: capture}
	c.rec = rec
	emit := c.transitionLocked(StateRecording)
	c.mu.Unlock()
	emit()

	if err := capture.Start(ctx); err != nil {
		if errors.Is(err, audio.ErrCaptureAborted) {
			// The recording was stopped or cancelled while the permission
			// prompt was still open. finishRecording already settled the
			// state and the session closed the stream; nothing to surface.
			return nil
		}
		c.mu.Lock()
		emit = func() {}
		if c.rec == rec {
			c.rec = nil
			emit = c.transitionLocked(StateIdle)
		}
		c.mu.Unlock()
		emit()
		c.listener.OnError(fmt.Errorf("start recording: %w", err))
		return err
	}

	c.armVad(rec)
	c.listener.OnStatus(StatusListening)
	return nil
}

// StopRecording finalizes the clip and hands it to the backend. Valid from
// StateRecording; a no-op otherwise. Stopping with an empty clip skips the
// backend entirely and returns to Idle with a neutral status.
func (c *Controller) StopRecording() {
	c.finishRecording(c.currentGen(), false)
}

// CancelRecording discards the buffered audio and returns to Idle without a
// network call. Valid from StateRecording; a no-op otherwise.
func (c *Controller) CancelRecording() {
	c.finishRecording(c.currentGen(), true)
}

// CancelProcessing aborts the in-flight backend request. The abort is silent:
// no message is added and no error is surfaced. Valid from StateProcessing; a
// no-op otherwise.
func (c *Controller) CancelProcessing() {
	c.mu.Lock()
	cancel := c.cancel
	processing := c.state == StateProcessing
	c.mu.Unlock()
	if processing && cancel != nil {
		cancel()
	}
}

// Cancel aborts whatever phase the interaction is in: a live recording is
// discarded, an in-flight request is cancelled.
func (c *Controller) Cancel() {
	switch c.State() {
	case StateRecording:
		c.CancelRecording()
	case StateProcessing:
		c.CancelProcessing()
	}
}

// Close cancels any in-progress interaction and waits for the controller's
// goroutines to finish.
func (c *Controller) Close() error {
	c.Cancel()
	c.wg.Wait()
	return nil
}

// Wait blocks until all in-flight processing goroutines have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// ─── recording internals ───

func (c *Controller) currentGen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// armVad wires a detection monitor to a tee of the capture frames. Detector
// construction failure degrades to manual-stop-only recording; it never
// aborts the capture.
func (c *Controller) armVad(rec *recording) {
	if !c.cfg.VadEnabled || c.engine == nil {
		return
	}
	sess, err := c.engine.NewSession(c.cfg.Vad)
	if err != nil {
		slog.Warn("vad unavailable, recording without auto-stop", "err", err)
		c.listener.OnStatus(StatusManualStop)
		return
	}
	frames, err := rec.capture.Tee(audio.Format{SampleRate: c.cfg.Vad.SampleRate, Channels: 1})
	if err != nil {
		_ = sess.Close()
		slog.Warn("vad tee unavailable, recording without auto-stop", "err", err)
		c.listener.OnStatus(StatusManualStop)
		return
	}
	monitor := vad.NewMonitor(sess, frames)

	c.mu.Lock()
	if c.rec == rec {
		rec.monitor = monitor
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for sig := range monitor.Signals() {
			if sig.Type == vad.SignalSilenceDetected {
				c.finishRecording(rec.gen, false)
				return
			}
		}
	}()
}

// finishRecording is the single convergence point for user stop, user cancel
// and VAD auto-stop. The generation check drops signals that arrive after the
// recording they belong to already ended.
func (c *Controller) finishRecording(gen int, discard bool) {
	c.mu.Lock()
	if c.state != StateRecording || c.rec == nil || c.rec.gen != gen {
		c.mu.Unlock()
		return
	}
	rec := c.rec
	c.rec = nil
	c.mu.Unlock()

	clip := rec.capture.Stop()
	if rec.monitor != nil {
		rec.monitor.Close()
	}

	if discard {
		c.mu.Lock()
		emit := c.transitionLocked(StateIdle)
		c.mu.Unlock()
		emit()
		c.listener.OnStatus(StatusNone)
		return
	}
	if clip.Empty() {
		c.mu.Lock()
		emit := c.transitionLocked(StateIdle)
		c.mu.Unlock()
		emit()
		c.listener.OnStatus(StatusNoAudio)
		return
	}

	c.mu.Lock()
	emit := c.transitionLocked(StateProcessing)
	ctx, done := c.startRequestLocked()
	c.mu.Unlock()
	emit()
	c.listener.OnStatus(StatusProcessing)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer done()
		c.process(ctx, clip)
	}()
}

// startRequestLocked opens the cancellation scope for one backend request.
func (c *Controller) startRequestLocked() (context.Context, func()) {
	if c.registry != nil {
		ctx, done := c.registry.Start(c.baseCtx, request.OpVoiceInteract)
		c.cancel = func() { done() }
		return ctx, done
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	return ctx, func() { cancel() }
}

// captureFailed handles a mid-capture device error for generation gen.
func (c *Controller) captureFailed(gen int, err error) {
	c.mu.Lock()
	if c.state != StateRecording || c.rec == nil || c.rec.gen != gen {
		c.mu.Unlock()
		return
	}
	rec := c.rec
	c.rec = nil
	emit := c.transitionLocked(StateErrored)
	c.mu.Unlock()
	emit()

	if rec.monitor != nil {
		rec.monitor.Close()
	}
	c.listener.OnError(fmt.Errorf("recording failed: %w", err))
	c.listener.OnStatus(StatusNone)

	c.mu.Lock()
	emit = c.transitionLocked(StateIdle)
	c.mu.Unlock()
	emit()
}

// ─── processing internals ───

// process ships the finalized clip and delivers the outcome. Runs on its own
// goroutine; the controller is in StateProcessing for its duration.
func (c *Controller) process(ctx context.Context, clip audio.Clip) {
	res, err := c.client.VoiceInteract(ctx, backend.VoiceInteractRequest{
		Clip:         clip,
		LanguageCode: c.cfg.LanguageCode,
		SessionID:    c.cfg.SessionID,
	})

	c.mu.Lock()
	c.cancel = nil
	emit := c.transitionLocked(StateIdle)
	c.mu.Unlock()
	emit()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.listener.OnStatus(StatusNone)
			return
		}
		c.listener.OnStatus(StatusNone)
		c.listener.OnMessage(chat.Message{
			ID:      chat.NewMessageID(),
			Role:    chat.RoleAssistant,
			Content: "Sorry, something went wrong handling your voice message.",
			IsError: true,
		})
		slog.Error("voice interaction failed", "session_id", c.cfg.SessionID, "err", err)
		return
	}

	c.listener.OnStatus(StatusNone)
	if res.Transcript != "" {
		c.listener.OnMessage(chat.Message{
			ID:      chat.NewMessageID(),
			Role:    chat.RoleUser,
			Content: res.Transcript,
			Input:   chat.InputVoice,
		})
	}
	replyID := res.MessageID
	if replyID == "" {
		replyID = chat.NewMessageID()
	}
	c.listener.OnMessage(chat.Message{
		ID:       replyID,
		Role:     chat.RoleAssistant,
		Content:  res.ReplyText,
		AudioRef: res.ReplyAudioRef,
		Input:    chat.InputVoice,
	})
}

// transitionLocked moves the state machine to to and returns the listener
// notification to fire once c.mu is released. Notifying outside the lock
// keeps transitions ordered while letting the listener call back into the
// controller.
func (c *Controller) transitionLocked(to State) func() {
	from := c.state
	if from == to {
		return func() {}
	}
	c.state = to
	return func() { c.listener.OnStateChange(from, to) }
}
