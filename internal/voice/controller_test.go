package voice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/susurrus-chat/susurrus/internal/voice"
	"github.com/susurrus-chat/susurrus/pkg/audio"
	audiomock "github.com/susurrus-chat/susurrus/pkg/audio/mock"
	"github.com/susurrus-chat/susurrus/pkg/backend"
	backendmock "github.com/susurrus-chat/susurrus/pkg/backend/mock"
	"github.com/susurrus-chat/susurrus/pkg/chat"
	"github.com/susurrus-chat/susurrus/pkg/vad"
	vadmock "github.com/susurrus-chat/susurrus/pkg/vad/mock"
)

// recListener records every controller callback.
type recListener struct {
	mu       sync.Mutex
	states   []voice.State
	messages []chat.Message
	statuses []voice.Status
	errs     []error
}

func (l *recListener) OnStateChange(_, to voice.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, to)
}

func (l *recListener) OnMessage(msg chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

func (l *recListener) OnStatus(status voice.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, status)
}

func (l *recListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *recListener) snapshot() ([]voice.State, []chat.Message, []voice.Status, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]voice.State(nil), l.states...),
		append([]chat.Message(nil), l.messages...),
		append([]voice.Status(nil), l.statuses...),
		append([]error(nil), l.errs...)
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func testVadConfig() vad.Config {
	return vad.Config{
		SampleRate:      16000,
		FrameSize:       128,
		EnergyThreshold: 10,
		SilenceDuration: 1500 * time.Millisecond,
	}
}

func pushFrames(st *audiomock.Stream, frames ...[]byte) {
	for _, f := range frames {
		st.Push(audio.AudioFrame{Data: f, SampleRate: 16000, Channels: 1})
	}
}

func TestController_ManualStopDeliversReply(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	client := &backendmock.Client{
		VoiceInteractResult: backend.VoiceInteractResult{
			Transcript:    "what are your opening hours",
			ReplyText:     "We are open 9 to 5.",
			ReplyAudioRef: "audio://reply",
			MessageID:     "m-42",
		},
	}
	listener := &recListener{}
	c := voice.NewController(&audiomock.Device{OpenResult: st}, nil, client, voice.Config{
		SessionID:    "sess-1",
		LanguageCode: "en",
	}, voice.WithListener(listener))

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	pushFrames(st, []byte{1, 2}, []byte{3, 4})
	c.StopRecording()
	c.Wait()

	if got := c.State(); got != voice.StateIdle {
		t.Errorf("final state=%v, want idle", got)
	}

	if client.VoiceInteractCallCount() != 1 {
		t.Fatalf("VoiceInteract called %d times, want 1", client.VoiceInteractCallCount())
	}
	req := client.VoiceInteractCalls[0]
	if string(req.Clip.PCM) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("request clip PCM=%v, want [1 2 3 4]", req.Clip.PCM)
	}
	if req.SessionID != "sess-1" || req.LanguageCode != "en" {
		t.Errorf("request scope=%s/%s, want sess-1/en", req.SessionID, req.LanguageCode)
	}

	states, messages, statuses, errs := listener.snapshot()
	wantStates := []voice.State{voice.StateRecording, voice.StateProcessing, voice.StateIdle}
	if len(states) != len(wantStates) {
		t.Fatalf("states=%v, want %v", states, wantStates)
	}
	for i := range wantStates {
		if states[i] != wantStates[i] {
			t.Errorf("state %d=%v, want %v", i, states[i], wantStates[i])
		}
	}

	if len(messages) != 2 {
		t.Fatalf("messages=%d, want transcript + reply", len(messages))
	}
	if messages[0].Role != chat.RoleUser || messages[0].Content != "what are your opening hours" || messages[0].Input != chat.InputVoice {
		t.Errorf("transcript message=%+v", messages[0])
	}
	if messages[1].Role != chat.RoleAssistant || messages[1].ID != "m-42" || messages[1].AudioRef != "audio://reply" || messages[1].Input != chat.InputVoice {
		t.Errorf("reply message=%+v", messages[1])
	}

	if statuses[len(statuses)-1] != voice.StatusNone {
		t.Errorf("final status=%q, want cleared", statuses[len(statuses)-1])
	}
	if len(errs) != 0 {
		t.Errorf("errors=%v, want none", errs)
	}
}

func TestController_CancelRecordingSkipsBackend(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	client := &backendmock.Client{}
	c := voice.NewController(&audiomock.Device{OpenResult: st}, nil, client, voice.Config{})

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	pushFrames(st, []byte{1, 2})
	c.CancelRecording()
	c.Wait()

	if client.VoiceInteractCallCount() != 0 {
		t.Errorf("VoiceInteract called %d times after cancel, want 0", client.VoiceInteractCallCount())
	}
	if got := c.State(); got != voice.StateIdle {
		t.Errorf("state after cancel=%v, want idle", got)
	}
}

func TestController_EmptyClipSkipsBackend(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	client := &backendmock.Client{}
	listener := &recListener{}
	c := voice.NewController(&audiomock.Device{OpenResult: st}, nil, client, voice.Config{},
		voice.WithListener(listener))

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	c.StopRecording()
	c.Wait()

	if client.VoiceInteractCallCount() != 0 {
		t.Errorf("VoiceInteract called %d times for empty clip, want 0", client.VoiceInteractCallCount())
	}
	_, _, statuses, _ := listener.snapshot()
	if statuses[len(statuses)-1] != voice.StatusNoAudio {
		t.Errorf("final status=%q, want %q", statuses[len(statuses)-1], voice.StatusNoAudio)
	}
}

func TestController_SilenceAutoStops(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	client := &backendmock.Client{
		VoiceInteractResult: backend.VoiceInteractResult{ReplyText: "hi"},
	}
	engine := &vadmock.Engine{Session: &vadmock.Session{
		Script: []vad.Signal{
			{Type: vad.SignalSpeechStart},
			{Type: vad.SignalSilenceDetected},
		},
	}}
	c := voice.NewController(&audiomock.Device{OpenResult: st}, engine, client, voice.Config{
		VadEnabled: true,
		Vad:        testVadConfig(),
	})

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if len(engine.NewSessionCalls) != 1 || engine.NewSessionCalls[0].Cfg != testVadConfig() {
		t.Fatalf("NewSession calls=%+v, want one with the configured parameters", engine.NewSessionCalls)
	}

	// The second frame's scripted silence signal must stop the recording and
	// ship the clip without any explicit stop call.
	pushFrames(st, []byte{1, 2}, []byte{3, 4})
	waitFor(t, "auto-stop to ship the clip", func() bool {
		return client.VoiceInteractCallCount() == 1 && c.State() == voice.StateIdle
	})
	c.Wait()
}

func TestController_VadFailureDegradesToManualStop(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	client := &backendmock.Client{}
	listener := &recListener{}
	engine := &vadmock.Engine{NewSessionErr: errors.New("model not loaded")}
	c := voice.NewController(&audiomock.Device{OpenResult: st}, engine, client, voice.Config{
		VadEnabled: true,
		Vad:        testVadConfig(),
	}, voice.WithListener(listener))

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	_, _, statuses, errs := listener.snapshot()
	var sawManual bool
	for _, s := range statuses {
		if s == voice.StatusManualStop {
			sawManual = true
		}
	}
	if !sawManual {
		t.Errorf("statuses=%v, want manual-stop hint", statuses)
	}
	if len(errs) != 0 {
		t.Errorf("VAD failure surfaced as error %v, want degraded recording instead", errs)
	}

	// Manual stop still works.
	pushFrames(st, []byte{5, 6})
	c.StopRecording()
	c.Wait()
	if client.VoiceInteractCallCount() != 1 {
		t.Errorf("VoiceInteract called %d times, want 1", client.VoiceInteractCallCount())
	}
}

func TestController_CancelProcessingIsSilent(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	client := &backendmock.Client{Delay: 10 * time.Second}
	listener := &recListener{}
	c := voice.NewController(&audiomock.Device{OpenResult: st}, nil, client, voice.Config{},
		voice.WithListener(listener))

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	pushFrames(st, []byte{1, 2})
	c.StopRecording()
	if got := c.State(); got != voice.StateProcessing {
		t.Fatalf("state after stop=%v, want processing", got)
	}

	c.CancelProcessing()
	c.Wait()

	if got := c.State(); got != voice.StateIdle {
		t.Errorf("state after cancel=%v, want idle", got)
	}
	_, messages, statuses, errs := listener.snapshot()
	if len(messages) != 0 {
		t.Errorf("messages=%v after cancelled request, want none", messages)
	}
	if len(errs) != 0 {
		t.Errorf("errors=%v after cancelled request, want none", errs)
	}
	if statuses[len(statuses)-1] != voice.StatusNone {
		t.Errorf("final status=%q, want cleared", statuses[len(statuses)-1])
	}
}

func TestController_BackendFailureBecomesInlineMessage(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	client := &backendmock.Client{VoiceInteractErr: errors.New("upstream 500")}
	listener := &recListener{}
	c := voice.NewController(&audiomock.Device{OpenResult: st}, nil, client, voice.Config{},
		voice.WithListener(listener))

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	pushFrames(st, []byte{1, 2})
	c.StopRecording()
	c.Wait()

	_, messages, _, errs := listener.snapshot()
	if len(messages) != 1 {
		t.Fatalf("messages=%d, want one inline error message", len(messages))
	}
	if messages[0].Role != chat.RoleAssistant || !messages[0].IsError {
		t.Errorf("inline error message=%+v", messages[0])
	}
	if len(errs) != 0 {
		t.Errorf("OnError fired %d times, want failure delivered as message only", len(errs))
	}
}

func TestController_StartWhileBusy(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	c := voice.NewController(&audiomock.Device{OpenResult: st}, nil, &backendmock.Client{}, voice.Config{})

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := c.StartRecording(context.Background()); !errors.Is(err, voice.ErrNotIdle) {
		t.Errorf("second StartRecording: err=%v, want ErrNotIdle", err)
	}
	c.CancelRecording()
	c.Wait()
}

func TestController_StopDuringPermissionPromptReleasesMic(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	opened := make(chan struct{})
	release := make(chan struct{})
	dev := &audiomock.Device{OpenFunc: func(context.Context) (audio.Stream, error) {
		close(opened)
		<-release
		return st, nil
	}}
	client := &backendmock.Client{}
	listener := &recListener{}
	c := voice.NewController(dev, nil, client, voice.Config{},
		voice.WithListener(listener))

	startErr := make(chan error, 1)
	go func() { startErr <- c.StartRecording(context.Background()) }()
	<-opened

	// The user gives up while the permission prompt is still on screen, then
	// the browser grants access anyway.
	c.StopRecording()
	close(release)

	if err := <-startErr; err != nil {
		t.Fatalf("StartRecording: err=%v, want silent settle after stop", err)
	}
	if st.CloseCallCount == 0 {
		t.Fatal("granted stream was never closed, microphone left live")
	}
	if got := c.State(); got != voice.StateIdle {
		t.Errorf("state=%v, want idle", got)
	}
	if client.VoiceInteractCallCount() != 0 {
		t.Errorf("VoiceInteract called %d times, want 0", client.VoiceInteractCallCount())
	}
	_, _, _, errs := listener.snapshot()
	if len(errs) != 0 {
		t.Errorf("OnError fired with %v, want none for a user-initiated stop", errs)
	}
}

func TestController_MicrophoneDeniedStaysIdle(t *testing.T) {
	t.Parallel()

	dev := &audiomock.Device{OpenErr: errors.New("permission denied")}
	listener := &recListener{}
	c := voice.NewController(dev, nil, &backendmock.Client{}, voice.Config{},
		voice.WithListener(listener))

	if err := c.StartRecording(context.Background()); err == nil {
		t.Fatal("StartRecording with denied mic: err=nil, want error")
	}
	if got := c.State(); got != voice.StateIdle {
		t.Errorf("state=%v, want idle", got)
	}
	_, _, _, errs := listener.snapshot()
	if len(errs) != 1 {
		t.Errorf("OnError fired %d times, want 1", len(errs))
	}
}

func TestController_DeviceLossMidRecording(t *testing.T) {
	t.Parallel()

	st := audiomock.NewStream()
	listener := &recListener{}
	client := &backendmock.Client{}
	c := voice.NewController(&audiomock.Device{OpenResult: st}, nil, client, voice.Config{},
		voice.WithListener(listener))

	if err := c.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	pushFrames(st, []byte{1, 2})
	st.Fail(errors.New("device unplugged"))

	waitFor(t, "controller to settle after device loss", func() bool {
		return c.State() == voice.StateIdle
	})
	_, _, _, errs := listener.snapshot()
	if len(errs) != 1 {
		t.Errorf("OnError fired %d times, want exactly 1", len(errs))
	}
	if client.VoiceInteractCallCount() != 0 {
		t.Errorf("VoiceInteract called %d times after device loss, want 0", client.VoiceInteractCallCount())
	}
}
