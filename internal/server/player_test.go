package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/susurrus-chat/susurrus/pkg/player"
)

// commandLog records every player command a factory would ship to the page.
type commandLog struct {
	mu   sync.Mutex
	cmds []playerCommand
	err  error
}

func (l *commandLog) send(v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cmd, ok := v.(playerCommand); ok {
		l.cmds = append(l.cmds, cmd)
	}
	return l.err
}

func (l *commandLog) last(t *testing.T) playerCommand {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.cmds) == 0 {
		t.Fatal("no commands sent")
	}
	return l.cmds[len(l.cmds)-1]
}

func (l *commandLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cmds)
}

func TestRemoteFactory_OpenSendsOpenCommand(t *testing.T) {
	t.Parallel()

	log := &commandLog{}
	f := newRemoteFactory(log.send)

	p, err := f.Open("audio://a", player.Events{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	cmd := log.last(t)
	if cmd.Type != evtPlayerOpen || cmd.AudioRef != "audio://a" {
		t.Errorf("command=%+v, want player_open for audio://a", cmd)
	}
	if cmd.PlayerID == "" {
		t.Error("player ID empty, want a generated ID")
	}
}

func TestRemoteFactory_OpenSendFailureLeavesNoPlayer(t *testing.T) {
	t.Parallel()

	log := &commandLog{err: errors.New("connection gone")}
	f := newRemoteFactory(log.send)

	if _, err := f.Open("audio://a", player.Events{}); err == nil {
		t.Fatal("Open with failing send: err=nil, want error")
	}
	if n := len(f.players); n != 0 {
		t.Errorf("players registered after failed open=%d, want 0", n)
	}
}

func TestRemoteFactory_EventsRoutedByPlayerID(t *testing.T) {
	t.Parallel()

	log := &commandLog{}
	f := newRemoteFactory(log.send)

	var gotDuration time.Duration
	var plays int
	_, err := f.Open("audio://a", player.Events{
		OnMetadata: func(d time.Duration) { gotDuration = d },
		OnPlay:     func() { plays++ },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := log.last(t).PlayerID

	f.HandleEvent(playerEvent{PlayerID: id, Event: "metadata", DurationMs: 2500})
	f.HandleEvent(playerEvent{PlayerID: id, Event: "play"})

	if gotDuration != 2500*time.Millisecond {
		t.Errorf("duration=%v, want 2.5s", gotDuration)
	}
	if plays != 1 {
		t.Errorf("plays=%d, want 1", plays)
	}
}

func TestRemoteFactory_UnknownPlayerEventDropped(t *testing.T) {
	t.Parallel()

	f := newRemoteFactory((&commandLog{}).send)
	// Must not panic.
	f.HandleEvent(playerEvent{PlayerID: "no-such-player", Event: "play"})
}

func TestRemotePlayer_ControlCommands(t *testing.T) {
	t.Parallel()

	log := &commandLog{}
	f := newRemoteFactory(log.send)
	p, err := f.Open("audio://a", player.Events{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := log.last(t).PlayerID

	if err := p.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	p.Pause()
	p.SetPosition(1500 * time.Millisecond)

	want := []struct {
		typ        string
		positionMs int64
	}{
		{evtPlayerOpen, 0},
		{evtPlayerPlay, 0},
		{evtPlayerPause, 0},
		{evtPlayerSeek, 1500},
	}
	log.mu.Lock()
	got := append([]playerCommand(nil), log.cmds...)
	log.mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("commands=%+v, want %d entries", got, len(want))
	}
	for i, w := range want {
		if got[i].Type != w.typ || got[i].PositionMs != w.positionMs || got[i].PlayerID != id {
			t.Errorf("command %d=%+v, want type=%s position=%d", i, got[i], w.typ, w.positionMs)
		}
	}
}

func TestRemotePlayer_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	log := &commandLog{}
	f := newRemoteFactory(log.send)
	p, err := f.Open("audio://a", player.Events{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := log.last(t).PlayerID

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	var closes int
	log.mu.Lock()
	for _, cmd := range log.cmds {
		if cmd.Type == evtPlayerClose {
			closes++
		}
	}
	log.mu.Unlock()
	if closes != 1 {
		t.Errorf("player_close sent %d times, want 1", closes)
	}

	// Controls and events after Close are inert.
	before := log.count()
	if err := p.Play(); err == nil {
		t.Error("Play after Close: err=nil, want error")
	}
	p.Pause()
	f.HandleEvent(playerEvent{PlayerID: id, Event: "play"})
	if log.count() != before {
		t.Error("commands sent after Close")
	}
}

func TestRemotePlayer_NoEventsAfterClose(t *testing.T) {
	t.Parallel()

	log := &commandLog{}
	f := newRemoteFactory(log.send)

	var fired int
	p, err := f.Open("audio://a", player.Events{
		OnEnded: func() { fired++ },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := log.last(t).PlayerID

	_ = p.Close()
	f.HandleEvent(playerEvent{PlayerID: id, Event: "ended"})
	if fired != 0 {
		t.Errorf("OnEnded fired %d times after Close, want 0", fired)
	}
}

func TestRemoteFactory_CloseAllSilencesPlayers(t *testing.T) {
	t.Parallel()

	log := &commandLog{}
	f := newRemoteFactory(log.send)

	var errs int
	p, err := f.Open("audio://a", player.Events{
		OnError: func(error) { errs++ },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := log.last(t).PlayerID

	before := log.count()
	f.CloseAll()

	// Teardown sends nothing to the page and detaches event delivery.
	if log.count() != before {
		t.Error("CloseAll sent commands to the page")
	}
	f.HandleEvent(playerEvent{PlayerID: id, Event: "error", Error: "late"})
	if errs != 0 {
		t.Errorf("OnError fired %d times after CloseAll, want 0", errs)
	}
	if err := p.Play(); err == nil {
		t.Error("Play after CloseAll: err=nil, want error")
	}
}
