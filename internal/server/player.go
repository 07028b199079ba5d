package server

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/susurrus-chat/susurrus/pkg/player"
)

// remoteFactory implements [player.Factory] over a WebSocket connection: the
// actual audio output lives in the embedding page, and each opened player is
// a thin proxy that forwards control calls as JSON commands and feeds the
// page's reported events back into the bound callback set.
//
// Player identity crosses the wire as a generated player ID, so events from a
// player the page is slow to tear down can never reach a newer player's
// callbacks.
type remoteFactory struct {
	send func(v any) error

	mu      sync.Mutex
	players map[string]*remotePlayer
}

func newRemoteFactory(send func(v any) error) *remoteFactory {
	return &remoteFactory{send: send, players: make(map[string]*remotePlayer)}
}

// Open implements player.Factory.
func (f *remoteFactory) Open(audioRef string, ev player.Events) (player.Player, error) {
	p := &remotePlayer{
		id:      uuid.NewString(),
		factory: f,
		events:  ev,
	}
	f.mu.Lock()
	f.players[p.id] = p
	f.mu.Unlock()

	if err := f.send(playerCommand{Type: evtPlayerOpen, PlayerID: p.id, AudioRef: audioRef}); err != nil {
		f.remove(p.id)
		return nil, err
	}
	return p, nil
}

// HandleEvent dispatches a playback event reported by the page to the player
// it belongs to. Events for unknown (already closed) players are dropped.
func (f *remoteFactory) HandleEvent(cmd playerEvent) {
	f.mu.Lock()
	p := f.players[cmd.PlayerID]
	f.mu.Unlock()
	if p == nil {
		return
	}
	p.dispatch(cmd)
}

// CloseAll releases every live proxy without notifying the page, for
// connection teardown.
func (f *remoteFactory) CloseAll() {
	f.mu.Lock()
	players := make([]*remotePlayer, 0, len(f.players))
	for _, p := range f.players {
		players = append(players, p)
	}
	f.players = make(map[string]*remotePlayer)
	f.mu.Unlock()
	for _, p := range players {
		p.markClosed()
	}
}

func (f *remoteFactory) remove(id string) {
	f.mu.Lock()
	delete(f.players, id)
	f.mu.Unlock()
}

// Ensure remoteFactory implements player.Factory at compile time.
var _ player.Factory = (*remoteFactory)(nil)

// remotePlayer proxies one page-side audio element.
type remotePlayer struct {
	id      string
	factory *remoteFactory
	events  player.Events

	mu     sync.Mutex
	closed bool
}

// Play implements player.Player.
func (p *remotePlayer) Play() error {
	if p.isClosed() {
		return errors.New("server: player closed")
	}
	return p.factory.send(playerCommand{Type: evtPlayerPlay, PlayerID: p.id})
}

// Pause implements player.Player.
func (p *remotePlayer) Pause() {
	if p.isClosed() {
		return
	}
	_ = p.factory.send(playerCommand{Type: evtPlayerPause, PlayerID: p.id})
}

// SetPosition implements player.Player.
func (p *remotePlayer) SetPosition(position time.Duration) {
	if p.isClosed() {
		return
	}
	_ = p.factory.send(playerCommand{Type: evtPlayerSeek, PlayerID: p.id, PositionMs: position.Milliseconds()})
}

// Close implements player.Player. Idempotent; tells the page to free the
// audio element and stops event delivery.
func (p *remotePlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.factory.remove(p.id)
	return p.factory.send(playerCommand{Type: evtPlayerClose, PlayerID: p.id})
}

func (p *remotePlayer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *remotePlayer) markClosed() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// dispatch feeds one reported event into the bound callbacks. No events fire
// after Close.
func (p *remotePlayer) dispatch(cmd playerEvent) {
	if p.isClosed() {
		return
	}
	switch cmd.Event {
	case "metadata":
		if p.events.OnMetadata != nil {
			p.events.OnMetadata(time.Duration(cmd.DurationMs) * time.Millisecond)
		}
	case "time":
		if p.events.OnTime != nil {
			p.events.OnTime(time.Duration(cmd.PositionMs) * time.Millisecond)
		}
	case "play":
		if p.events.OnPlay != nil {
			p.events.OnPlay()
		}
	case "pause":
		if p.events.OnPause != nil {
			p.events.OnPause()
		}
	case "ended":
		if p.events.OnEnded != nil {
			p.events.OnEnded()
		}
	case "error":
		if p.events.OnError != nil {
			msg := cmd.Error
			if msg == "" {
				msg = "playback failed"
			}
			p.events.OnError(errors.New(msg))
		}
	}
}

// Ensure remotePlayer implements player.Player at compile time.
var _ player.Player = (*remotePlayer)(nil)
