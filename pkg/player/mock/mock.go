// Package mock provides test doubles for the player package interfaces.
//
// Use Factory to hand out scripted players and inspect the audio references
// opened. Use Player to record control calls and, via the Events captured by
// Factory.Open, drive lifecycle events against the controller under test.
package mock

import (
	"sync"
	"time"

	"github.com/susurrus-chat/susurrus/pkg/player"
)

// OpenCall records a single invocation of Factory.Open.
type OpenCall struct {
	// AudioRef is the audio reference passed to Open.
	AudioRef string

	// Events is the callback set passed to Open. Tests invoke these to
	// simulate metadata, progress, end and error events.
	Events player.Events

	// Player is the player returned by that call.
	Player *Player
}

// Factory is a mock implementation of player.Factory.
type Factory struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// Players, when non-empty, are handed out by successive Open calls in
	// order. Once exhausted (or when empty), Open returns a fresh Player.
	Players []*Player

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall
}

// Open records the call and returns the next scripted player.
func (f *Factory) Open(audioRef string, ev player.Events) (player.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		f.OpenCalls = append(f.OpenCalls, OpenCall{AudioRef: audioRef, Events: ev})
		return nil, f.OpenErr
	}
	var p *Player
	if len(f.Players) > 0 {
		p = f.Players[0]
		f.Players = f.Players[1:]
	} else {
		p = &Player{}
	}
	f.OpenCalls = append(f.OpenCalls, OpenCall{AudioRef: audioRef, Events: ev, Player: p})
	return p, nil
}

// LastOpen returns the record of the most recent Open call, or nil when Open
// was never called.
func (f *Factory) LastOpen() *OpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

// Ensure Factory implements player.Factory at compile time.
var _ player.Factory = (*Factory)(nil)

// Player is a mock implementation of player.Player that records every control
// call.
type Player struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// CloseErr, if non-nil, is returned by the first Close call.
	CloseErr error

	// --- Call records ---

	// PlayCallCount is the number of times Play was called.
	PlayCallCount int

	// PauseCallCount is the number of times Pause was called.
	PauseCallCount int

	// SetPositionCalls records the position passed to every SetPosition call.
	SetPositionCalls []time.Duration

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	closed bool
}

// Play records the call and returns PlayErr.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCallCount++
	return p.PlayErr
}

// Pause records the call.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PauseCallCount++
}

// SetPosition records the requested position.
func (p *Player) SetPosition(position time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SetPositionCalls = append(p.SetPositionCalls, position)
}

// Close records the call. The first call returns CloseErr; later calls return
// nil, mirroring the idempotency contract.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	if p.closed {
		return nil
	}
	p.closed = true
	return p.CloseErr
}

// Closed reports whether Close has been called at least once.
func (p *Player) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Ensure Player implements player.Player at compile time.
var _ player.Player = (*Player)(nil)
