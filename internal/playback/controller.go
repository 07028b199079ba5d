// Package playback manages the single active audio player bound to a
// conversation message.
//
// The controller owns at most one [player.Player] at a time. Binding a new
// message's audio always releases the previous player first, so overlapping
// audio and leaked output resources cannot occur. All player events pass an
// identity guard: events raised by a player that has since been replaced are
// discarded instead of corrupting the state of its successor.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/susurrus-chat/susurrus/pkg/player"
)

// State enumerates the controller's playback states.
type State int

const (
	// StateStopped means no player is bound.
	StateStopped State = iota

	// StateLoading means a player is bound and loading its media.
	StateLoading

	// StatePlaying means the bound player is producing audio.
	StatePlaying

	// StatePaused means the bound player is suspended at a position.
	StatePaused
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ErrNotActive is returned by operations addressed to a message that is not
// the currently bound one.
var ErrNotActive = errors.New("playback: message is not the active one")

// Snapshot is the controller state the UI renders from. ActiveMessageID is
// empty exactly when State is StateStopped and no player is loading.
type Snapshot struct {
	ActiveMessageID string
	State           State
	Position        time.Duration
	Duration        time.Duration
}

// Events holds the controller's outbound callbacks. Either field may be nil.
// Callbacks are invoked without internal locks held, so they may call back
// into the controller.
type Events struct {
	// OnChange fires after every observable state change.
	OnChange func(Snapshot)

	// OnError fires when the bound player fails. The player has already been
	// released when this fires.
	OnError func(messageID string, err error)
}

// binding ties one opened player to one message. released flips exactly once;
// every teardown path funnels through it.
type binding struct {
	player    player.Player
	messageID string
	autoplay  bool
	started   bool
	released  bool
}

// Controller binds reply audio to conversation messages and exposes
// play/pause/stop/seek over the single active player.
//
// Safe for concurrent use.
type Controller struct {
	factory player.Factory
	events  Events

	mu       sync.Mutex
	cur      *binding
	state    State
	position time.Duration
	duration time.Duration
}

// NewController creates a controller opening players through factory.
func NewController(factory player.Factory, events Events) *Controller {
	return &Controller{factory: factory, events: events}
}

// Snapshot returns the current controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LoadAndBind releases any previously bound player, then opens a new player
// for audioRef and binds it to messageID. When the media's metadata resolves
// and autoplay is set, playback starts immediately; otherwise the controller
// waits for [Controller.TogglePlayPause].
func (c *Controller) LoadAndBind(audioRef, messageID string, autoplay bool) error {
	c.mu.Lock()
	prev := c.releaseLocked()
	b := &binding{messageID: messageID, autoplay: autoplay}
	c.cur = b
	c.state = StateLoading
	c.position = 0
	c.duration = 0
	snap := c.snapshotLocked()
	c.mu.Unlock()

	freePlayer(prev)
	c.notify(snap)

	p, err := c.factory.Open(audioRef, player.Events{
		OnMetadata: func(d time.Duration) { c.onMetadata(b, d) },
		OnTime:     func(t time.Duration) { c.onTime(b, t) },
		OnPlay:     func() { c.onPlay(b) },
		OnPause:    func() { c.onPause(b) },
		OnEnded:    func() { c.onEnded(b) },
		OnError:    func(err error) { c.onError(b, err) },
	})

	c.mu.Lock()
	if c.cur != b {
		// Replaced while opening. The newcomer owns the slot; free this
		// player without touching controller state.
		c.mu.Unlock()
		if p != nil {
			_ = p.Close()
		}
		return nil
	}
	if err != nil {
		c.cur = nil
		c.state = StateStopped
		snap = c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		c.fail(messageID, fmt.Errorf("open player for %q: %w", audioRef, err))
		return err
	}
	b.player = p
	c.mu.Unlock()
	return nil
}

// TogglePlayPause pauses the active message when it is playing and resumes it
// when it is paused or loaded. When messageID differs from the active message,
// the call delegates to [Controller.LoadAndBind] for that message with
// autoplay set.
func (c *Controller) TogglePlayPause(messageID, audioRef string) error {
	c.mu.Lock()
	if c.cur == nil || c.cur.messageID != messageID {
		c.mu.Unlock()
		return c.LoadAndBind(audioRef, messageID, true)
	}
	b := c.cur
	playing := c.state == StatePlaying
	if playing {
		c.state = StatePaused
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if b.player == nil {
		// Still opening; the autoplay decision flips instead.
		c.mu.Lock()
		b.autoplay = !b.autoplay
		c.mu.Unlock()
		return nil
	}
	if playing {
		b.player.Pause()
		c.notify(snap)
		return nil
	}
	if err := b.player.Play(); err != nil {
		c.onError(b, err)
		return err
	}
	return nil
}

// Stop pauses the active message, resets its position and releases its player.
// Returns [ErrNotActive] when messageID is not the bound message.
func (c *Controller) Stop(messageID string) error {
	c.mu.Lock()
	if c.cur == nil || c.cur.messageID != messageID {
		c.mu.Unlock()
		return ErrNotActive
	}
	prev := c.releaseLocked()
	c.state = StateStopped
	c.position = 0
	c.duration = 0
	snap := c.snapshotLocked()
	c.mu.Unlock()

	freePlayer(prev)
	c.notify(snap)
	return nil
}

// Seek moves the active message's playhead. Positions outside [0, duration]
// are clamped. The reported position updates immediately, before the player
// confirms. Returns [ErrNotActive] when messageID is not the bound message.
func (c *Controller) Seek(messageID string, position time.Duration) error {
	c.mu.Lock()
	if c.cur == nil || c.cur.messageID != messageID {
		c.mu.Unlock()
		return ErrNotActive
	}
	if position < 0 {
		position = 0
	}
	if c.duration > 0 && position > c.duration {
		position = c.duration
	}
	b := c.cur
	c.position = position
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if b.player != nil {
		b.player.SetPosition(position)
	}
	c.notify(snap)
	return nil
}

// Close releases the bound player, if any.
func (c *Controller) Close() error {
	c.mu.Lock()
	prev := c.releaseLocked()
	c.cur = nil
	c.state = StateStopped
	c.position = 0
	c.duration = 0
	c.mu.Unlock()

	freePlayer(prev)
	return nil
}

// ─── player event handlers ───

func (c *Controller) onMetadata(b *binding, d time.Duration) {
	c.mu.Lock()
	if c.cur != b {
		c.mu.Unlock()
		return
	}
	c.duration = d
	start := b.autoplay && !b.started && b.player != nil
	if start {
		b.started = true
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	if start {
		if err := b.player.Play(); err != nil {
			c.onError(b, err)
		}
	}
}

func (c *Controller) onTime(b *binding, t time.Duration) {
	c.mu.Lock()
	if c.cur != b {
		c.mu.Unlock()
		return
	}
	c.position = t
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Controller) onPlay(b *binding) {
	c.mu.Lock()
	if c.cur != b {
		c.mu.Unlock()
		return
	}
	b.started = true
	c.state = StatePlaying
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Controller) onPause(b *binding) {
	c.mu.Lock()
	if c.cur != b || c.state != StatePlaying {
		c.mu.Unlock()
		return
	}
	c.state = StatePaused
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Controller) onEnded(b *binding) {
	c.mu.Lock()
	if c.cur != b {
		c.mu.Unlock()
		return
	}
	prev := c.releaseLocked()
	c.state = StateStopped
	c.position = 0
	c.duration = 0
	snap := c.snapshotLocked()
	c.mu.Unlock()

	freePlayer(prev)
	c.notify(snap)
}

func (c *Controller) onError(b *binding, err error) {
	c.mu.Lock()
	if c.cur != b {
		c.mu.Unlock()
		return
	}
	prev := c.releaseLocked()
	messageID := b.messageID
	c.state = StateStopped
	c.position = 0
	c.duration = 0
	snap := c.snapshotLocked()
	c.mu.Unlock()

	freePlayer(prev)
	c.notify(snap)
	c.fail(messageID, err)
}

// ─── internals ───

// releaseLocked detaches the current binding and returns its player for
// teardown outside the lock. The released flag guarantees each player is freed
// at most once no matter how many teardown paths race.
func (c *Controller) releaseLocked() player.Player {
	b := c.cur
	c.cur = nil
	if b == nil || b.released || b.player == nil {
		return nil
	}
	b.released = true
	return b.player
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state, Position: c.position, Duration: c.duration}
	if c.cur != nil {
		snap.ActiveMessageID = c.cur.messageID
	}
	return snap
}

func (c *Controller) notify(snap Snapshot) {
	if c.events.OnChange != nil {
		c.events.OnChange(snap)
	}
}

func (c *Controller) fail(messageID string, err error) {
	slog.Warn("playback error", "message_id", messageID, "err", err)
	if c.events.OnError != nil {
		c.events.OnError(messageID, err)
	}
}

// freePlayer pauses and closes a detached player.
func freePlayer(p player.Player) {
	if p == nil {
		return
	}
	p.Pause()
	if err := p.Close(); err != nil {
		slog.Warn("releasing audio player", "err", err)
	}
}
