// Package request tracks in-flight backend operations and their cancellation
// handles, one live handle per operation kind.
package request

import (
	"context"
	"sync"
)

// OpKind identifies a logical backend operation class for cancellation
// purposes.
type OpKind string

// Operation kinds tracked by the registry.
const (
	OpQuery         OpKind = "query"
	OpVoiceInteract OpKind = "voiceInteract"
	OpTTS           OpKind = "tts"
	OpSummarize     OpKind = "summarize"
)

// Registry tracks at most one live cancellation handle per operation kind,
// backing the busy-to-cancel control flip in the UI. Starting an operation
// whose kind is already live cancels the prior handle first, so two requests
// of the same kind can never be in flight together.
//
// Cancellation through the registry surfaces as [context.Canceled] on the
// operation's context, which callers treat as a benign abort rather than a
// failure.
//
// Safe for concurrent use.
type Registry struct {
	mu   sync.Mutex
	live map[OpKind]*opHandle
}

type opHandle struct {
	cancel context.CancelFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[OpKind]*opHandle)}
}

// Start registers a new operation of the given kind and returns its context
// plus a done function. The done function must be called when the operation
// finishes for any reason; it releases the handle and is safe to call more
// than once. Any previously live handle of the same kind is cancelled before
// the new one is registered.
func (r *Registry) Start(parent context.Context, kind OpKind) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	h := &opHandle{cancel: cancel}

	r.mu.Lock()
	prev := r.live[kind]
	r.live[kind] = h
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	var once sync.Once
	done := func() {
		once.Do(func() {
			cancel()
			r.mu.Lock()
			// Only clear the slot if it still belongs to this operation; a
			// successor may have replaced it already.
			if r.live[kind] == h {
				delete(r.live, kind)
			}
			r.mu.Unlock()
		})
	}
	return ctx, done
}

// Cancel aborts the live operation of the given kind, if any, and reports
// whether one was live.
func (r *Registry) Cancel(kind OpKind) bool {
	r.mu.Lock()
	h := r.live[kind]
	r.mu.Unlock()
	if h == nil {
		return false
	}
	h.cancel()
	return true
}

// Busy reports whether an operation of the given kind is live.
func (r *Registry) Busy(kind OpKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[kind] != nil
}

// CancelAll aborts every live operation. Used on session teardown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	handles := make([]*opHandle, 0, len(r.live))
	for _, h := range r.live {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.cancel()
	}
}
