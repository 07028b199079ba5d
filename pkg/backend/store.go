package backend

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RefScheme prefixes references minted by [AudioStore] for inline audio
// payloads, distinguishing them from backend-served URLs.
const RefScheme = "mem:"

// AudioStore mints playable references for inline audio payloads the backend
// returns in-band (base64 reply audio) instead of as URLs. The player factory
// resolves minted references back to bytes.
//
// Safe for concurrent use.
type AudioStore struct {
	mu      sync.Mutex
	entries map[string]storedAudio
}

type storedAudio struct {
	data     []byte
	mimeType string
}

// NewAudioStore returns an empty store.
func NewAudioStore() *AudioStore {
	return &AudioStore{entries: make(map[string]storedAudio)}
}

// Put stores data and returns a reference for it.
func (s *AudioStore) Put(data []byte, mimeType string) string {
	ref := RefScheme + uuid.NewString()
	s.mu.Lock()
	s.entries[ref] = storedAudio{data: data, mimeType: mimeType}
	s.mu.Unlock()
	return ref
}

// Get resolves a reference minted by Put. The second result is false for
// unknown or already-released references.
func (s *AudioStore) Get(ref string) (data []byte, mimeType string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ref]
	return e.data, e.mimeType, ok
}

// Release frees the payload behind ref. Releasing an unknown reference is a
// no-op, so a reference can be released exactly once without bookkeeping at
// the call site.
func (s *AudioStore) Release(ref string) {
	s.mu.Lock()
	delete(s.entries, ref)
	s.mu.Unlock()
}

// Len returns the number of live payloads.
func (s *AudioStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IsStoreRef reports whether ref was minted by an AudioStore.
func IsStoreRef(ref string) bool {
	return strings.HasPrefix(ref, RefScheme)
}
