// Package session implements the in-memory session store (C3): a
// process-local, mutex-guarded map from session id to the cached PBKDF2
// login secret used to rederive a request's KEK. Grounded directly on the
// original's session_store.py; intentionally non-persistent, so a process
// restart revokes every outstanding session.
package session

import (
	"sync"
	"time"
)

// Entry is what a session id maps to.
type Entry struct {
	LoginSecret []byte
	Exp         int64 // unix seconds
}

// TTL is the lifetime of a freshly created session.
const TTL = 3600 * time.Second

// Store is the single process-wide session map.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

func New() *Store {
	return &Store{entries: make(map[string]Entry), now: time.Now}
}

// Create registers sessionID with loginSecret, expiring after TTL.
func (s *Store) Create(sessionID string, loginSecret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = Entry{
		LoginSecret: loginSecret,
		Exp:         s.now().Add(TTL).Unix(),
	}
}

// Get returns the entry for sessionID, or ok=false if absent or expired.
// An expired entry is destroyed as a side effect of the lookup.
func (s *Store) Get(sessionID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return Entry{}, false
	}
	if entry.Exp <= s.now().Unix() {
		delete(s.entries, sessionID)
		return Entry{}, false
	}
	return entry, true
}

// Destroy removes sessionID unconditionally.
func (s *Store) Destroy(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
}

// CleanupExpired drops every entry whose exp has passed, returning the
// number removed. Intended to be called periodically by a background
// worker; never required for correctness since Get already self-cleans.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	removed := 0
	for id, entry := range s.entries {
		if entry.Exp <= now {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
