package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with an expiration index.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	index   *expirationIndex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		index:   newExpirationIndex(),
	}
}

// Get retrieves an entry. Returns (nil, false) on miss.
// Expired entries are returned; callers decide whether they are live.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[fingerprint]
	s.mu.RUnlock()
	return e, ok
}

// Put stores or replaces an entry.
func (s *MemoryStore) Put(_ context.Context, entry *Entry) error {
	if entry == nil {
		return ErrNilEntry
	}
	if err := ValidateKey(entry.Fingerprint); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[entry.Fingerprint]; ok && !old.Never() {
		s.index.remove(old.Fingerprint, old.ExpiresAt)
	}
	s.entries[entry.Fingerprint] = entry
	if !entry.Never() {
		s.index.add(entry.Fingerprint, entry.ExpiresAt)
	}
	return nil
}

// Invalidate removes entries whose ID or fingerprint equals match.
func (s *MemoryStore) Invalidate(_ context.Context, match string) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*Entry
	if e, ok := s.entries[match]; ok {
		s.removeLocked(e)
		removed = append(removed, e)
	}
	for _, e := range s.entries {
		if e.ID == match {
			s.removeLocked(e)
			removed = append(removed, e)
		}
	}
	return removed, nil
}

// Entries returns a snapshot of all stored entries.
func (s *MemoryStore) Entries(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

// Due returns the fingerprints expiring at or before now, earliest first.
func (s *MemoryStore) Due(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.due(now), nil
}

// RemoveIfExpired removes fingerprint if its entry is still expired at now.
func (s *MemoryStore) RemoveIfExpired(_ context.Context, fingerprint string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[fingerprint]
	if !ok || !e.Expired(now) {
		return false, nil
	}
	s.removeLocked(e)
	return true, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// indexed reports the number of index memberships.
func (s *MemoryStore) indexed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.size()
}

func (s *MemoryStore) removeLocked(e *Entry) {
	delete(s.entries, e.Fingerprint)
	if !e.Never() {
		s.index.remove(e.Fingerprint, e.ExpiresAt)
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
