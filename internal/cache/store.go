// Package cache implements the in-memory response cache fronting the public
// read routes: a TTL store with periodic sweep, the policy deciding which
// requests may use it, and the HTTP middleware tying both together.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL applies when a caller stores an entry without choosing a TTL
// class.
const DefaultTTL = 10 * time.Minute

// Entry is one cached response. Body is held by reference for performance;
// callers must treat returned entries as read-only.
type Entry struct {
	Status      int
	ContentType string
	Body        []byte
	StoredAt    time.Time
	ExpiresAt   time.Time
}

// Stats reports store occupancy and consultation counters.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Store holds cached responses with per-entry expiry. All methods are safe
// for concurrent use; FlushAll swaps the whole map so readers never observe
// a partially cleared store.
type Store struct {
	defaultTTL time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	entries   map[string]Entry
	hits      uint64
	misses    uint64
	evictions uint64
}

// StoreOption customizes store construction.
type StoreOption func(*Store)

// WithClock substitutes the time source, used by tests to step through
// expiry without sleeping.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore builds an empty store. A non-positive defaultTTL falls back to
// DefaultTTL.
func NewStore(defaultTTL time.Duration, opts ...StoreOption) *Store {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	s := &Store{
		defaultTTL: defaultTTL,
		now:        time.Now,
		entries:    make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get reports the live entry for key. An expired entry found during lookup
// is evicted lazily; a missing key is a normal miss, never an error.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		s.misses++
		return Entry{}, false
	}
	if s.now().After(entry.ExpiresAt) {
		delete(s.entries, key)
		s.evictions++
		s.misses++
		return Entry{}, false
	}
	s.hits++
	return entry, true
}

// Set stores an entry under key, overwriting any previous one. A
// non-positive ttl selects the store-wide default.
func (s *Store) Set(key string, entry Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = s.now().UTC()
	}
	entry.ExpiresAt = entry.StoredAt.Add(ttl)
	s.entries[key] = entry
}

// Delete removes the entry for key, if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// FlushAll drops every entry at once. Safe to call repeatedly and while
// concurrent requests are reading.
func (s *Store) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
}

// Len reports the current entry count, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats snapshots occupancy and counters for the admin stats surface.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Entries:   len(s.entries),
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}

// Sweep removes every entry past its expiry and reports how many were
// dropped. It bounds memory growth from entries that are set but never read
// again.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	s.evictions += uint64(removed)
	return removed
}

// StartJanitor runs Sweep on the given interval until ctx is canceled. The
// optional onSweep callback observes each pass (the daemon publishes the
// remaining count as a gauge).
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger, onSweep func(removed, remaining int)) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := s.Sweep()
				remaining := s.Len()
				if removed > 0 && logger != nil {
					logger.Debug("cache sweep", slog.Int("removed", removed), slog.Int("remaining", remaining))
				}
				if onSweep != nil {
					onSweep(removed, remaining)
				}
			}
		}
	}()
}
