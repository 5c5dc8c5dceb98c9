// Package dedup suppresses duplicate notifications for the same build
// within a sliding debounce window.
package dedup

import (
	"context"
	"log"
	"sync"
	"time"

	"buildwatch/internal/domain"
)

// Store is an in-memory map from DedupKey to first-seen timestamp. A
// single mutex serializes admission so concurrent duplicates for the same
// build never both pass. Memory stays bounded through periodic sweeps.
type Store struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[domain.DedupKey]time.Time
	now    func() time.Time
}

func New(window time.Duration) *Store {
	return &Store{
		window: window,
		seen:   make(map[domain.DedupKey]time.Time),
		now:    time.Now,
	}
}

// Admit records the key and returns true the first time it is seen inside
// the window; every later call for the same key inside the window returns
// false. The first-seen timestamp is not refreshed, so a flapping build
// is suppressed for exactly one window from its first event.
func (s *Store) Admit(key domain.DedupKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if ts, ok := s.seen[key]; ok && now.Sub(ts) < s.window {
		return false
	}
	s.seen[key] = now
	return true
}

// Sweep evicts entries older than the window and returns how many were
// removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, ts := range s.seen {
		if now.Sub(ts) >= s.window {
			delete(s.seen, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// RunSweeper sweeps on an interval until the context is cancelled. The
// interval is half the window so stale entries live at most 1.5 windows.
func (s *Store) RunSweeper(ctx context.Context) {
	interval := s.window / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				log.Printf("dedup sweep removed=%d tracked=%d", removed, s.Len())
			}
		}
	}
}
