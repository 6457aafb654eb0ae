// Package memory keeps rate limit windows in process memory. It serves single
// instance deployments and is the fallback when the shared store fails.
package memory

import (
	"context"
	"sync"
	"time"
)

type Store struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	blocked map[string]time.Time
}

func New() *Store {
	return &Store{
		windows: make(map[string][]time.Time),
		blocked: make(map[string]time.Time),
	}
}

func (s *Store) Hit(_ context.Context, key string, now time.Time, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	ts := s.windows[key]
	i := 0
	for ; i < len(ts); i++ {
		if ts[i].After(cutoff) {
			break
		}
	}
	ts = append(ts[i:], now)
	s.windows[key] = ts
	return len(ts), ts[0], nil
}

func (s *Store) Block(_ context.Context, key string, now time.Time, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[key] = now.Add(d)
	delete(s.windows, key)
	return nil
}

func (s *Store) BlockedUntil(_ context.Context, key string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocked[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if !now.Before(until) {
		delete(s.blocked, key)
		return time.Time{}, false, nil
	}
	return until, true, nil
}
