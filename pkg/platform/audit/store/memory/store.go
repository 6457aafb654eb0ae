package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"audiovault/pkg/platform/audit"
)

// Store keeps entries in process. Appends are idempotent on entry id.
type Store struct {
	mu         sync.RWMutex
	entries    []audit.Entry
	seen       map[uuid.UUID]struct{}
	byResource map[string][]int
}

func New() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Store) reset() {
	s.entries = nil
	s.seen = make(map[uuid.UUID]struct{})
	s.byResource = make(map[string][]int)
}

func (s *Store) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[entry.ID]; ok {
		return nil
	}
	s.seen[entry.ID] = struct{}{}
	s.byResource[entry.ResourceID] = append(s.byResource[entry.ResourceID], len(s.entries))
	s.entries = append(s.entries, entry)
	return nil
}

// ListByResource returns entries for resourceID in append order.
func (s *Store) ListByResource(_ context.Context, resourceID string) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byResource[resourceID]
	out := make([]audit.Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// ListAll returns every entry in append order.
func (s *Store) ListAll(_ context.Context) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries), nil
}

// Count returns entries matching action, across all resources.
func (s *Store) Count(action string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}
