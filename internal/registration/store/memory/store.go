// Package memory is an in-process record store for tests and single-node
// development.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"audiovault/internal/registration"
	"audiovault/pkg/platform/sentinel"
)

// Store keys records by storage path. The path map is the only arbiter of
// duplicates; the other maps are derived from it.
type Store struct {
	mu        sync.RWMutex
	byPath    map[string]*registration.Record
	byID      map[uuid.UUID]string
	byPatient map[string][]string
}

func New() *Store {
	return &Store{
		byPath:    make(map[string]*registration.Record),
		byID:      make(map[uuid.UUID]string),
		byPatient: make(map[string][]string),
	}
}

// InsertIfAbsent stores record unless its storage path is already taken, in
// which case the stored record is returned with created=false.
func (s *Store) InsertIfAbsent(_ context.Context, record *registration.Record) (*registration.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byPath[record.StoragePath]; ok {
		return clone(existing), false, nil
	}
	stored := clone(record)
	s.byPath[stored.StoragePath] = stored
	s.byID[stored.ID] = stored.StoragePath
	if stored.PatientIndex != "" {
		s.byPatient[stored.PatientIndex] = append(s.byPatient[stored.PatientIndex], stored.StoragePath)
	}
	return clone(stored), true, nil
}

func (s *Store) FindByStoragePath(_ context.Context, storagePath string) (*registration.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.byPath[storagePath]; ok {
		return clone(rec), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*registration.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if path, ok := s.byID[id]; ok {
		return clone(s.byPath[path]), nil
	}
	return nil, sentinel.ErrNotFound
}

// ListByPatientIndex returns records in insertion order.
func (s *Store) ListByPatientIndex(_ context.Context, index string) ([]*registration.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := s.byPatient[index]
	out := make([]*registration.Record, 0, len(paths))
	for _, p := range paths {
		out = append(out, clone(s.byPath[p]))
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPath)
}

func clone(r *registration.Record) *registration.Record {
	c := *r
	c.EncryptedFields = slices.Clone(r.EncryptedFields)
	c.PlaintextFields = maps.Clone(r.PlaintextFields)
	c.InfoTypes = slices.Clone(r.InfoTypes)
	c.Resources = slices.Clone(r.Resources)
	return &c
}
