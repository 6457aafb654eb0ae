// Package redis stores registration records as JSON documents in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"audiovault/internal/registration"
	"audiovault/pkg/platform/sentinel"
)

const (
	pathPrefix    = "audiofile:path:"
	idPrefix      = "audiofile:id:"
	patientPrefix = "audiofile:patient:"
)

// Store keeps one document per storage path. SETNX on the path key decides
// duplicates; the id key and patient set are secondary and rewritten
// idempotently by every insert attempt.
type Store struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) InsertIfAbsent(ctx context.Context, record *registration.Record) (*registration.Record, bool, error) {
	doc, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("marshal record: %w", err)
	}

	created, err := s.client.SetNX(ctx, pathPrefix+record.StoragePath, doc, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("insert record: %w", err)
	}

	stored := record
	if !created {
		stored, err = s.FindByStoragePath(ctx, record.StoragePath)
		if err != nil {
			return nil, false, fmt.Errorf("load existing record: %w", err)
		}
	}
	if err := s.index(ctx, stored); err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *Store) index(ctx context.Context, rec *registration.Record) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, idPrefix+rec.ID.String(), rec.StoragePath, 0)
		if rec.PatientIndex != "" {
			pipe.SAdd(ctx, patientPrefix+rec.PatientIndex, rec.StoragePath)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index record: %w", err)
	}
	return nil
}

func (s *Store) FindByStoragePath(ctx context.Context, storagePath string) (*registration.Record, error) {
	doc, err := s.client.Get(ctx, pathPrefix+storagePath).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return decode(doc)
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*registration.Record, error) {
	path, err := s.client.Get(ctx, idPrefix+id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record id: %w", err)
	}
	return s.FindByStoragePath(ctx, path)
}

// ListByPatientIndex returns records oldest first.
func (s *Store) ListByPatientIndex(ctx context.Context, index string) ([]*registration.Record, error) {
	paths, err := s.client.SMembers(ctx, patientPrefix+index).Result()
	if err != nil {
		return nil, fmt.Errorf("list patient records: %w", err)
	}
	if len(paths) == 0 {
		return []*registration.Record{}, nil
	}

	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = pathPrefix + p
	}
	docs, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get patient records: %w", err)
	}

	records := make([]*registration.Record, 0, len(docs))
	for _, d := range docs {
		doc, ok := d.(string)
		if !ok {
			continue
		}
		rec, err := decode([]byte(doc))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b *registration.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return records, nil
}

func decode(doc []byte) (*registration.Record, error) {
	var rec registration.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
