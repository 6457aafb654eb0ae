// Package postgres persists registration records in the audio_files table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"audiovault/internal/classifier"
	"audiovault/internal/registration"
	"audiovault/pkg/platform/sentinel"
	txcontext "audiovault/pkg/platform/tx"
)

// Store is backed by Postgres. The unique index on storage_path is the only
// duplicate arbiter.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const columns = `
	id, storage_path, file_name, content_type, file_size, bundle_id,
	encrypted_fields, plaintext_fields, risk_level, has_sensitive_data,
	degraded, info_types, resources, patient_index, created_at`

// InsertIfAbsent inserts record or, when its storage path is taken, returns
// the stored row with created=false.
func (s *Store) InsertIfAbsent(ctx context.Context, record *registration.Record) (*registration.Record, bool, error) {
	encrypted, err := json.Marshal(record.EncryptedFields)
	if err != nil {
		return nil, false, fmt.Errorf("marshal encrypted fields: %w", err)
	}
	plaintext, err := json.Marshal(record.PlaintextFields)
	if err != nil {
		return nil, false, fmt.Errorf("marshal plaintext fields: %w", err)
	}

	var (
		stored  *registration.Record
		created bool
	)
	err = txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		query := `
			INSERT INTO audio_files (` + columns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (storage_path) DO NOTHING
			RETURNING id
		`
		var id uuid.UUID
		err := s.execer(ctx).QueryRowContext(ctx, query,
			record.ID,
			record.StoragePath,
			record.FileName,
			record.ContentType,
			record.FileSize,
			record.BundleID,
			encrypted,
			plaintext,
			string(record.RiskLevel),
			record.HasSensitiveData,
			record.Degraded,
			pq.Array(record.InfoTypes),
			pq.Array(record.Resources),
			record.PatientIndex,
			record.CreatedAt,
		).Scan(&id)
		switch {
		case err == nil:
			stored, created = record, true
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("insert record: %w", err)
		}

		existing, err := s.FindByStoragePath(ctx, record.StoragePath)
		if err != nil {
			return fmt.Errorf("load existing record: %w", err)
		}
		stored = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *Store) FindByStoragePath(ctx context.Context, storagePath string) (*registration.Record, error) {
	query := `SELECT ` + columns + ` FROM audio_files WHERE storage_path = $1`
	return s.findOne(ctx, query, storagePath)
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*registration.Record, error) {
	query := `SELECT ` + columns + ` FROM audio_files WHERE id = $1`
	return s.findOne(ctx, query, id)
}

// ListByPatientIndex returns candidates for a patient, oldest first.
func (s *Store) ListByPatientIndex(ctx context.Context, index string) ([]*registration.Record, error) {
	query := `SELECT ` + columns + ` FROM audio_files WHERE patient_index = $1 ORDER BY created_at ASC, id ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query, index)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []*registration.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (*registration.Record, error) {
	rec, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*registration.Record, error) {
	var (
		rec       registration.Record
		risk      string
		encrypted []byte
		plaintext []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.StoragePath,
		&rec.FileName,
		&rec.ContentType,
		&rec.FileSize,
		&rec.BundleID,
		&encrypted,
		&plaintext,
		&risk,
		&rec.HasSensitiveData,
		&rec.Degraded,
		pq.Array(&rec.InfoTypes),
		pq.Array(&rec.Resources),
		&rec.PatientIndex,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}
	rec.RiskLevel = classifier.RiskLevel(risk)
	if err := json.Unmarshal(encrypted, &rec.EncryptedFields); err != nil {
		return nil, fmt.Errorf("decode encrypted fields: %w", err)
	}
	if err := json.Unmarshal(plaintext, &rec.PlaintextFields); err != nil {
		return nil, fmt.Errorf("decode plaintext fields: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
