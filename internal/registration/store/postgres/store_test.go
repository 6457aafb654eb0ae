package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiovault/internal/classifier"
	"audiovault/internal/encryption"
	"audiovault/internal/fields"
	"audiovault/internal/registration"
	"audiovault/pkg/platform/sentinel"
)

var columnNames = []string{
	"id", "storage_path", "file_name", "content_type", "file_size", "bundle_id",
	"encrypted_fields", "plaintext_fields", "risk_level", "has_sensitive_data",
	"degraded", "info_types", "resources", "patient_index", "created_at",
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func record() *registration.Record {
	return &registration.Record{
		ID:               uuid.MustParse("11111111-1111-4111-8111-111111111111"),
		StoragePath:      "audio_files/u1_20250101_000000_a.mp3",
		FileName:         "a.mp3",
		ContentType:      "audio/mpeg",
		FileSize:         512,
		BundleID:         uuid.MustParse("33333333-3333-4333-8333-333333333333"),
		EncryptedFields:  []encryption.EncryptedField{{Field: fields.PatientID, KeyID: "phi-v1", Ciphertext: "Y2lwaGVy"}},
		PlaintextFields:  fields.Values{fields.Reason: "checkup"},
		RiskLevel:        classifier.RiskMedium,
		HasSensitiveData: true,
		InfoTypes:        []string{"PATIENT_ID"},
		Resources:        []string{"Media/1", "Patient/2", "Provenance/3"},
		PatientIndex:     "abc123",
		CreatedAt:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func row(rec *registration.Record) *sqlmock.Rows {
	return sqlmock.NewRows(columnNames).AddRow(
		rec.ID.String(), rec.StoragePath, rec.FileName, rec.ContentType, rec.FileSize, rec.BundleID.String(),
		[]byte(`[{"field_name":"patient_id","key_id":"phi-v1","ciphertext":"Y2lwaGVy"}]`),
		[]byte(`{"reason":"checkup"}`),
		"MEDIUM", true, false, "{PATIENT_ID}", "{Media/1,Patient/2,Provenance/3}", rec.PatientIndex, rec.CreatedAt,
	)
}

func TestInsertIfAbsentCreates(t *testing.T) {
	store, mock := newMock(t)
	rec := record()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO audio_files .* ON CONFLICT \(storage_path\) DO NOTHING\s+RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(rec.ID.String()))
	mock.ExpectCommit()

	stored, created, err := store.InsertIfAbsent(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, rec.ID, stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentReturnsExistingOnConflict(t *testing.T) {
	store, mock := newMock(t)
	existing := record()
	incoming := record()
	incoming.ID = uuid.MustParse("44444444-4444-4444-8444-444444444444")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO audio_files`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT .* FROM audio_files WHERE storage_path = \$1`).
		WithArgs(existing.StoragePath).
		WillReturnRows(row(existing))
	mock.ExpectCommit()

	stored, created, err := store.InsertIfAbsent(context.Background(), incoming)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, stored.ID)
	assert.Equal(t, existing.EncryptedFields, stored.EncryptedFields)
	assert.Equal(t, existing.Resources, stored.Resources)
	assert.Equal(t, classifier.RiskMedium, stored.RiskLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIfAbsentRollsBackOnError(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO audio_files`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, err := store.InsertIfAbsent(context.Background(), record())
	assert.ErrorContains(t, err, "insert record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	store, mock := newMock(t)
	id := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM audio_files WHERE id = \$1`).
		WithArgs(id.String()).
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindByID(context.Background(), id)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestListByPatientIndex(t *testing.T) {
	store, mock := newMock(t)
	rec := record()
	mock.ExpectQuery(`SELECT .* FROM audio_files WHERE patient_index = \$1 ORDER BY created_at ASC`).
		WithArgs("abc123").
		WillReturnRows(row(rec))

	got, err := store.ListByPatientIndex(context.Background(), "abc123")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.StoragePath, got[0].StoragePath)
	assert.Equal(t, "checkup", got[0].PlaintextFields[fields.Reason])
}
