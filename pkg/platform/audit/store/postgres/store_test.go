package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiovault/pkg/platform/audit"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func entry() audit.Entry {
	return audit.Entry{
		ID:         uuid.MustParse("22222222-2222-4222-8222-222222222222"),
		Timestamp:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Category:   audit.CategoryPHIAccess,
		Actor:      "u1",
		ResourceID: "rec-1",
		Action:     audit.ActionRegistrationCompleted,
		RiskLevel:  "MEDIUM",
		Success:    true,
		Detail:     map[string]string{"bundle_id": "b-1"},
		RequestID:  "req-1",
	}
}

func TestAppendIsIdempotentInsert(t *testing.T) {
	store, mock := newMock(t)
	e := entry()

	mock.ExpectExec(`INSERT INTO audit_entries .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs(e.ID.String(), e.Timestamp, "phi_access", "u1", "rec-1", audit.ActionRegistrationCompleted,
			"", "MEDIUM", true, []byte(`{"bundle_id":"b-1"}`), "req-1", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Append(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendWrapsDriverError(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO audit_entries`).WillReturnError(errors.New("connection reset"))

	err := store.Append(context.Background(), entry())
	assert.ErrorContains(t, err, "insert audit entry")
}

func TestListByResource(t *testing.T) {
	store, mock := newMock(t)
	e := entry()

	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "category", "actor", "resource_id", "action",
		"stage", "risk_level", "success", "detail", "request_id", "client_ip", "client_agent",
	}).
		AddRow(e.ID.String(), e.Timestamp, "system_access", "u1", "rec-1", audit.ActionRegistrationStage,
			"classified", "MEDIUM", true, []byte("null"), "req-1", "10.0.0.1", "Chrome/Linux").
		AddRow(e.ID.String(), e.Timestamp, "phi_access", "u1", "rec-1", audit.ActionRegistrationCompleted,
			"", "MEDIUM", true, []byte(`{"bundle_id":"b-1"}`), "req-1", "10.0.0.1", "Chrome/Linux")
	mock.ExpectQuery(`SELECT .* FROM audit_entries\s+WHERE resource_id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(rows)

	got, err := store.ListByResource(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "classified", got[0].Stage)
	assert.Nil(t, got[0].Detail)
	assert.Equal(t, audit.CategoryPHIAccess, got[1].Category)
	assert.Equal(t, "b-1", got[1].Detail["bundle_id"])
	assert.True(t, got[1].IsTerminal())
	assert.NoError(t, mock.ExpectationsWereMet())
}
