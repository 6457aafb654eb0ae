package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"audiovault/pkg/platform/audit"
	txcontext "audiovault/pkg/platform/tx"
)

// Store appends entries to the audit_entries table. Rows are never updated
// or deleted.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts entry. Re-delivery of the same id is a no-op.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_entries (
			id, timestamp, category, actor, resource_id, action,
			stage, risk_level, success, detail,
			request_id, client_ip, client_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		string(entry.Category),
		entry.Actor,
		entry.ResourceID,
		entry.Action,
		entry.Stage,
		entry.RiskLevel,
		entry.Success,
		detail,
		entry.RequestID,
		entry.ClientIP,
		entry.ClientAgent,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByResource returns the audit trail for resourceID, oldest first.
func (s *Store) ListByResource(ctx context.Context, resourceID string) ([]audit.Entry, error) {
	query := `
		SELECT id, timestamp, category, actor, resource_id, action,
			   stage, risk_level, success, detail,
			   request_id, client_ip, client_agent
		FROM audit_entries
		WHERE resource_id = $1
		ORDER BY timestamp ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e        audit.Entry
			id       uuid.UUID
			category string
			detail   []byte
		)
		err := rows.Scan(
			&id,
			&e.Timestamp,
			&category,
			&e.Actor,
			&e.ResourceID,
			&e.Action,
			&e.Stage,
			&e.RiskLevel,
			&e.Success,
			&detail,
			&e.RequestID,
			&e.ClientIP,
			&e.ClientAgent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ID = id
		e.Category = audit.Category(category)
		if len(detail) > 0 && string(detail) != "null" {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
