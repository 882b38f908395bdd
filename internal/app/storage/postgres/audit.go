// Package postgres is the durable implementation of the submission audit
// store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/paydeck/formflow/internal/app/storage"
)

// Store persists submission audit records in Postgres.
type Store struct {
	db *sqlx.DB
}

var _ storage.SubmissionAuditStore = (*Store)(nil)

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection, primarily for tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates the audit table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS submission_audit (
	id            TEXT PRIMARY KEY,
	session_id    TEXT NOT NULL,
	draft_id      TEXT NOT NULL,
	category_code TEXT NOT NULL,
	provider_code TEXT NOT NULL,
	package_code  TEXT NOT NULL DEFAULT '',
	identifier    TEXT NOT NULL,
	amount        TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	reference     TEXT NOT NULL DEFAULT '',
	permissive    BOOLEAN NOT NULL DEFAULT FALSE,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS submission_audit_session_idx ON submission_audit (session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS submission_audit_permissive_idx ON submission_audit (permissive, created_at DESC);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate submission_audit: %w", err)
	}
	return nil
}

// RecordSubmission persists one attempt.
func (s *Store) RecordSubmission(ctx context.Context, rec storage.SubmissionRecord) (storage.SubmissionRecord, error) {
	if rec.SessionID == "" {
		return storage.SubmissionRecord{}, fmt.Errorf("session_id is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const query = `
INSERT INTO submission_audit
	(id, session_id, draft_id, category_code, provider_code, package_code,
	 identifier, amount, outcome, reference, permissive, error, created_at)
VALUES
	(:id, :session_id, :draft_id, :category_code, :provider_code, :package_code,
	 :identifier, :amount, :outcome, :reference, :permissive, :error, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return storage.SubmissionRecord{}, fmt.Errorf("insert submission audit: %w", err)
	}
	return rec, nil
}

// ListSubmissions returns a session's attempts, newest first.
func (s *Store) ListSubmissions(ctx context.Context, sessionID string) ([]storage.SubmissionRecord, error) {
	const query = `
SELECT id, session_id, draft_id, category_code, provider_code, package_code,
       identifier, amount, outcome, reference, permissive, error, created_at
FROM submission_audit
WHERE session_id = $1
ORDER BY created_at DESC`
	var out []storage.SubmissionRecord
	if err := s.db.SelectContext(ctx, &out, query, sessionID); err != nil {
		return nil, fmt.Errorf("list submission audit: %w", err)
	}
	return out, nil
}

// ListPermissiveSubmissions returns recent permissive attempts, newest
// first.
func (s *Store) ListPermissiveSubmissions(ctx context.Context, limit int) ([]storage.SubmissionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
SELECT id, session_id, draft_id, category_code, provider_code, package_code,
       identifier, amount, outcome, reference, permissive, error, created_at
FROM submission_audit
WHERE permissive
ORDER BY created_at DESC
LIMIT $1`
	var out []storage.SubmissionRecord
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("list permissive submissions: %w", err)
	}
	return out, nil
}
