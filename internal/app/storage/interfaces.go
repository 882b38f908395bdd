// Package storage defines the persistence interfaces of the form service.
// Sessions themselves are ephemeral and never persisted; what is durable
// is the submission audit trail, including the permissive submissions the
// pipeline tolerates so the policy can be revisited with real data.
package storage

import (
	"context"
	"time"
)

// Submission outcomes recorded in the audit trail.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// SubmissionRecord is one audited submit attempt.
type SubmissionRecord struct {
	ID           string    `db:"id" json:"id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	DraftID      string    `db:"draft_id" json:"draft_id"`
	CategoryCode string    `db:"category_code" json:"category_code"`
	ProviderCode string    `db:"provider_code" json:"provider_code"`
	PackageCode  string    `db:"package_code" json:"package_code,omitempty"`
	Identifier   string    `db:"identifier" json:"identifier"`
	Amount       string    `db:"amount" json:"amount"`
	Outcome      string    `db:"outcome" json:"outcome"`
	Reference    string    `db:"reference" json:"reference,omitempty"`
	Permissive   bool      `db:"permissive" json:"permissive"`
	Error        string    `db:"error" json:"error,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// SubmissionAuditStore records submit attempts.
type SubmissionAuditStore interface {
	// RecordSubmission persists one attempt, assigning ID and CreatedAt
	// when unset.
	RecordSubmission(ctx context.Context, rec SubmissionRecord) (SubmissionRecord, error)

	// ListSubmissions returns the attempts for one session, newest first.
	ListSubmissions(ctx context.Context, sessionID string) ([]SubmissionRecord, error)

	// ListPermissiveSubmissions returns recent attempts that went through
	// the permissive branch, newest first.
	ListPermissiveSubmissions(ctx context.Context, limit int) ([]SubmissionRecord, error)
}
