// Package memory is an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paydeck/formflow/internal/app/storage"
)

// Store holds audit records in memory.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	submissions []storage.SubmissionRecord
}

var _ storage.SubmissionAuditStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{nextID: 1}
}

// RecordSubmission appends one attempt.
func (s *Store) RecordSubmission(_ context.Context, rec storage.SubmissionRecord) (storage.SubmissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.SessionID == "" {
		return storage.SubmissionRecord{}, fmt.Errorf("session_id is required")
	}
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("%d", s.nextID)
		s.nextID++
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.submissions = append(s.submissions, rec)
	return rec, nil
}

// ListSubmissions returns a session's attempts, newest first.
func (s *Store) ListSubmissions(_ context.Context, sessionID string) ([]storage.SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.SubmissionRecord
	for _, rec := range s.submissions {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListPermissiveSubmissions returns recent permissive attempts, newest
// first.
func (s *Store) ListPermissiveSubmissions(_ context.Context, limit int) ([]storage.SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.SubmissionRecord
	for _, rec := range s.submissions {
		if rec.Permissive {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
