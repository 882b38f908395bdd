package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/paydeck/formflow/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestMigrateCreatesSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS submission_audit").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordSubmissionInsertsAndStamps(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO submission_audit").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec, err := store.RecordSubmission(context.Background(), storage.SubmissionRecord{
		SessionID:    "s1",
		DraftID:      "d1",
		CategoryCode: "bills",
		ProviderCode: "dstv",
		Amount:       "9000",
		Outcome:      storage.OutcomeAccepted,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Fatalf("record not stamped: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordSubmissionRequiresSessionID(t *testing.T) {
	store, _ := newMockStore(t)
	if _, err := store.RecordSubmission(context.Background(), storage.SubmissionRecord{}); err == nil {
		t.Fatal("record without session_id accepted")
	}
}

func auditColumns() []string {
	return []string{
		"id", "session_id", "draft_id", "category_code", "provider_code",
		"package_code", "identifier", "amount", "outcome", "reference",
		"permissive", "error", "created_at",
	}
}

func TestListSubmissions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(auditColumns()).
		AddRow("a", "s1", "d2", "bills", "dstv", "compact", "123", "9000",
			storage.OutcomeAccepted, "TX-2", false, "", now).
		AddRow("b", "s1", "d1", "bills", "dstv", "compact", "123", "9000",
			storage.OutcomeFailed, "", false, "gateway timeout", now.Add(-time.Minute))
	mock.ExpectQuery("SELECT (.+) FROM submission_audit").
		WithArgs("s1").
		WillReturnRows(rows)

	got, err := store.ListSubmissions(context.Background(), "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].Reference != "TX-2" || got[1].Error != "gateway timeout" {
		t.Fatalf("records = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListPermissiveSubmissionsDefaultsLimit(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows(auditColumns()).
		AddRow("a", "s1", "d1", "bills", "nepa", "", "456", "2500",
			storage.OutcomeAccepted, "TX-1", true, "", time.Now().UTC())
	mock.ExpectQuery("SELECT (.+) FROM submission_audit").
		WithArgs(100).
		WillReturnRows(rows)

	got, err := store.ListPermissiveSubmissions(context.Background(), 0)
	if err != nil {
		t.Fatalf("list permissive: %v", err)
	}
	if len(got) != 1 || !got[0].Permissive {
		t.Fatalf("records = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
