package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestRepo creates an in-memory SQLite repository.
func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	repo, err := NewSQLiteRepository(db)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	return repo
}

// insertRow inserts a delivery log row with a specific timestamp.
func insertRow(t *testing.T, repo *SQLiteRepository, identifier, outcome string, createdAt time.Time) {
	t.Helper()

	_, err := repo.db.Exec(
		`INSERT INTO delivery_log (identifier, destination, message, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		identifier,
		"+15551234567",
		"hello",
		outcome,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		t.Fatalf("failed to insert delivery log row: %v", err)
	}
}

// TestRecord verifies delivery log writes and retrieval.
func TestRecord(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	entry := Entry{
		Identifier:  "dev-1",
		Destination: "+15551234567",
		Message:     "hello",
		Outcome:     OutcomeDelivered,
		Detail:      "sent",
		RequestID:   "dev-1:req-1",
	}
	if err := repo.Record(ctx, entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.List(ctx, "dev-1", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(entries))
	}

	got := entries[0]
	if got.Identifier != "dev-1" || got.Destination != "+15551234567" ||
		got.Message != "hello" || got.Outcome != OutcomeDelivered ||
		got.Detail != "sent" || got.RequestID != "dev-1:req-1" {
		t.Errorf("stored entry = %+v", got)
	}
	if got.ID == 0 {
		t.Error("stored entry has no row ID")
	}
	if got.CreatedAt.IsZero() {
		t.Error("stored entry has no timestamp")
	}
}

// TestRecordValidation verifies rejection of incomplete entries.
func TestRecordValidation(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	if err := repo.Record(ctx, Entry{Outcome: OutcomeFailed}); err == nil {
		t.Error("Record() accepted an entry without an identifier")
	}
	if err := repo.Record(ctx, Entry{Identifier: "dev-1"}); err == nil {
		t.Error("Record() accepted an entry without an outcome")
	}
}

// TestList verifies ordering, filtering and limit clamping.
func TestList(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	insertRow(t, repo, "dev-1", OutcomeDelivered, now.Add(-3*time.Hour))
	insertRow(t, repo, "dev-1", OutcomeTimeout, now.Add(-2*time.Hour))
	insertRow(t, repo, "dev-2", OutcomeDelivered, now.Add(-1*time.Hour))

	t.Run("newest first", func(t *testing.T) {
		entries, err := repo.List(ctx, "dev-1", 10)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("List() returned %d entries, want 2", len(entries))
		}
		if entries[0].Outcome != OutcomeTimeout || entries[1].Outcome != OutcomeDelivered {
			t.Errorf("entries out of order: %v, %v", entries[0].Outcome, entries[1].Outcome)
		}
	})

	t.Run("empty identifier lists all devices", func(t *testing.T) {
		entries, err := repo.List(ctx, "", 10)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 3 {
			t.Errorf("List() returned %d entries, want 3", len(entries))
		}
	})

	t.Run("respects limit", func(t *testing.T) {
		entries, err := repo.List(ctx, "", 1)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("List() returned %d entries, want 1", len(entries))
		}
	})

	t.Run("unknown device yields empty slice", func(t *testing.T) {
		entries, err := repo.List(ctx, "ghost", 10)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("List() returned %d entries, want 0", len(entries))
		}
	})
}

// TestPrune verifies old rows are removed and recent ones retained.
func TestPrune(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	insertRow(t, repo, "dev-1", OutcomeDelivered, now.Add(-48*time.Hour))
	insertRow(t, repo, "dev-1", OutcomeDelivered, now.Add(-30*time.Minute))

	deleted, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Prune() deleted %d rows, want 1", deleted)
	}

	entries, err := repo.List(ctx, "dev-1", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("List() returned %d entries after prune, want 1", len(entries))
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune() accepted a non-positive retention window")
	}
}
