package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// schema creates the delivery log table. Additive-only; new columns must be
// nullable or carry defaults.
const schema = `
CREATE TABLE IF NOT EXISTS delivery_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier  TEXT NOT NULL,
	destination TEXT NOT NULL,
	message     TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_delivery_log_identifier ON delivery_log(identifier, created_at);
`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a delivery history repository and ensures its
// schema exists.
func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating delivery_log schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Record inserts a new delivery log row.
func (r *SQLiteRepository) Record(ctx context.Context, entry Entry) error {
	if entry.Identifier == "" {
		return fmt.Errorf("device identifier is required")
	}
	if entry.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delivery_log (identifier, destination, message, outcome, detail, request_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Identifier,
		entry.Destination,
		entry.Message,
		entry.Outcome,
		entry.Detail,
		entry.RequestID,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery log: %w", err)
	}

	return nil
}

// List returns recent delivery log rows, newest first. An empty identifier
// lists across all devices. Limit defaults to 50 and is clamped to 200.
func (r *SQLiteRepository) List(ctx context.Context, identifier string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, identifier, destination, message, outcome, detail, request_id, created_at
		 FROM delivery_log`
	args := []any{}
	if identifier != "" {
		query += " WHERE identifier = ?"
		args = append(args, identifier)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying delivery log: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.Identifier, &entry.Destination, &entry.Message,
			&entry.Outcome, &entry.Detail, &entry.RequestID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning delivery log: %w", err)
		}

		timestamp, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery log: %w", err)
	}

	return entries, nil
}

// Prune deletes delivery log rows older than the given duration.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM delivery_log WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting delivery log: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
