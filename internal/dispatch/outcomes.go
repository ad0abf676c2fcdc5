package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AttemptRecord is one device-level delivery result in the outcome log.
type AttemptRecord struct {
	EventID   string
	EntityID  string
	Category  string
	DeviceID  string
	Attempts  int
	Outcome   string
	LastError string
	CreatedAt time.Time
}

// OutcomeRepository persists delivery results for audit and debugging.
type OutcomeRepository interface {
	RecordAttempt(ctx context.Context, rec *AttemptRecord) error

	// ListByEvent returns all attempt records for one event id.
	ListByEvent(ctx context.Context, eventID string) ([]AttemptRecord, error)
}

// SQLiteOutcomeRepository implements OutcomeRepository using SQLite.
type SQLiteOutcomeRepository struct {
	db *sql.DB
}

// NewSQLiteOutcomeRepository creates a SQLite-backed outcome log.
func NewSQLiteOutcomeRepository(db *sql.DB) *SQLiteOutcomeRepository {
	return &SQLiteOutcomeRepository{db: db}
}

// RecordAttempt appends one delivery result.
func (r *SQLiteOutcomeRepository) RecordAttempt(ctx context.Context, rec *AttemptRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO delivery_outcomes
			(event_id, entity_id, category, device_id, attempts, outcome, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	ts := rec.CreatedAt.UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, query,
		rec.EventID,
		rec.EntityID,
		rec.Category,
		rec.DeviceID,
		rec.Attempts,
		rec.Outcome,
		nullableError(rec.LastError),
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("recording delivery outcome: %w", err)
	}
	return nil
}

// ListByEvent returns all attempt records for one event id.
func (r *SQLiteOutcomeRepository) ListByEvent(ctx context.Context, eventID string) ([]AttemptRecord, error) {
	query := `
		SELECT event_id, entity_id, category, device_id, attempts, outcome, last_error, created_at
		FROM delivery_outcomes
		WHERE event_id = ?
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying delivery outcomes: %w", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var lastError sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.EventID, &rec.EntityID, &rec.Category, &rec.DeviceID,
			&rec.Attempts, &rec.Outcome, &lastError, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning delivery outcome: %w", err)
		}
		rec.LastError = lastError.String
		rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivery outcomes: %w", err)
	}
	return out, nil
}

// nullableError maps an empty error string to NULL.
func nullableError(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
