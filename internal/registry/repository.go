package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines persistence for device registrations. The SQLite
// implementation is the production path; tests use in-memory mocks.
type Repository interface {
	// Get retrieves a registration by device id.
	// Returns ErrNotFound if none exists.
	Get(ctx context.Context, id string) (*Registration, error)

	// List retrieves all registrations.
	List(ctx context.Context) ([]Registration, error)

	// Upsert inserts or replaces a registration by device id.
	Upsert(ctx context.Context, reg *Registration) error

	// Delete removes a registration.
	// Returns ErrNotFound if none exists.
	Delete(ctx context.Context, id string) error

	// UpdateLastSeen sets the last-seen timestamp.
	// Returns ErrNotFound if none exists.
	UpdateLastSeen(ctx context.Context, id string, seen time.Time) error

	// SetCriticalEnabled flips the critical-delivery flag.
	// Returns ErrNotFound if none exists.
	SetCriticalEnabled(ctx context.Context, id string, enabled bool) error

	// DeleteSeenBefore removes registrations whose last-seen precedes
	// cutoff, returning the removed device ids.
	DeleteSeenBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const registrationColumns = "id, household_id, push_token, critical_enabled, registered_at, last_seen"

// Get retrieves a registration by device id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Registration, error) {
	query := "SELECT " + registrationColumns + " FROM device_registrations WHERE id = ?"
	reg, err := scanRegistration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying registration: %w", err)
	}
	return reg, nil
}

// List retrieves all registrations.
func (r *SQLiteRepository) List(ctx context.Context) ([]Registration, error) {
	query := "SELECT " + registrationColumns + " FROM device_registrations ORDER BY id"
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying registrations: %w", err)
	}
	defer rows.Close()

	var regs []Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registrations: %w", err)
	}
	return regs, nil
}

// Upsert inserts or replaces a registration by device id.
func (r *SQLiteRepository) Upsert(ctx context.Context, reg *Registration) error {
	query := `
		INSERT INTO device_registrations (` + registrationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			household_id = excluded.household_id,
			push_token = excluded.push_token,
			critical_enabled = excluded.critical_enabled,
			last_seen = excluded.last_seen`

	_, err := r.db.ExecContext(ctx, query,
		reg.ID,
		reg.HouseholdID,
		reg.PushToken,
		boolToInt(reg.CriticalEnabled),
		reg.RegisteredAt.UTC().Format(time.RFC3339),
		reg.LastSeen.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting registration: %w", err)
	}
	return nil
}

// Delete removes a registration.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM device_registrations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting registration: %w", err)
	}
	return requireRowsAffected(result)
}

// UpdateLastSeen sets the last-seen timestamp.
func (r *SQLiteRepository) UpdateLastSeen(ctx context.Context, id string, seen time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE device_registrations SET last_seen = ? WHERE id = ?",
		seen.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating last seen: %w", err)
	}
	return requireRowsAffected(result)
}

// SetCriticalEnabled flips the critical-delivery flag.
func (r *SQLiteRepository) SetCriticalEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE device_registrations SET critical_enabled = ? WHERE id = ?",
		boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("updating critical flag: %w", err)
	}
	return requireRowsAffected(result)
}

// DeleteSeenBefore removes registrations whose last-seen precedes cutoff.
func (r *SQLiteRepository) DeleteSeenBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	cutoffStr := cutoff.UTC().Format(time.RFC3339)

	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM device_registrations WHERE last_seen < ?", cutoffStr)
	if err != nil {
		return nil, fmt.Errorf("querying expired registrations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning expired id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired ids: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM device_registrations WHERE last_seen < ?", cutoffStr); err != nil {
		return nil, fmt.Errorf("deleting expired registrations: %w", err)
	}
	return ids, nil
}

// rowScanner is implemented by sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRegistration scans one row into a Registration.
func scanRegistration(scanner rowScanner) (*Registration, error) {
	var reg Registration
	var criticalEnabled int
	var registeredAt, lastSeen string

	err := scanner.Scan(
		&reg.ID,
		&reg.HouseholdID,
		&reg.PushToken,
		&criticalEnabled,
		&registeredAt,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	reg.CriticalEnabled = criticalEnabled != 0

	reg.RegisteredAt, err = time.Parse(time.RFC3339, registeredAt)
	if err != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", err)
	}
	reg.LastSeen, err = time.Parse(time.RFC3339, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	return &reg, nil
}

// requireRowsAffected converts a zero-row result into ErrNotFound.
func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
