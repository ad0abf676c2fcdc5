package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists the monitoring configuration.
type Repository interface {
	// Load returns the stored configuration and its version.
	// Returns ErrNotConfigured when nothing has been saved yet.
	Load(ctx context.Context) (Config, int64, error)

	// Save stores the configuration at the given version. The write
	// fails with ErrVersionConflict if the stored version is not
	// exactly version-1 (optimistic concurrency).
	Save(ctx context.Context, cfg Config, version int64) error
}

// SQLiteRepository implements Repository against the monitoring_config
// table, which holds at most one row.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Load returns the stored configuration and its version.
func (r *SQLiteRepository) Load(ctx context.Context) (Config, int64, error) {
	var version int64
	var payload string

	err := r.db.QueryRowContext(ctx,
		"SELECT version, payload FROM monitoring_config WHERE id = 1").
		Scan(&version, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, 0, ErrNotConfigured
		}
		return Config{}, 0, fmt.Errorf("querying monitoring config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return Config{}, 0, fmt.Errorf("unmarshalling monitoring config: %w", err)
	}
	return cfg, version, nil
}

// Save stores the configuration at the given version.
func (r *SQLiteRepository) Save(ctx context.Context, cfg Config, version int64) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling monitoring config: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	// Single-row upsert guarded by the expected previous version.
	// version 1 inserts; later versions replace only when the stored
	// row still carries version-1.
	query := `
		INSERT INTO monitoring_config (id, version, payload, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			updated_at = excluded.updated_at
		WHERE monitoring_config.version = excluded.version - 1`

	result, err := r.db.ExecContext(ctx, query, version, string(payload), now)
	if err != nil {
		return fmt.Errorf("saving monitoring config: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}
