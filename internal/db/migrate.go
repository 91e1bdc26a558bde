// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/interntrack/internal/errors"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered schema history for the agent's cache.
// Append-only: released migrations are never edited, their checksums are
// verified against schema_migrations on startup.
var migrations = []Migration{
	{
		Version:     1,
		Description: "offline operation queue",
		SQL: `
		CREATE TABLE offline_queue (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			entity TEXT NOT NULL CHECK(length(entity) > 0),
			action TEXT NOT NULL CHECK(action IN ('create', 'update', 'delete')),
			temp_id TEXT NOT NULL DEFAULT '',
			record_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}',
			attempts INTEGER NOT NULL DEFAULT 0 CHECK(attempts >= 0),
			created_at INTEGER NOT NULL
		);`,
	},
	{
		Version:     2,
		Description: "sync state singleton",
		SQL: `
		CREATE TABLE sync_state (
			id INTEGER PRIMARY KEY CHECK(id = 1),
			failure_count INTEGER NOT NULL DEFAULT 0 CHECK(failure_count >= 0),
			last_attempt INTEGER NOT NULL DEFAULT 0,
			next_attempt INTEGER NOT NULL DEFAULT 0,
			is_syncing INTEGER NOT NULL DEFAULT 0
		);
		INSERT INTO sync_state (id) VALUES (1);`,
	},
	{
		Version:     3,
		Description: "validation errors",
		SQL: `
		CREATE TABLE validation_errors (
			id TEXT PRIMARY KEY,
			entity TEXT NOT NULL CHECK(length(entity) > 0),
			action TEXT NOT NULL DEFAULT '',
			temp_id TEXT NOT NULL DEFAULT '',
			record_id TEXT NOT NULL DEFAULT '',
			errors TEXT NOT NULL DEFAULT '{}',
			message TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX idx_validation_errors_entity ON validation_errors(entity, temp_id, record_id);`,
	},
	{
		Version:     4,
		Description: "drafts",
		SQL: `
		CREATE TABLE drafts (
			entity TEXT NOT NULL CHECK(length(entity) > 0),
			record_id TEXT NOT NULL CHECK(length(record_id) > 0),
			payload TEXT NOT NULL DEFAULT '{}',
			saved_at INTEGER NOT NULL,
			dirty INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (entity, record_id)
		);`,
	},
	{
		Version:     5,
		Description: "auth token storage",
		SQL: `
		CREATE TABLE auth_token (
			id INTEGER PRIMARY KEY CHECK(id = 1),
			token_encrypted TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Up applies all pending migrations in order.
func (m *Migrator) Up() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			if err := m.verifyChecksum(mig); err != nil {
				return err
			}
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", mig.Version, err)
		}

		if _, err := tx.Exec(mig.SQL); err != nil {
			tx.Rollback()
			return apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("migration %d (%s) failed", mig.Version, mig.Description), err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			mig.Version, time.Now().Unix(), mig.Description, checksum(mig.SQL),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", mig.Version, err)
		}
	}

	return nil
}

// verifyChecksum ensures an applied migration's SQL has not drifted.
func (m *Migrator) verifyChecksum(mig Migration) error {
	var stored string
	err := m.db.QueryRow("SELECT checksum FROM schema_migrations WHERE version = ?", mig.Version).Scan(&stored)
	if err == sql.ErrNoRows {
		// Version recorded as current but the row is missing; treat as drift.
		return apperrors.New(apperrors.ErrCacheCorrupt, fmt.Sprintf("migration %d has no record", mig.Version))
	}
	if err != nil {
		return err
	}
	if stored != checksum(mig.SQL) {
		return apperrors.New(apperrors.ErrCacheCorrupt, fmt.Sprintf("migration %d checksum mismatch", mig.Version))
	}
	return nil
}

// checksum computes the SHA-256 hex digest of migration SQL.
func checksum(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}
