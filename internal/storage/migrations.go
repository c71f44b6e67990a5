package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application
// expects. If the database cannot be migrated to this version, it's a
// fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					date DATETIME NOT NULL,
					amount TEXT NOT NULL,
					category TEXT NOT NULL,
					description TEXT,
					payer TEXT,
					split TEXT,
					split_among TEXT,
					settled INTEGER NOT NULL DEFAULT 0,
					settled_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE INDEX idx_transactions_category ON transactions(category)`,

				`CREATE TABLE IF NOT EXISTS participants (
					id TEXT PRIMARY KEY,
					added_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS category_baselines (
					category TEXT PRIMARY KEY,
					average REAL NOT NULL,
					total TEXT NOT NULL,
					count INTEGER NOT NULL,
					frequency REAL NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS participant_baselines (
					participant TEXT NOT NULL,
					category TEXT NOT NULL,
					average REAL NOT NULL,
					total TEXT NOT NULL,
					count INTEGER NOT NULL,
					PRIMARY KEY (participant, category)
				)`,

				`CREATE TABLE IF NOT EXISTS frequency_patterns (
					category TEXT PRIMARY KEY,
					average_days REAL NOT NULL,
					min_days REAL NOT NULL,
					max_days REAL NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS anomaly_feedback (
					position INTEGER PRIMARY KEY AUTOINCREMENT,
					id TEXT NOT NULL,
					category TEXT NOT NULL,
					amount TEXT NOT NULL,
					detected_at DATETIME NOT NULL,
					was_accurate INTEGER
				)`,

				`CREATE TABLE IF NOT EXISTS settlement_history (
					position INTEGER PRIMARY KEY AUTOINCREMENT,
					amount TEXT NOT NULL,
					participants TEXT NOT NULL,
					date DATETIME NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS patterns_meta (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					last_updated DATETIME NOT NULL
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Index unsettled transactions for settlement queries",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_transactions_settled ON transactions(settled)`)
			if err != nil {
				return fmt.Errorf("failed to create settled index: %w", err)
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Track the source transaction on anomaly feedback entries",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`ALTER TABLE anomaly_feedback ADD COLUMN transaction_id TEXT NOT NULL DEFAULT ''`)
			if err != nil {
				return fmt.Errorf("failed to add transaction_id column: %w", err)
			}
			return nil
		},
	},
}

// Migrate brings the database schema up to the expected version.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to set schema version %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	return nil
}
