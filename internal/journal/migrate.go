package journal

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one schema step, applied exactly once and tracked in the
// schema_version table.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "webhook_log",
		SQL: `
		CREATE TABLE IF NOT EXISTS webhook_log (
			id          TEXT PRIMARY KEY,
			received_at DATETIME NOT NULL,
			message_id  TEXT DEFAULT '',
			customer_id TEXT DEFAULT '',
			type        TEXT DEFAULT '',
			outcome     TEXT NOT NULL,
			http_status INTEGER NOT NULL,
			body        TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_time ON webhook_log(received_at);
		CREATE INDEX IF NOT EXISTS idx_webhook_msg ON webhook_log(message_id);
		`,
	},
	{
		Version:     2,
		Description: "outbound_log",
		SQL: `
		CREATE TABLE IF NOT EXISTS outbound_log (
			id          TEXT PRIMARY KEY,
			sent_at     DATETIME NOT NULL,
			message_id  TEXT NOT NULL,
			customer_id TEXT DEFAULT '',
			status      TEXT NOT NULL,
			http_status INTEGER DEFAULT 0,
			error       TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_outbound_time ON outbound_log(sent_at);
		`,
	},
}

// schemaVersion is the version after every migration has been applied.
var schemaVersion = migrations[len(migrations)-1].Version

func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
