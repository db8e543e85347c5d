package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Open initializes the database connection and schema.
func Open(path string) (*sql.DB, error) {
	if err := ensureDirectory(path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		logrus.WithError(err).Warn("could not enable WAL mode")
	}

	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ensureDirectory(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}
	return nil
}

// CreateSchema creates all tables used by the engine.
func CreateSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS channels (
		channel_id     TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		is_operational INTEGER NOT NULL DEFAULT 1,
		min_threshold  REAL,
		max_threshold  REAL,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS connection_state (
		channel_id                TEXT PRIMARY KEY,
		is_currently_out_of_range INTEGER NOT NULL DEFAULT 0,
		out_of_range_since        DATETIME,
		last_alert_sent           DATETIME,
		updated_at                DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS dispatch_history (
		id              TEXT PRIMARY KEY,
		channel_id      TEXT NOT NULL,
		window_start    DATETIME NOT NULL,
		kind            TEXT NOT NULL,
		transport       TEXT NOT NULL,
		recipient_count INTEGER NOT NULL DEFAULT 0,
		sent_count      INTEGER NOT NULL DEFAULT 0,
		failed_count    INTEGER NOT NULL DEFAULT 0,
		reason          TEXT,
		message         TEXT NOT NULL DEFAULT '',
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_dispatch_channel ON dispatch_history(channel_id);
	CREATE INDEX IF NOT EXISTS idx_dispatch_created ON dispatch_history(created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}
