package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the host database at path and
// ensures the mailbox and signal tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// The worker and the dispatching process share the file; WAL lets the
	// dispatcher insert while the worker drains.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mailbox (
  id           TEXT PRIMARY KEY,
  job_id       TEXT NOT NULL,
  mode         TEXT NOT NULL,
  target       TEXT NOT NULL,
  job_kind     TEXT NOT NULL,
  message      JSON NOT NULL,
  status       TEXT NOT NULL,
  claims       INTEGER NOT NULL DEFAULT 0,
  created_at   TEXT NOT NULL,
  claimed_at   TEXT,
  completed_at TEXT,
  last_error   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS signal_outbox (
  target       TEXT NOT NULL,
  request_code INTEGER NOT NULL,
  message      JSON NOT NULL,
  updated_at   TEXT NOT NULL,
  PRIMARY KEY (target, request_code)
);`,
		`CREATE INDEX IF NOT EXISTS mailbox_target_status_created_at_idx ON mailbox(target, status, created_at);`,
		`CREATE INDEX IF NOT EXISTS mailbox_job_id_idx ON mailbox(job_id);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
