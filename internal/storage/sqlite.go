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

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. The path must live on a local filesystem.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	if err := CheckLocalFilesystem(path); err != nil {
		return nil, err
	}

	// busy_timeout must hold on every pooled connection, not just the first.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
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

// BootstrapSQLite creates tables and indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
  id        TEXT PRIMARY KEY,
  name      TEXT NOT NULL,
  root_dir  TEXT NOT NULL DEFAULT '',
  main_repo TEXT NOT NULL DEFAULT ''
);`,
		`CREATE TABLE IF NOT EXISTS personas (
  id          TEXT PRIMARY KEY,
  name        TEXT NOT NULL,
  role        TEXT NOT NULL,
  project_id  TEXT NOT NULL DEFAULT '',
  personality TEXT NOT NULL DEFAULT '',
  skills      TEXT NOT NULL DEFAULT '',
  updated_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS tickets (
  id                    TEXT PRIMARY KEY,
  key                   TEXT NOT NULL UNIQUE,
  project_id            TEXT NOT NULL,
  title                 TEXT NOT NULL,
  description           TEXT NOT NULL DEFAULT '',
  acceptance_criteria   TEXT NOT NULL DEFAULT '',
  state                 TEXT NOT NULL,
  priority              INTEGER NOT NULL DEFAULT 0,
  research_completed_at TEXT,
  research_approved_at  TEXT,
  plan_approved_at      TEXT,
  last_agent_activity   TEXT,
  assignee_id           TEXT NOT NULL DEFAULT '',
  created_at            TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS documents (
  id         TEXT PRIMARY KEY,
  ticket_id  TEXT NOT NULL,
  type       TEXT NOT NULL,
  version    INTEGER NOT NULL,
  content    TEXT NOT NULL,
  author_id  TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  UNIQUE(ticket_id, type, version)
);`,
		`CREATE TABLE IF NOT EXISTS comments (
  id         TEXT PRIMARY KEY,
  ticket_id  TEXT NOT NULL,
  author_id  TEXT NOT NULL DEFAULT '',
  body       TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
  id         TEXT PRIMARY KEY,
  ticket_id  TEXT NOT NULL,
  persona_id TEXT NOT NULL DEFAULT '',
  action     TEXT NOT NULL,
  detail     TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS system_state (
  key        TEXT PRIMARY KEY,
  value      JSON NOT NULL DEFAULT '{}',
  updated_at TEXT NOT NULL
);`,
		// Superseded by conversations.
		`DROP TABLE IF EXISTS conversation_history;`,
		`CREATE TABLE IF NOT EXISTS conversations (
  ticket_id    TEXT NOT NULL,
  persona_id   TEXT NOT NULL,
  messages     JSON NOT NULL DEFAULT '[]',
  turns        INTEGER NOT NULL DEFAULT 0,
  input_tokens INTEGER NOT NULL DEFAULT 0,
  updated_at   TEXT NOT NULL,
  PRIMARY KEY (ticket_id, persona_id)
);`,
		`CREATE INDEX IF NOT EXISTS tickets_state_priority_idx ON tickets(state, priority DESC, created_at);`,
		`CREATE INDEX IF NOT EXISTS documents_ticket_type_idx ON documents(ticket_id, type, version);`,
		`CREATE INDEX IF NOT EXISTS comments_ticket_created_idx ON comments(ticket_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS personas_project_role_idx ON personas(project_id, role);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
