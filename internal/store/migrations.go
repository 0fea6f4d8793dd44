package store

import (
	"database/sql"
	"fmt"
	"strconv"
)

// migration is one schema version step. Versions apply in order inside
// a transaction each; the reached version is recorded in meta.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{1, []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			card_name    TEXT NOT NULL DEFAULT '',
			bank_name    TEXT NOT NULL DEFAULT '',
			bank_key     TEXT NOT NULL DEFAULT '',
			network      TEXT NOT NULL DEFAULT '',
			tier         TEXT NOT NULL DEFAULT '',
			root_url     TEXT NOT NULL,
			model        TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','processing','completed','failed')),
			validation   TEXT NOT NULL DEFAULT 'pending' CHECK(validation IN ('pending','requires_review','validated')),
			confidence   REAL NOT NULL DEFAULT 0,
			completeness REAL NOT NULL DEFAULT 0,
			item_count   INTEGER NOT NULL DEFAULT 0,
			source_count INTEGER NOT NULL DEFAULT 0,
			error_count  INTEGER NOT NULL DEFAULT 0,
			started_at   DATETIME NOT NULL,
			finished_at  DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_card ON runs(card_name)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS sources (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			url         TEXT NOT NULL,
			parent_url  TEXT NOT NULL DEFAULT '',
			depth       INTEGER NOT NULL DEFAULT 0,
			title       TEXT NOT NULL DEFAULT '',
			page_type   TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'fetched' CHECK(status IN ('fetched','failed','skipped')),
			relevance   REAL NOT NULL DEFAULT 0,
			raw_text    TEXT NOT NULL DEFAULT '',
			clean_text  TEXT NOT NULL DEFAULT '',
			fetch_error TEXT NOT NULL DEFAULT '',
			fetched_at  DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_run ON sources(run_id)`,

		`CREATE TABLE IF NOT EXISTS sections (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id      INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			content        TEXT NOT NULL,
			score          REAL NOT NULL DEFAULT 0,
			keyword_hits   INTEGER NOT NULL DEFAULT 0,
			has_currency   INTEGER NOT NULL DEFAULT 0,
			has_percentage INTEGER NOT NULL DEFAULT 0,
			has_numbers    INTEGER NOT NULL DEFAULT 0,
			start_offset   INTEGER NOT NULL DEFAULT 0,
			end_offset     INTEGER NOT NULL DEFAULT 0,
			selected       INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sections_source ON sections(source_id)`,

		`CREATE TABLE IF NOT EXISTS patterns (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id      INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			pattern_type   TEXT NOT NULL,
			raw_text       TEXT NOT NULL,
			numeric_value  REAL,
			currency       TEXT NOT NULL DEFAULT '',
			context_before TEXT NOT NULL DEFAULT '',
			context_after  TEXT NOT NULL DEFAULT '',
			source_url     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_source ON patterns(source_id)`,

		`CREATE TABLE IF NOT EXISTS items (
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			id         TEXT NOT NULL,
			title      TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT 'other',
			confidence REAL NOT NULL DEFAULT 0,
			payload    TEXT NOT NULL,
			PRIMARY KEY (run_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_category ON items(category)`,

		`CREATE TABLE IF NOT EXISTS approvals (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL UNIQUE REFERENCES runs(id) ON DELETE CASCADE,
			card_name   TEXT NOT NULL DEFAULT '',
			bank_key    TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','approved','rejected','indexed')),
			note        TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status)`,

		`CREATE TABLE IF NOT EXISTS errors (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			stage      TEXT NOT NULL,
			url        TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_errors_run ON errors(run_id)`,
	}},
}

// migrate applies every migration newer than the recorded schema
// version. Idempotent; safe to run on every Open.
func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT
	)`); err != nil {
		return fmt.Errorf("creating meta table: %w", err)
	}

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("applying schema version %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLite) applyMigration(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", truncateStmt(stmt, 60), err)
		}
	}
	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)",
		strconv.Itoa(m.version),
	); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return tx.Commit()
}

func (s *SQLite) schemaVersion() (int, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing schema version %q: %w", value, err)
	}
	return v, nil
}

// truncateStmt shortens a DDL statement for error messages.
func truncateStmt(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
