package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRun inserts a new run. A missing ID gets a fresh UUID, a zero
// StartedAt becomes now, and a blank Status starts as processing.
func (s *SQLite) CreateRun(ctx context.Context, r *Run) error {
	if r.RootURL == "" {
		return fmt.Errorf("run root url cannot be empty")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = RunProcessing
	}
	if r.Validation == "" {
		r.Validation = ValidationPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, card_name, bank_name, bank_key, network, tier, root_url, model,
			status, validation, confidence, completeness, item_count, source_count, error_count, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CardName, r.BankName, r.BankKey, r.Network, r.Tier, r.RootURL, r.Model,
		r.Status, r.Validation, r.Confidence, r.Completeness, r.ItemCount, r.SourceCount, r.ErrorCount, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun rewrites a run's mutable fields: identification, status,
// scores, counts, and finish time.
func (s *SQLite) UpdateRun(ctx context.Context, r *Run) error {
	var finishedAt any
	if r.FinishedAt != nil {
		finishedAt = *r.FinishedAt
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET card_name = ?, bank_name = ?, bank_key = ?, network = ?, tier = ?,
			model = ?, status = ?, validation = ?, confidence = ?, completeness = ?,
			item_count = ?, source_count = ?, error_count = ?, finished_at = ?
		 WHERE id = ?`,
		r.CardName, r.BankName, r.BankKey, r.Network, r.Tier,
		r.Model, r.Status, r.Validation, r.Confidence, r.Completeness,
		r.ItemCount, r.SourceCount, r.ErrorCount, finishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run %s: %w", r.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating run %s: no such run", r.ID)
	}
	return nil
}

// GetRun retrieves a run by id. Returns nil when not found.
func (s *SQLite) GetRun(ctx context.Context, id string) (*Run, error) {
	r := &Run{}
	var finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, card_name, bank_name, bank_key, network, tier, root_url, model, status,
			validation, confidence, completeness, item_count, source_count, error_count,
			started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.CardName, &r.BankName, &r.BankKey, &r.Network, &r.Tier, &r.RootURL,
		&r.Model, &r.Status, &r.Validation, &r.Confidence, &r.Completeness, &r.ItemCount,
		&r.SourceCount, &r.ErrorCount, &r.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.Time
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, card_name, bank_name, bank_key, network, tier, root_url, model, status,
			validation, confidence, completeness, item_count, source_count, error_count,
			started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r := &Run{}
		var finishedAt sql.NullTime
		err := rows.Scan(&r.ID, &r.CardName, &r.BankName, &r.BankKey, &r.Network, &r.Tier,
			&r.RootURL, &r.Model, &r.Status, &r.Validation, &r.Confidence, &r.Completeness,
			&r.ItemCount, &r.SourceCount, &r.ErrorCount, &r.StartedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		if finishedAt.Valid {
			r.FinishedAt = &finishedAt.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, through cascades, its sources,
// sections, patterns, items, approval, and errors.
func (s *SQLite) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("deleting run %s: no such run", id)
	}
	return nil
}

// AddError records a recovered stage failure.
func (s *SQLite) AddError(ctx context.Context, e *ErrorEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO errors (run_id, stage, url, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.RunID, e.Stage, e.URL, e.Message, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting error entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// ListErrors returns a run's error entries in insertion order.
func (s *SQLite) ListErrors(ctx context.Context, runID string) ([]*ErrorEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, url, message, created_at FROM errors WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing errors for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []*ErrorEntry
	for rows.Next() {
		e := &ErrorEntry{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.URL, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning error row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
