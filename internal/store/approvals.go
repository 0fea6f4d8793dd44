package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateApproval opens the review gate for a run. Each run has at most
// one approval row; re-creating resets it to pending.
func (s *SQLite) CreateApproval(ctx context.Context, a *Approval) error {
	if a.RunID == "" {
		return fmt.Errorf("approval run id cannot be empty")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = a.CreatedAt
	if a.Status == "" {
		a.Status = ApprovalPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (run_id, card_name, bank_key, status, note, chunk_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
			card_name = excluded.card_name,
			bank_key = excluded.bank_key,
			status = excluded.status,
			note = excluded.note,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at`,
		a.RunID, a.CardName, a.BankKey, a.Status, a.Note, a.ChunkCount, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating approval for run %s: %w", a.RunID, err)
	}
	// last_insert_rowid is not updated on the conflict branch.
	err = s.db.QueryRowContext(ctx, `SELECT id FROM approvals WHERE run_id = ?`, a.RunID).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("creating approval for run %s: %w", a.RunID, err)
	}
	return nil
}

// GetApproval retrieves the approval row for a run. Returns nil when
// the run has never entered review.
func (s *SQLite) GetApproval(ctx context.Context, runID string) (*Approval, error) {
	a := &Approval{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, card_name, bank_key, status, note, chunk_count, created_at, updated_at
		 FROM approvals WHERE run_id = ?`, runID,
	).Scan(&a.ID, &a.RunID, &a.CardName, &a.BankKey, &a.Status, &a.Note, &a.ChunkCount,
		&a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting approval for run %s: %w", runID, err)
	}
	return a, nil
}

// ListApprovals returns approvals in a given status, oldest first. An
// empty status lists all of them.
func (s *SQLite) ListApprovals(ctx context.Context, status string) ([]*Approval, error) {
	query := `SELECT id, run_id, card_name, bank_key, status, note, chunk_count, created_at, updated_at
		 FROM approvals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing approvals: %w", err)
	}
	defer rows.Close()

	var out []*Approval
	for rows.Next() {
		a := &Approval{}
		err := rows.Scan(&a.ID, &a.RunID, &a.CardName, &a.BankKey, &a.Status, &a.Note,
			&a.ChunkCount, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning approval row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetApprovalStatus moves a run's approval to a new status and records
// the reviewer's note.
func (s *SQLite) SetApprovalStatus(ctx context.Context, runID, status, note string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, note = ?, updated_at = ? WHERE run_id = ?`,
		status, note, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("updating approval for run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating approval for run %s: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("updating approval for run %s: no approval found", runID)
	}
	return nil
}

// MarkIndexed moves an approval to its terminal indexed state and
// records how many chunks entered the index.
func (s *SQLite) MarkIndexed(ctx context.Context, runID string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, chunk_count = ?, updated_at = ? WHERE run_id = ?`,
		ApprovalIndexed, chunkCount, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("marking run %s indexed: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking run %s indexed: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("marking run %s indexed: no approval found", runID)
	}
	return nil
}
