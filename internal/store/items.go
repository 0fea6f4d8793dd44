package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hurttlocker/cardintel/internal/extract"
)

// AddItems stores a run's canonical items in one transaction. Each item
// is serialized whole into the payload column; title, category, and
// confidence are duplicated into columns for filtering. Re-adding an
// item id replaces the previous version.
func (s *SQLite) AddItems(ctx context.Context, runID string, items []extract.IntelligenceItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO items (run_id, id, title, category, confidence, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing item insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		payload, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encoding item %s: %w", it.ID, err)
		}
		_, err = stmt.ExecContext(ctx, runID, it.ID, it.Title, string(it.Category), it.Confidence, string(payload))
		if err != nil {
			return fmt.Errorf("inserting item %s: %w", it.ID, err)
		}
	}
	return tx.Commit()
}

// ListItems returns stored items matching the filter, highest
// confidence first.
func (s *SQLite) ListItems(ctx context.Context, f ItemFilter) ([]extract.IntelligenceItem, error) {
	query := `SELECT items.payload FROM items`
	var clauses []string
	var args []any

	if f.CardName != "" {
		query += ` JOIN runs ON runs.id = items.run_id`
		clauses = append(clauses, `LOWER(runs.card_name) = LOWER(?)`)
		args = append(args, f.CardName)
	}
	if f.RunID != "" {
		clauses = append(clauses, `items.run_id = ?`)
		args = append(args, f.RunID)
	}
	if f.Category != "" {
		clauses = append(clauses, `items.category = ?`)
		args = append(args, f.Category)
	}
	if f.MinConfidence > 0 {
		clauses = append(clauses, `items.confidence >= ?`)
		args = append(args, f.MinConfidence)
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, ` AND `)
	}
	query += ` ORDER BY items.confidence DESC, items.id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var out []extract.IntelligenceItem
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning item row: %w", err)
		}
		var it extract.IntelligenceItem
		if err := json.Unmarshal([]byte(payload), &it); err != nil {
			return nil, fmt.Errorf("decoding item payload: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
