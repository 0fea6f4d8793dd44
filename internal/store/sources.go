package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hurttlocker/cardintel/internal/extract"
)

// AddSource inserts a fetched page and returns its assigned ID.
func (s *SQLite) AddSource(ctx context.Context, src *Source) (int64, error) {
	if src.RunID == "" {
		return 0, fmt.Errorf("source run id cannot be empty")
	}
	if src.FetchedAt.IsZero() {
		src.FetchedAt = time.Now().UTC()
	}
	if src.Status == "" {
		src.Status = SourceFetched
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (run_id, url, parent_url, depth, title, page_type, status,
			relevance, raw_text, clean_text, fetch_error, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.RunID, src.URL, src.ParentURL, src.Depth, src.Title, src.PageType, src.Status,
		src.Relevance, src.RawText, src.CleanText, src.FetchError, src.FetchedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting source %s: %w", src.URL, err)
	}
	src.ID, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("inserting source %s: %w", src.URL, err)
	}
	return src.ID, nil
}

// ListSources returns a run's sources in fetch order.
func (s *SQLite) ListSources(ctx context.Context, runID string) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, url, parent_url, depth, title, page_type, status,
			relevance, raw_text, clean_text, fetch_error, fetched_at
		 FROM sources WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sources for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		src := &Source{}
		err := rows.Scan(&src.ID, &src.RunID, &src.URL, &src.ParentURL, &src.Depth, &src.Title,
			&src.PageType, &src.Status, &src.Relevance, &src.RawText, &src.CleanText,
			&src.FetchError, &src.FetchedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning source row: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// AddSections stores the scored sections of one source in a single
// transaction.
func (s *SQLite) AddSections(ctx context.Context, sourceID int64, sections []extract.Section) error {
	if len(sections) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sections (source_id, content, score, keyword_hits, has_currency,
			has_percentage, has_numbers, start_offset, end_offset, selected)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing section insert: %w", err)
	}
	defer stmt.Close()

	for _, sec := range sections {
		_, err := stmt.ExecContext(ctx, sourceID, sec.Content, sec.Score, sec.KeywordHits,
			sec.HasCurrency, sec.HasPercentage, sec.HasNumbers, sec.Start, sec.End, sec.Selected)
		if err != nil {
			return fmt.Errorf("inserting section: %w", err)
		}
	}
	return tx.Commit()
}

// ListSections returns a source's sections in document order.
func (s *SQLite) ListSections(ctx context.Context, sourceID int64) ([]extract.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content, score, keyword_hits, has_currency, has_percentage, has_numbers,
			start_offset, end_offset, selected
		 FROM sections WHERE source_id = ? ORDER BY id`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sections for source %d: %w", sourceID, err)
	}
	defer rows.Close()

	var out []extract.Section
	for rows.Next() {
		var sec extract.Section
		err := rows.Scan(&sec.Content, &sec.Score, &sec.KeywordHits, &sec.HasCurrency,
			&sec.HasPercentage, &sec.HasNumbers, &sec.Start, &sec.End, &sec.Selected)
		if err != nil {
			return nil, fmt.Errorf("scanning section row: %w", err)
		}
		out = append(out, sec)
	}
	return out, rows.Err()
}

// AddPatterns stores the regex hits detected on one source.
func (s *SQLite) AddPatterns(ctx context.Context, sourceID int64, patterns []extract.DetectedPattern) error {
	if len(patterns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO patterns (source_id, pattern_type, raw_text, numeric_value, currency,
			context_before, context_after, source_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing pattern insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range patterns {
		var numeric any
		if p.NumericValue != nil {
			numeric = *p.NumericValue
		}
		_, err := stmt.ExecContext(ctx, sourceID, p.Type, p.RawText, numeric, p.Currency,
			p.Before, p.After, p.SourceURL)
		if err != nil {
			return fmt.Errorf("inserting pattern: %w", err)
		}
	}
	return tx.Commit()
}

// ListPatterns returns a source's detected patterns in detection order.
func (s *SQLite) ListPatterns(ctx context.Context, sourceID int64) ([]extract.DetectedPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern_type, raw_text, numeric_value, currency, context_before, context_after, source_url
		 FROM patterns WHERE source_id = ? ORDER BY id`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing patterns for source %d: %w", sourceID, err)
	}
	defer rows.Close()

	var out []extract.DetectedPattern
	for rows.Next() {
		var p extract.DetectedPattern
		var numeric sql.NullFloat64
		err := rows.Scan(&p.Type, &p.RawText, &numeric, &p.Currency, &p.Before, &p.After, &p.SourceURL)
		if err != nil {
			return nil, fmt.Errorf("scanning pattern row: %w", err)
		}
		if numeric.Valid {
			v := numeric.Float64
			p.NumericValue = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
