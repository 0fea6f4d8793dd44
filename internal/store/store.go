// Package store provides the SQLite persistence layer.
//
// One database file holds everything an extraction produces:
// - Extraction runs with their validation scores
// - Fetched sources, scored sections, and detected patterns
// - Canonical intelligence items (full JSON payload per item)
// - Approval records gating what gets chunked and indexed
// - Structured error entries for failed stages
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/cardintel/internal/extract"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.cardintel/cardintel.db"

// Run statuses.
const (
	RunPending    = "pending"
	RunProcessing = "processing"
	RunCompleted  = "completed"
	RunFailed     = "failed"
)

// Validation statuses, assigned when a run finishes.
const (
	ValidationPending   = "pending"
	ValidationReview    = "requires_review"
	ValidationValidated = "validated"
)

// Approval statuses. Only approved content is chunked and indexed;
// indexed is a terminal state carrying the chunk count.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalIndexed  = "indexed"
)

// Source statuses.
const (
	SourceFetched = "fetched"
	SourceFailed  = "failed"
	SourceSkipped = "skipped"
)

// Run is one extraction run for a card.
type Run struct {
	ID           string
	CardName     string
	BankName     string
	BankKey      string
	Network      string
	Tier         string
	RootURL      string
	Model        string
	Status       string
	Validation   string
	Confidence   float64
	Completeness float64
	ItemCount    int
	SourceCount  int
	ErrorCount   int
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Source is one fetched page or document. Append-only once recorded.
type Source struct {
	ID         int64
	RunID      string
	URL        string
	ParentURL  string
	Depth      int
	Title      string
	PageType   string
	Status     string
	Relevance  float64
	RawText    string
	CleanText  string
	FetchError string
	FetchedAt  time.Time
}

// Approval gates a run's content for indexing.
type Approval struct {
	ID         int64
	RunID      string
	CardName   string
	BankKey    string
	Status     string
	Note       string
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ErrorEntry records one recovered stage failure.
type ErrorEntry struct {
	ID        int64
	RunID     string
	Stage     string
	URL       string
	Message   string
	CreatedAt time.Time
}

// ItemFilter narrows ListItems. Zero fields match everything.
type ItemFilter struct {
	RunID         string
	CardName      string
	Category      string
	MinConfidence float64
	Limit         int
}

// Stats holds observability counts about the store.
type Stats struct {
	Runs             int64
	Sources          int64
	Items            int64
	Cards            int64
	PendingApprovals int64
	IndexedRuns      int64
	DBSizeBytes      int64
}

// Store is the persistence port the pipeline and servers depend on.
type Store interface {
	CreateRun(ctx context.Context, r *Run) error
	UpdateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	AddSource(ctx context.Context, src *Source) (int64, error)
	ListSources(ctx context.Context, runID string) ([]*Source, error)
	AddSections(ctx context.Context, sourceID int64, sections []extract.Section) error
	ListSections(ctx context.Context, sourceID int64) ([]extract.Section, error)
	AddPatterns(ctx context.Context, sourceID int64, patterns []extract.DetectedPattern) error
	ListPatterns(ctx context.Context, sourceID int64) ([]extract.DetectedPattern, error)

	AddItems(ctx context.Context, runID string, items []extract.IntelligenceItem) error
	ListItems(ctx context.Context, f ItemFilter) ([]extract.IntelligenceItem, error)

	CreateApproval(ctx context.Context, a *Approval) error
	GetApproval(ctx context.Context, runID string) (*Approval, error)
	ListApprovals(ctx context.Context, status string) ([]*Approval, error)
	SetApprovalStatus(ctx context.Context, runID, status, note string) error
	MarkIndexed(ctx context.Context, runID string, chunkCount int) error

	AddError(ctx context.Context, e *ErrorEntry) error
	ListErrors(ctx context.Context, runID string) ([]*ErrorEntry, error)

	Stats(ctx context.Context) (*Stats, error)
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLite implements Store on a single SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path, applies pragmas, and
// runs pending migrations. Pass ":memory:" for tests.
func Open(path string) (*SQLite, error) {
	if path == "" {
		path = expandPath(DefaultDBPath)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLite{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Vacuum compacts the database. Manual only, never automatic.
func (s *SQLite) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats reports row counts and the database size.
func (s *SQLite) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	counts := []struct {
		query string
		dst   *int64
	}{
		{"SELECT COUNT(*) FROM runs", &st.Runs},
		{"SELECT COUNT(*) FROM sources", &st.Sources},
		{"SELECT COUNT(*) FROM items", &st.Items},
		{"SELECT COUNT(DISTINCT card_name) FROM runs WHERE card_name != ''", &st.Cards},
		{"SELECT COUNT(*) FROM approvals WHERE status = 'pending'", &st.PendingApprovals},
		{"SELECT COUNT(*) FROM approvals WHERE status = 'indexed'", &st.IndexedRuns},
		{"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()", &st.DBSizeBytes},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("collecting stats: %w", err)
		}
	}
	return st, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
