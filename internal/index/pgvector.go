package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/hurttlocker/cardintel/internal/chunk"
)

// PGConfig configures the pgvector backend.
type PGConfig struct {
	DSN   string
	Table string // defaults to card_chunks
	Dims  int    // defaults to 768, nomic-embed-text's width
}

// PG is a pgvector-backed index. One row per chunk, cosine distance,
// ivfflat-accelerated.
type PG struct {
	cfg  PGConfig
	pool *pgxpool.Pool
}

// NewPG connects and ensures the extension, table, and vector index
// exist. An unreachable server reports ErrUnavailable.
func NewPG(ctx context.Context, cfg PGConfig) (*PG, error) {
	if cfg.Table == "" {
		cfg.Table = "card_chunks"
	}
	if cfg.Dims == 0 {
		cfg.Dims = 768
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	p := &PG{cfg: cfg, pool: pool}
	if err := p.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PG) initialize(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_url TEXT NOT NULL,
			source_title TEXT,
			chunk_index INT NOT NULL DEFAULT 0,
			card_name TEXT,
			bank_name TEXT,
			network TEXT,
			tier TEXT,
			page_type TEXT,
			categories TEXT[],
			content TEXT,
			char_count INT NOT NULL DEFAULT 0,
			embedding vector(%d)
		)`, p.cfg.Table, p.cfg.Dims)
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("creating %s table: %w", p.cfg.Table, err)
	}
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, p.cfg.Table, p.cfg.Table)
	if _, err := p.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("creating embedding index: %w", err)
	}
	return nil
}

func (p *PG) Upsert(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("upserting chunks: %d chunks with %d vectors", len(chunks), len(vectors))
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source_url, source_title, chunk_index, card_name, bank_name,
			network, tier, page_type, categories, content, char_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			source_title = EXCLUDED.source_title,
			chunk_index = EXCLUDED.chunk_index,
			card_name = EXCLUDED.card_name,
			bank_name = EXCLUDED.bank_name,
			network = EXCLUDED.network,
			tier = EXCLUDED.tier,
			page_type = EXCLUDED.page_type,
			categories = EXCLUDED.categories,
			content = EXCLUDED.content,
			char_count = EXCLUDED.char_count,
			embedding = EXCLUDED.embedding`, p.cfg.Table)

	for i, c := range chunks {
		if vectors[i] == nil {
			continue
		}
		_, err := tx.Exec(ctx, stmt,
			c.ID,
			c.Metadata.SourceURL,
			c.Metadata.Title,
			c.Index,
			c.Metadata.CardName,
			c.Metadata.BankName,
			c.Metadata.Network,
			c.Metadata.Tier,
			c.Metadata.PageType,
			c.Metadata.Categories,
			c.Text,
			c.Metadata.CharCount,
			pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return fmt.Errorf("upserting chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	return nil
}

func (p *PG) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	where, args := filterClauses(filter, 2)
	args = append([]any{pgvector.NewVector(vector)}, args...)

	query := fmt.Sprintf(`
		SELECT id, source_url, source_title, chunk_index, card_name, bank_name,
		       network, tier, page_type, categories, content, char_count,
		       1 - (embedding <=> $1) AS score
		FROM %s%s
		ORDER BY embedding <=> $1
		LIMIT %d`, p.cfg.Table, where, k)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		err := rows.Scan(
			&h.Chunk.ID,
			&h.Chunk.Metadata.SourceURL,
			&h.Chunk.Metadata.Title,
			&h.Chunk.Index,
			&h.Chunk.Metadata.CardName,
			&h.Chunk.Metadata.BankName,
			&h.Chunk.Metadata.Network,
			&h.Chunk.Metadata.Tier,
			&h.Chunk.Metadata.PageType,
			&h.Chunk.Metadata.Categories,
			&h.Chunk.Text,
			&h.Chunk.Metadata.CharCount,
			&h.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (p *PG) Scan(ctx context.Context, filter Filter, limit int) ([]chunk.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	where, args := filterClauses(filter, 1)

	query := fmt.Sprintf(`
		SELECT id, source_url, source_title, chunk_index, card_name, bank_name,
		       network, tier, page_type, categories, content, char_count
		FROM %s%s
		ORDER BY source_url, chunk_index
		LIMIT %d`, p.cfg.Table, where, limit)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning chunks: %w", err)
	}
	defer rows.Close()

	var out []chunk.Chunk
	for rows.Next() {
		var c chunk.Chunk
		err := rows.Scan(
			&c.ID,
			&c.Metadata.SourceURL,
			&c.Metadata.Title,
			&c.Index,
			&c.Metadata.CardName,
			&c.Metadata.BankName,
			&c.Metadata.Network,
			&c.Metadata.Tier,
			&c.Metadata.PageType,
			&c.Metadata.Categories,
			&c.Text,
			&c.Metadata.CharCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// filterClauses renders a Filter as a WHERE fragment with placeholders
// starting at argIdx.
func filterClauses(f Filter, argIdx int) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		clauses = append(clauses, fmt.Sprintf(clause, argIdx))
		args = append(args, value)
		argIdx++
	}
	if f.CardName != "" {
		add("LOWER(card_name) = LOWER($%d)", f.CardName)
	}
	if f.BankName != "" {
		add("LOWER(bank_name) = LOWER($%d)", f.BankName)
	}
	if f.PageType != "" {
		add("page_type = $%d", f.PageType)
	}
	if f.Category != "" {
		add("$%d = ANY(categories)", f.Category)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(clauses, " AND "), args
}

func (p *PG) DeleteSource(ctx context.Context, sourceURL string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE source_url = $1", p.cfg.Table)
	if _, err := p.pool.Exec(ctx, stmt, sourceURL); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", sourceURL, err)
	}
	return nil
}

func (p *PG) Count(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT count(*) FROM %s", p.cfg.Table)
	if err := p.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

func (p *PG) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}
