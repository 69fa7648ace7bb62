package store

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/contractiq/internal/models"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	MinScore   float64
	// Lists is the ivfflat list count. Probes is how many lists a query
	// scans; it defaults to Lists, which makes the scan exhaustive so a
	// document filter never starves the LIMIT.
	Lists  int
	Probes int
}

// VectorStore is a pgvector-backed Index.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "contract_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.Lists <= 0 {
		config.Lists = 100
	}
	if config.Probes <= 0 || config.Probes > config.Lists {
		config.Probes = config.Lists
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			page INTEGER NOT NULL,
			char_start INTEGER NOT NULL,
			char_end INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d)
		)`, vs.config.TableName, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createDocIndex := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createDocIndex); err != nil {
		return fmt.Errorf("failed to create document index: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`,
		vs.config.TableName, vs.config.TableName, vs.config.Lists)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (vs *VectorStore) Upsert(ctx context.Context, chunk models.Chunk, vector []float32) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, chunk_index, page, char_start, char_end, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			chunk_index = EXCLUDED.chunk_index,
			page = EXCLUDED.page,
			char_start = EXCLUDED.char_start,
			char_end = EXCLUDED.char_end,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		vs.config.TableName)

	_, err := vs.pool.Exec(ctx, stmt,
		chunk.ID,
		chunk.DocumentID,
		chunk.Index,
		chunk.Page,
		chunk.Start,
		chunk.End,
		sanitizeUTF8(chunk.Text),
		pgvector.NewVector(vector),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

func (vs *VectorStore) Query(ctx context.Context, vector []float32, k int, allowed []string) ([]models.ScoredChunk, error) {
	if len(allowed) == 0 || k <= 0 {
		return []models.ScoredChunk{}, nil
	}

	// Ordering by distance keeps the ivfflat index usable; score is
	// 1 - distance so the order matches score descending.
	query := fmt.Sprintf(`
		SELECT id, document_id, chunk_index, page, char_start, char_end, content,
			1 - (embedding <=> $1) AS score
		FROM %s
		WHERE document_id = ANY($2)
			AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1, chunk_index, document_id
		LIMIT $4`,
		vs.config.TableName)

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin query: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// SET LOCAL does not accept bind parameters; Probes is an int.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", vs.config.Probes)); err != nil {
		return nil, fmt.Errorf("failed to set ivfflat probes: %w", err)
	}

	rows, err := tx.Query(ctx, query, pgvector.NewVector(vector), allowed, vs.config.MinScore, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	hits := []models.ScoredChunk{}
	for rows.Next() {
		var h models.ScoredChunk
		if err := rows.Scan(
			&h.ID,
			&h.DocumentID,
			&h.Index,
			&h.Page,
			&h.Start,
			&h.End,
			&h.Text,
			&h.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	rows.Close()
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to finish query: %w", err)
	}

	// Re-rank in Go so score ties resolve identically to MemoryIndex.
	return rank(hits, k, vs.config.MinScore), nil
}

func (vs *VectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, stmt, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", documentID, err)
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid byte sequences and NUL bytes, which Postgres
// TEXT columns reject.
func sanitizeUTF8(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
