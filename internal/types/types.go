package types

import (
	"context"

	"github.com/xhad/contractiq/internal/models"
)

// Core interfaces

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index stores chunk vectors and answers nearest-neighbor queries scoped to
// a set of document ids.
type Index interface {
	Upsert(ctx context.Context, chunk models.Chunk, vector []float32) error
	Query(ctx context.Context, vector []float32, k int, allowed []string) ([]models.ScoredChunk, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// StreamGenerator emits the answer in fragments. Returning an error from
// emit aborts the generation.
type StreamGenerator interface {
	Generator
	Stream(ctx context.Context, system, prompt string, emit func(fragment string) error) error
}

type TextExtractor interface {
	Extract(ctx context.Context, data []byte) (ExtractedText, error)
}

type ExtractedText struct {
	Text      string
	PageCount int
	Pages     []models.PageSpan
	Tier      string
}
