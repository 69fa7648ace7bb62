// Package rag answers questions from retrieved contract passages only.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/internal/types"
)

// NoAnswer is returned verbatim whenever retrieval finds nothing.
const NoAnswer = "I cannot answer this based on the available contract documents."

const systemPrompt = "You are a legal contract analyst. Answer questions based only on the provided context."

const answerPrompt = `Answer the question about the contracts based ONLY on the provided context.

Context from contracts:
%s

Question: %s

Instructions:
1. Answer based ONLY on the provided context
2. If the answer is not in the context, say "%s"
3. Be precise and cite the numbered sources, e.g. [1], when possible
4. If multiple contracts are referenced, specify which contract contains the information

Provide a clear, concise answer:`

type EngineConfig struct {
	TopK int
	// MaxContextChars bounds the passage text placed in the prompt. The
	// highest-ranked passage is always included.
	MaxContextChars int
	ExcerptChars    int
	StreamBuffer    int
}

type Engine struct {
	config   EngineConfig
	embedder types.Embedder
	index    types.Index
	gen      types.Generator
	log      *slog.Logger
}

// New returns an engine. gen may be nil, in which case every answer is the
// extractive fallback.
func New(embedder types.Embedder, index types.Index, gen types.Generator, config EngineConfig, log *slog.Logger) *Engine {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.MaxContextChars <= 0 {
		config.MaxContextChars = 12000
	}
	if config.ExcerptChars <= 0 {
		config.ExcerptChars = 200
	}
	if config.StreamBuffer <= 0 {
		config.StreamBuffer = 16
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		config:   config,
		embedder: embedder,
		index:    index,
		gen:      gen,
		log:      log.With("component", "rag"),
	}
}

// Retrieve embeds the question and returns the passages that would ground
// an answer, already trimmed to the context budget.
func (e *Engine) Retrieve(ctx context.Context, question string, docIDs []string, k int) ([]models.ScoredChunk, error) {
	if strings.TrimSpace(question) == "" {
		return nil, models.ErrEmptyQuestion
	}
	if k <= 0 {
		k = e.config.TopK
	}
	vec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	hits, err := e.index.Query(ctx, vec, k, docIDs)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return e.budget(hits), nil
}

// budget keeps hits in rank order until the context budget is spent.
func (e *Engine) budget(hits []models.ScoredChunk) []models.ScoredChunk {
	used := 0
	for i, h := range hits {
		used += len(h.Text)
		if i > 0 && used > e.config.MaxContextChars {
			return hits[:i]
		}
	}
	return hits
}

// Ask answers question from the chunks of docIDs. Generation failures
// degrade to an extractive answer built from the same passages.
func (e *Engine) Ask(ctx context.Context, question string, docIDs []string, k int) (models.Answer, error) {
	hits, err := e.Retrieve(ctx, question, docIDs, k)
	if err != nil {
		return models.Answer{}, err
	}
	log := e.log.With("docs", len(docIDs), "hits", len(hits))
	if len(hits) == 0 {
		log.Info("no relevant passages")
		return models.Answer{Text: NoAnswer, Citations: []models.Citation{}}, nil
	}

	answer := models.Answer{Citations: e.citations(hits)}
	text, err := e.generate(ctx, question, hits)
	if err != nil {
		if ctx.Err() != nil {
			return models.Answer{}, ctx.Err()
		}
		log.Warn("generation failed, answering extractively", "error", err)
		answer.Text = e.extractive(hits)
		answer.Fallback = true
		return answer, nil
	}
	answer.Text = text
	return answer, nil
}

func (e *Engine) generate(ctx context.Context, question string, hits []models.ScoredChunk) (string, error) {
	if e.gen == nil {
		return "", fmt.Errorf("%w: no model configured", models.ErrGeneration)
	}
	text, err := e.gen.Generate(ctx, systemPrompt, Prompt(question, hits))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty answer", models.ErrGeneration)
	}
	return text, nil
}

// Prompt renders the grounded generation request. Passages are numbered in
// rank order so the model can cite them.
func Prompt(question string, hits []models.ScoredChunk) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] Document %s, page %d\n%s", i+1, h.DocumentID, h.Page, h.Text)
	}
	return fmt.Sprintf(answerPrompt, b.String(), strings.TrimSpace(question), NoAnswer)
}

func (e *Engine) citations(hits []models.ScoredChunk) []models.Citation {
	out := make([]models.Citation, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.Citation{
			DocumentID: h.DocumentID,
			ChunkIndex: h.Index,
			Page:       h.Page,
			CharStart:  h.Start,
			CharEnd:    h.End,
			Score:      h.Score,
			Excerpt:    excerpt(h.Text, e.config.ExcerptChars),
		})
	}
	return out
}

func (e *Engine) extractive(hits []models.ScoredChunk) string {
	var b strings.Builder
	b.WriteString("An answer could not be generated. The most relevant passages are:")
	for i, h := range hits {
		fmt.Fprintf(&b, "\n\n[%d] Document %s, page %d: %s", i+1, h.DocumentID, h.Page, excerpt(h.Text, e.config.ExcerptChars))
	}
	return b.String()
}

// excerpt collapses whitespace and shortens s to at most n bytes, ending
// in an ellipsis when cut.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	n = max(0, n-3)
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "..."
}
