package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/contractiq/internal/types"
)

const ProviderHash = "hash"

type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	BatchSize int
	// Dim is only used by the hash provider.
	Dim int
}

// NewEmbedderWithConfig returns an embedder for the configured provider.
func NewEmbedderWithConfig(config EmbedderConfig) (types.Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.BatchSize == 0 {
		config.BatchSize = 32
	}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		c, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = c
	case ProviderOpenAI:
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{openai.WithEmbeddingModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		c, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = c
	case ProviderHash:
		return NewHashEmbedder(config.Dim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", config.Provider)
	}

	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return emb, nil
}

// HashEmbedder maps text to a fixed-size vector by hashing its terms. It
// needs no model server and is deterministic, which makes it useful offline
// and in tests.
type HashEmbedder struct {
	dim       int
	stopwords map[string]struct{}
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{dim: dim, stopwords: defaultStopwords()}
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, e.embed(t))
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text), nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	tf := make(map[string]int)
	for _, tok := range e.tokenize(text) {
		tf[tok]++
	}

	vec := make([]float64, e.dim)
	for tok, count := range tf {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		vec[sum%uint64(e.dim)] += sign * (1 + math.Log(float64(count)))
	}

	// L2 normalize
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, e.dim)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (e *HashEmbedder) tokenize(text string) []string {
	raw := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "it", "this", "that", "these", "those", "from", "into", "such", "any", "all", "shall", "will", "may", "what", "which", "who", "how", "does", "do",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
