package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/internal/types"
	"github.com/xhad/contractiq/pkg/audit"
	"github.com/xhad/contractiq/pkg/chunker"
	"github.com/xhad/contractiq/pkg/config"
	"github.com/xhad/contractiq/pkg/fields"
	"github.com/xhad/contractiq/pkg/llm"
	"github.com/xhad/contractiq/pkg/pdftext"
	"github.com/xhad/contractiq/pkg/pipeline"
	"github.com/xhad/contractiq/pkg/rag"
	"github.com/xhad/contractiq/pkg/store"
)

// app is a fully wired pipeline plus the resources it has to release.
type app struct {
	svc         *pipeline.Service
	cfg         *config.Config
	log         *slog.Logger
	extractMode models.Mode
	auditMode   models.Mode

	closers []func()

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var err error
	if a.extractMode, err = models.ParseMode(cfg.Extraction.Mode); err != nil {
		return nil, err
	}
	if a.auditMode, err = models.ParseMode(cfg.Audit.Mode); err != nil {
		return nil, err
	}

	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.Model,
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        cfg.LLM.Timeout,
		MaxRetries:     cfg.LLM.MaxRetries,
		RetryBaseDelay: cfg.LLM.RetryBaseDelay,
		RateLimit:      cfg.LLM.RateLimit,
	}, log)
	if err != nil {
		return nil, err
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
		Dim:       cfg.Embedding.Dim,
	})
	if err != nil {
		return nil, err
	}
	if d, ok := embedder.(interface{ Dimension() int }); ok && cfg.Database.URL != "" && d.Dimension() != cfg.Database.VectorDim {
		return nil, fmt.Errorf("%w: embedding dimension %d does not match database.vector_dim %d",
			models.ErrInvalidInput, d.Dimension(), cfg.Database.VectorDim)
	}

	index, err := a.newIndex(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	chunks, err := chunker.NewWithConfig(chunker.ChunkerConfig{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	extractor := pdftext.NewDefault(pdftext.ExtractorConfig{
		MinCharsPerPage: cfg.Extraction.MinCharsPerPage,
		MaxGarbledRatio: cfg.Extraction.MaxGarbledRatio,
		TierTimeout:     cfg.Extraction.TierTimeout,
	}, pdftext.OCRConfig{
		DPI:      cfg.Extraction.OCRDPI,
		Language: cfg.Extraction.OCRLanguage,
	}, log)

	svc, err := pipeline.New(pipeline.Components{
		Extractor: extractor,
		Chunker:   chunks,
		Embedder:  embedder,
		Index:     index,
		Fields:    fields.New(chat, fields.ExtractorConfig{MaxInputChars: cfg.Extraction.MaxInputChars}, log),
		Auditor: audit.New(chat, audit.AuditorConfig{
			NoticeThresholdDays: cfg.Audit.NoticeThresholdDays,
			MaxRiskScore:        cfg.Audit.MaxRiskScore,
			MaxInputChars:       cfg.Audit.MaxInputChars,
		}, log),
		RAG: rag.New(embedder, index, chat, rag.EngineConfig{
			TopK:            cfg.Retrieval.TopK,
			MaxContextChars: cfg.Retrieval.MaxContextChars,
		}, log),
	}, pipeline.Config{
		MaxUploadBytes: cfg.Extraction.MaxUploadBytes,
		EmbedBatchSize: cfg.Embedding.BatchSize,
		OnProgress:     a.progress,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

// newIndex uses pgvector when a database URL is configured and an
// in-process index otherwise.
func (a *app) newIndex(ctx context.Context) (types.Index, error) {
	if a.cfg.Database.URL == "" {
		a.log.Info("no database configured, using in-memory index")
		return store.NewMemoryIndex(a.cfg.Retrieval.MinScore), nil
	}
	vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: a.cfg.Database.URL,
		TableName:  a.cfg.Database.TableName,
		VectorDim:  a.cfg.Database.VectorDim,
		MinScore:   a.cfg.Retrieval.MinScore,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	a.closers = append(a.closers, vs.Close)
	return vs, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// track routes embedding progress to bar until the returned func is called.
func (a *app) track(bar *progressbar.ProgressBar) func() {
	a.mu.Lock()
	a.bar = bar
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		a.bar = nil
		a.mu.Unlock()
	}
}

func (a *app) progress(_ string, embedded, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bar == nil {
		return
	}
	a.bar.ChangeMax(total)
	a.bar.Set(embedded)
}
