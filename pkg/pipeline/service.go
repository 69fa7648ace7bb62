// Package pipeline wires extraction, chunking, indexing and the three
// consumers into the operations callers invoke per document.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/internal/types"
	"github.com/xhad/contractiq/pkg/audit"
	"github.com/xhad/contractiq/pkg/chunker"
	"github.com/xhad/contractiq/pkg/fields"
	"github.com/xhad/contractiq/pkg/rag"
)

const pdfMediaType = "application/pdf"

var pdfMagic = []byte("%PDF-")

type Config struct {
	MaxUploadBytes int64
	EmbedBatchSize int
	// OnProgress, when set, is called after each embedded batch.
	OnProgress func(docID string, embedded, total int)
}

// Components are the collaborators a Service drives. All are required.
type Components struct {
	Extractor types.TextExtractor
	Chunker   *chunker.Chunker
	Embedder  types.Embedder
	Index     types.Index
	Fields    *fields.Extractor
	Auditor   *audit.Auditor
	RAG       *rag.Engine
}

type Service struct {
	Components
	config   Config
	registry *Registry
	log      *slog.Logger
}

func New(c Components, config Config, log *slog.Logger) (*Service, error) {
	switch {
	case c.Extractor == nil:
		return nil, errors.New("pipeline: text extractor is required")
	case c.Chunker == nil:
		return nil, errors.New("pipeline: chunker is required")
	case c.Embedder == nil:
		return nil, errors.New("pipeline: embedder is required")
	case c.Index == nil:
		return nil, errors.New("pipeline: index is required")
	case c.Fields == nil, c.Auditor == nil, c.RAG == nil:
		return nil, errors.New("pipeline: fields, auditor and rag are required")
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 10 << 20
	}
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = 32
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{
		Components: c,
		config:     config,
		registry:   NewRegistry(),
		log:        log.With("component", "pipeline"),
	}, nil
}

// Ingest validates a PDF upload, extracts its text, then chunks and indexes
// it. mediaType is the type the caller declared for the upload and is
// recorded on the document; empty means application/pdf. The returned
// document is completed, or failed with Error set; in the failed case the
// cause is also returned.
func (s *Service) Ingest(ctx context.Context, filename, mediaType string, data []byte) (models.Document, error) {
	switch {
	case len(data) == 0:
		return models.Document{}, fmt.Errorf("%w: empty upload", models.ErrInvalidInput)
	case int64(len(data)) > s.config.MaxUploadBytes:
		return models.Document{}, fmt.Errorf("%w: upload of %d bytes exceeds %d", models.ErrInvalidInput, len(data), s.config.MaxUploadBytes)
	case !bytes.HasPrefix(data, pdfMagic):
		return models.Document{}, fmt.Errorf("%w: %s is not a PDF", models.ErrInvalidInput, filename)
	}

	doc := s.registry.Create(models.Document{
		ID:        uuid.NewString(),
		Filename:  filepath.Base(filename),
		Size:      int64(len(data)),
		MediaType: declaredMediaType(mediaType),
	})
	log := s.log.With("doc_id", doc.ID, "filename", doc.Filename)
	log.Info("ingest started", "bytes", doc.Size)

	if _, err := s.registry.Transition(doc.ID, models.StatusProcessing, nil); err != nil {
		return doc, err
	}

	text, err := s.Extractor.Extract(ctx, data)
	if err != nil {
		return s.fail(doc.ID, log, fmt.Errorf("extract text: %w", err))
	}
	log.Info("text extracted", "tier", text.Tier, "pages", text.PageCount, "chars", len(text.Text))

	doc.Text, doc.Pages, doc.PageCount = text.Text, text.Pages, text.PageCount
	chunks := s.Chunker.Chunk(doc)
	if err := s.index(ctx, doc.ID, chunks); err != nil {
		if derr := s.Index.DeleteDocument(context.WithoutCancel(ctx), doc.ID); derr != nil {
			log.Error("failed to remove partial chunks", "error", derr)
		}
		return s.fail(doc.ID, log, fmt.Errorf("index chunks: %w", err))
	}

	done, err := s.registry.Transition(doc.ID, models.StatusCompleted, func(d *models.Document) {
		d.Text, d.Pages, d.PageCount, d.Tier = text.Text, text.Pages, text.PageCount, text.Tier
	})
	if err != nil {
		return done, err
	}
	log.Info("ingest completed", "chunks", len(chunks))
	return done, nil
}

// declaredMediaType strips parameters from a Content-Type value.
func declaredMediaType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil || mt == "" {
		return pdfMediaType
	}
	return mt
}

func (s *Service) fail(id string, log *slog.Logger, cause error) (models.Document, error) {
	log.Error("ingest failed", "error", cause)
	doc, err := s.registry.Transition(id, models.StatusFailed, func(d *models.Document) {
		d.Error = cause.Error()
	})
	if err != nil {
		return doc, errors.Join(cause, err)
	}
	return doc, cause
}

func (s *Service) index(ctx context.Context, docID string, chunks []models.Chunk) error {
	batch := s.config.EmbedBatchSize
	for start := 0; start < len(chunks); start += batch {
		end := min(start+batch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vectors, err := s.Embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d: %w", start/batch, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}
		for i, c := range chunks[start:end] {
			if err := s.Index.Upsert(ctx, c, vectors[i]); err != nil {
				return fmt.Errorf("upsert %s: %w", c.ID, err)
			}
		}
		if s.config.OnProgress != nil {
			s.config.OnProgress(docID, end, len(chunks))
		}
	}
	return nil
}

// ready returns the document only once ingestion completed.
func (s *Service) ready(id string) (models.Document, error) {
	doc, err := s.registry.Get(id)
	if err != nil {
		return models.Document{}, err
	}
	if doc.Status != models.StatusCompleted {
		return models.Document{}, fmt.Errorf("%w: %s is %s", models.ErrDocumentNotReady, id, doc.Status)
	}
	return doc, nil
}

func (s *Service) ExtractFields(ctx context.Context, id string, mode models.Mode) (models.ExtractedFields, error) {
	doc, err := s.ready(id)
	if err != nil {
		return models.ExtractedFields{}, err
	}
	res, err := s.Fields.Extract(ctx, doc, mode)
	if err != nil {
		return models.ExtractedFields{}, err
	}
	s.registry.AppendFields(res)
	return res, nil
}

func (s *Service) Audit(ctx context.Context, id string, mode models.Mode) (models.AuditReport, error) {
	doc, err := s.ready(id)
	if err != nil {
		return models.AuditReport{}, err
	}
	rep, err := s.Auditor.Audit(ctx, doc, mode)
	if err != nil {
		return models.AuditReport{}, err
	}
	s.registry.AppendAudit(rep)
	return rep, nil
}

// scope checks every requested document is ready. No ids means every
// completed document.
func (s *Service) scope(docIDs []string) ([]string, error) {
	if len(docIDs) == 0 {
		ids := make([]string, 0)
		for _, d := range s.registry.List() {
			if d.Status == models.StatusCompleted {
				ids = append(ids, d.ID)
			}
		}
		return ids, nil
	}
	for _, id := range docIDs {
		if _, err := s.ready(id); err != nil {
			return nil, err
		}
	}
	return docIDs, nil
}

func (s *Service) Ask(ctx context.Context, question string, docIDs []string, k int) (models.Answer, error) {
	ids, err := s.scope(docIDs)
	if err != nil {
		return models.Answer{}, err
	}
	return s.RAG.Ask(ctx, question, ids, k)
}

func (s *Service) AskStream(ctx context.Context, question string, docIDs []string, k int) (<-chan rag.StreamEvent, error) {
	ids, err := s.scope(docIDs)
	if err != nil {
		return nil, err
	}
	return s.RAG.AskStream(ctx, question, ids, k)
}

func (s *Service) Document(id string) (models.Document, error) {
	return s.registry.Get(id)
}

func (s *Service) Documents() []models.Document {
	return s.registry.List()
}

// Delete removes a finished document, its indexed chunks and its history.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.registry.Get(id)
	if err != nil {
		return err
	}
	if !doc.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", models.ErrDocumentNotReady, id, doc.Status)
	}
	if err := s.Index.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	s.log.Info("document deleted", "doc_id", id)
	return s.registry.Delete(id)
}

func (s *Service) LatestFields(id string, method models.Method) (models.ExtractedFields, error) {
	return s.registry.LatestFields(id, method)
}

func (s *Service) LatestAudit(id string, method models.Method) (models.AuditReport, error) {
	return s.registry.LatestAudit(id, method)
}
