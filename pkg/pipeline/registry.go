package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xhad/contractiq/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNoRecord means the document exists but has no stored result yet.
	ErrNoRecord = errors.New("no record")
)

var transitions = map[models.DocumentStatus][]models.DocumentStatus{
	models.StatusPending:    {models.StatusProcessing},
	models.StatusProcessing: {models.StatusCompleted, models.StatusFailed},
}

// Registry is a thread-safe in-memory store of documents and of the field
// and audit results computed for them. Results are append-only.
type Registry struct {
	mu     sync.RWMutex
	docs   map[string]*models.Document
	fields map[string][]models.ExtractedFields
	audits map[string][]models.AuditReport
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		docs:   make(map[string]*models.Document),
		fields: make(map[string][]models.ExtractedFields),
		audits: make(map[string][]models.AuditReport),
		now:    time.Now,
	}
}

// Create registers doc in the pending state.
func (r *Registry) Create(doc models.Document) models.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	doc.Status = models.StatusPending
	doc.CreatedAt, doc.UpdatedAt = now, now
	r.docs[doc.ID] = &doc
	return doc
}

func (r *Registry) Get(id string) (models.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	return *doc, nil
}

// List returns every document, oldest first.
func (r *Registry) List() []models.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Document, 0, len(r.docs))
	for _, d := range r.docs {
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Transition moves a document to status, applying mutate under the lock.
// Completed and failed documents never change again.
func (r *Registry) Transition(id string, to models.DocumentStatus, mutate func(*models.Document)) (models.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	allowed := false
	for _, s := range transitions[doc.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return *doc, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, to)
	}
	if mutate != nil {
		mutate(doc)
	}
	doc.Status = to
	doc.UpdatedAt = r.now()
	return *doc, nil
}

// Delete drops the document and its result history.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	delete(r.docs, id)
	delete(r.fields, id)
	delete(r.audits, id)
	return nil
}

func (r *Registry) AppendFields(res models.ExtractedFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[res.DocumentID] = append(r.fields[res.DocumentID], res)
}

func (r *Registry) AppendAudit(rep models.AuditReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits[rep.DocumentID] = append(r.audits[rep.DocumentID], rep)
}

// LatestFields returns the newest extraction for id, optionally restricted
// to one method. An empty method matches any.
func (r *Registry) LatestFields(id string, method models.Method) (models.ExtractedFields, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.docs[id]; !ok {
		return models.ExtractedFields{}, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	hist := r.fields[id]
	for i := len(hist) - 1; i >= 0; i-- {
		if method == "" || hist[i].Method == method {
			return hist[i], nil
		}
	}
	return models.ExtractedFields{}, ErrNoRecord
}

func (r *Registry) LatestAudit(id string, method models.Method) (models.AuditReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.docs[id]; !ok {
		return models.AuditReport{}, fmt.Errorf("%w: %s", models.ErrDocumentNotFound, id)
	}
	hist := r.audits[id]
	for i := len(hist) - 1; i >= 0; i-- {
		if method == "" || hist[i].Method == method {
			return hist[i], nil
		}
	}
	return models.AuditReport{}, ErrNoRecord
}
