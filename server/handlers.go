package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/pkg/pipeline"
)

type askRequest struct {
	Question    string   `json:"question"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	K           int      `json:"k,omitempty"`
}

type errorResponse struct {
	Error    string           `json:"error"`
	Document *models.Document `json:"document,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	// Multipart framing needs headroom above the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Size > s.config.MaxUploadBytes {
		jsonError(w, "upload too large", http.StatusRequestEntityTooLarge)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "failed to read file", http.StatusBadRequest)
		return
	}

	doc, err := s.svc.Ingest(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		if doc.ID != "" && doc.Status == models.StatusFailed {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Document: &doc})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"documents": s.svc.Documents()})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.Document(chi.URLParam(r, "docID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "docID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	mode, err := s.mode(r, s.config.ExtractMode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.ExtractFields(r.Context(), chi.URLParam(r, "docID"), mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLatestFields(w http.ResponseWriter, r *http.Request) {
	method, err := methodFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.LatestFields(chi.URLParam(r, "docID"), method)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	mode, err := s.mode(r, s.config.AuditMode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rep, err := s.svc.Audit(r.Context(), chi.URLParam(r, "docID"), mode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleLatestAudit(w http.ResponseWriter, r *http.Request) {
	method, err := methodFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rep, err := s.svc.LatestAudit(chi.URLParam(r, "docID"), method)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ans, err := s.svc.Ask(r.Context(), req.Question, req.DocumentIDs, s.topK(req.K))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) mode(r *http.Request, fallback models.Mode) (models.Mode, error) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		return fallback, nil
	}
	return models.ParseMode(raw)
}

// methodFilter reads the optional ?method= filter; empty or auto matches any.
func methodFilter(r *http.Request) (models.Method, error) {
	mode, err := models.ParseMode(r.URL.Query().Get("method"))
	if err != nil {
		return "", err
	}
	if mode == models.ModeAuto {
		return "", nil
	}
	return models.Method(mode), nil
}

func (s *Server) topK(k int) int {
	if k > 0 {
		return k
	}
	return s.config.TopK
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	jsonError(w, err.Error(), code)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrDocumentNotFound), errors.Is(err, pipeline.ErrNoRecord):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDocumentNotReady):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidMode), errors.Is(err, models.ErrEmptyQuestion):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, errorResponse{Error: msg})
}
