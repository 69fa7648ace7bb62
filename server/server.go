// Package server exposes the contract pipeline over HTTP, with a
// WebSocket endpoint for streamed answers.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/pkg/rag"
)

// Service is the set of pipeline operations the server calls.
type Service interface {
	Ingest(ctx context.Context, filename, mediaType string, data []byte) (models.Document, error)
	ExtractFields(ctx context.Context, id string, mode models.Mode) (models.ExtractedFields, error)
	Audit(ctx context.Context, id string, mode models.Mode) (models.AuditReport, error)
	Ask(ctx context.Context, question string, docIDs []string, k int) (models.Answer, error)
	AskStream(ctx context.Context, question string, docIDs []string, k int) (<-chan rag.StreamEvent, error)
	Document(id string) (models.Document, error)
	Documents() []models.Document
	Delete(ctx context.Context, id string) error
	LatestFields(id string, method models.Method) (models.ExtractedFields, error)
	LatestAudit(id string, method models.Method) (models.AuditReport, error)
}

type Config struct {
	MaxUploadBytes int64
	ExtractMode    models.Mode
	AuditMode      models.Mode
	TopK           int
	// AllowedOrigins lists the browser origins allowed to open /ws. Empty
	// allows same-origin requests only; "*" allows any.
	AllowedOrigins []string
}

type Server struct {
	router   chi.Router
	svc      Service
	config   Config
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func New(svc Service, config Config, log *slog.Logger) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 10 << 20
	}
	if config.ExtractMode == "" {
		config.ExtractMode = models.ModeAuto
	}
	if config.AuditMode == "" {
		config.AuditMode = models.ModeAuto
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{svc: svc, config: config, log: log.With("component", "server")}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", s.handleIngest)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{docID}", s.handleGetDocument)
		r.Delete("/documents/{docID}", s.handleDeleteDocument)
		r.Post("/documents/{docID}/extract", s.handleExtract)
		r.Get("/documents/{docID}/fields", s.handleLatestFields)
		r.Post("/documents/{docID}/audit", s.handleAudit)
		r.Get("/documents/{docID}/audit", s.handleLatestAudit)
		r.Post("/ask", s.handleAsk)
	})

	s.router = r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
