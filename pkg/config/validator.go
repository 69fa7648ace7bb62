package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/xhad/contractiq/internal/models"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	llmProviders       = []string{"ollama", "openai", "anthropic"}
	embeddingProviders = []string{"ollama", "openai", "hash"}
	logLevels          = []string{"debug", "info", "warn", "error"}
	logFormats         = []string{"text", "json"}
)

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	add := func(field, format string, args ...any) {
		errors = append(errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// LLM
	if !slices.Contains(llmProviders, c.LLM.Provider) {
		add("llm.provider", "unknown provider %q, want one of %s", c.LLM.Provider, strings.Join(llmProviders, ", "))
	}
	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || !u.IsAbs() {
			add("llm.base_url", "invalid base URL")
		}
	}
	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		add("llm.max_tokens", "max_tokens must be between 1 and 8192")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", "temperature must be between 0 and 2")
	}
	if c.LLM.MaxRetries < 0 {
		add("llm.max_retries", "max_retries must not be negative")
	}
	if c.LLM.RateLimit < 0 {
		add("llm.rate_limit", "rate_limit must not be negative")
	}

	// Embedding
	if !slices.Contains(embeddingProviders, c.Embedding.Provider) {
		add("embedding.provider", "unknown provider %q, want one of %s", c.Embedding.Provider, strings.Join(embeddingProviders, ", "))
	}
	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size", "batch_size must be positive")
	}
	if c.Embedding.Dim < 0 {
		add("embedding.dim", "dim must not be negative")
	}

	// Database
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			add("database.url", "invalid database URL")
		}
	}
	if c.Database.VectorDim < 1 {
		add("database.vector_dim", "vector_dim must be positive")
	}

	// Retrieval
	if c.Retrieval.TopK < 1 {
		add("retrieval.top_k", "top_k must be positive")
	}
	if c.Retrieval.MinScore < -1 || c.Retrieval.MinScore > 1 {
		add("retrieval.min_score", "min_score must be between -1 and 1")
	}

	// Chunker
	if c.Chunker.ChunkSize < 1 {
		add("chunker.chunk_size", "chunk_size must be positive")
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		add("chunker.chunk_overlap", "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Extraction and audit
	if _, err := models.ParseMode(c.Extraction.Mode); err != nil {
		add("extraction.mode", "%v", err)
	}
	if c.Extraction.MaxUploadBytes < 1 {
		add("extraction.max_upload_bytes", "max_upload_bytes must be positive")
	}
	if c.Extraction.MaxGarbledRatio <= 0 || c.Extraction.MaxGarbledRatio > 1 {
		add("extraction.max_garbled_ratio", "max_garbled_ratio must be in (0, 1]")
	}
	if _, err := models.ParseMode(c.Audit.Mode); err != nil {
		add("audit.mode", "%v", err)
	}
	if c.Audit.NoticeThresholdDays < 1 {
		add("audit.notice_threshold_days", "notice_threshold_days must be positive")
	}
	if c.Audit.MaxRiskScore <= 0 {
		add("audit.max_risk_score", "max_risk_score must be positive")
	}

	// Log
	if !slices.Contains(logLevels, strings.ToLower(c.Log.Level)) {
		add("log.level", "unknown level %q", c.Log.Level)
	}
	if !slices.Contains(logFormats, strings.ToLower(c.Log.Format)) {
		add("log.format", "unknown format %q", c.Log.Format)
	}

	return errors
}
