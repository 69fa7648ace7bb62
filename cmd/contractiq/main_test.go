package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/pkg/config"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.pdf"), "%PDF-")
	writeFile(t, filepath.Join(dir, "a.PDF"), "%PDF-")
	writeFile(t, filepath.Join(dir, "notes.txt"), "hello")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755))
	single := filepath.Join(t.TempDir(), "single.pdf")
	writeFile(t, single, "%PDF-")

	files, err := expandPaths([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.PDF"),
		filepath.Join(dir, "b.pdf"),
		single,
	}, files)

	_, err = expandPaths([]string{filepath.Join(dir, "missing.pdf")})
	assert.Error(t, err)
}

func TestModeOr(t *testing.T) {
	m, err := modeOr("", models.ModeRuleBased)
	require.NoError(t, err)
	assert.Equal(t, models.ModeRuleBased, m)

	m, err = modeOr("llm", models.ModeRuleBased)
	require.NoError(t, err)
	assert.Equal(t, models.ModeModelDriven, m)

	_, err = modeOr("magic", models.ModeAuto)
	assert.ErrorIs(t, err, models.ErrInvalidMode)
}

func TestWatchPDFs(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- watchPDFs(ctx, dir, slog.New(slog.DiscardHandler), func(path string) {
			mu.Lock()
			seen = append(seen, filepath.Base(path))
			mu.Unlock()
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "ignored.txt"), "text")
	writeFile(t, filepath.Join(dir, "lease.pdf"), "%PDF-1.4")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"lease.pdf"}, seen)
}

func TestWatchPDFsMissingDir(t *testing.T) {
	err := watchPDFs(context.Background(), filepath.Join(t.TempDir(), "nope"), slog.New(slog.DiscardHandler), func(string) {})
	assert.Error(t, err)
}

func TestPrintAudit(t *testing.T) {
	var buf bytes.Buffer
	printAudit(&buf, models.AuditReport{
		DocumentID: "doc-1",
		Method:     models.MethodRuleBased,
		RiskScore:  5.5,
		Findings: []models.Finding{{
			Type:           models.FindingUnlimitedLiability,
			Severity:       models.SeverityHigh,
			Description:    "Liability is uncapped.",
			Evidence:       &models.Evidence{Text: "unlimited liability", Page: 3},
			Recommendation: "Negotiate a cap.",
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "risk score 5.5")
	assert.Contains(t, out, "[HIGH] unlimited_liability")
	assert.Contains(t, out, `page 3: "unlimited liability"`)
	assert.Contains(t, out, "Negotiate a cap.")

	buf.Reset()
	printAudit(&buf, models.AuditReport{DocumentID: "doc-2", Findings: []models.Finding{}})
	assert.Contains(t, buf.String(), "no risky clauses found")
}

func TestPrintFields(t *testing.T) {
	law := "State of Delaware"
	var buf bytes.Buffer
	printFields(&buf, models.ExtractedFields{
		DocumentID: "doc-1",
		Method:     models.MethodModelDriven,
		Fields: models.ContractFields{
			Parties:      []string{"Acme Corp", "Globex LLC"},
			GoverningLaw: &law,
			LiabilityCap: &models.LiabilityCap{Amount: 50000, Currency: "USD"},
			Signatories:  []models.Signatory{{Name: "Jane Roe", Title: "CEO"}},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Acme Corp; Globex LLC")
	assert.Contains(t, out, "State of Delaware")
	assert.Contains(t, out, "50000.00 USD")
	assert.Contains(t, out, "Jane Roe (CEO)")
	assert.Contains(t, out, "not found")
}

func TestNewAppUsesMemoryIndexWithoutDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
llm:
  provider: ollama
  model: llama3
  base_url: http://127.0.0.1:11434
embedding:
  provider: hash
  dim: 64
extraction:
  mode: rules
audit:
  mode: llm
`)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LLM_PROVIDER", "")
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Empty(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.svc)
	assert.Equal(t, models.ModeRuleBased, a.extractMode)
	assert.Equal(t, models.ModeModelDriven, a.auditMode)
	assert.Empty(t, a.svc.Documents())

	_, err = a.svc.Ingest(context.Background(), "notes.txt", "", []byte("plain text"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestNewAppRejectsEmbeddingDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
embedding:
  provider: hash
  dim: 64
database:
  url: postgres://127.0.0.1:1/contracts
  vector_dim: 768
`)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LLM_PROVIDER", "")
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	_, err = newApp(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Contains(t, err.Error(), "embedding dimension 64")
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
chunker:
  chunk_size: 100
  chunk_overlap: 200
`)
	root := newRootCmd()
	var stderr bytes.Buffer
	root.SetErr(&stderr)
	root.SetOut(&stderr)
	root.SetArgs([]string{"--config", path, "ingest", "contract.pdf"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "chunker.chunk_overlap")
}
