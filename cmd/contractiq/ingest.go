package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/pkg/fetch"
)

// sources are the PDFs a command should ingest before it runs.
type sources struct {
	urls []string
}

func (s *sources) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&s.urls, "url", "u", nil, "fetch PDFs from a URL (a PDF or a page linking to PDFs); repeatable")
}

func newIngestCmd(opts *options) *cobra.Command {
	var src sources
	cmd := &cobra.Command{
		Use:   "ingest [file or directory...]",
		Short: "Extract, chunk and index contract PDFs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := a.ingestAll(cmd.Context(), cmd.ErrOrStderr(), args, src.urls)
			if docs == nil {
				docs = []models.Document{}
			}
			if opts.jsonOut {
				if jerr := printJSON(cmd.OutOrStdout(), docs); jerr != nil {
					return jerr
				}
			} else {
				for _, doc := range docs {
					printDocument(cmd.OutOrStdout(), doc)
				}
			}
			return err
		},
	}
	src.register(cmd)
	return cmd
}

// ingestAll ingests every local file and every PDF reachable from urls.
// Per-file failures are reported and skipped; it returns an error only when
// nothing was ingested.
func (a *app) ingestAll(ctx context.Context, out io.Writer, paths, urls []string) ([]models.Document, error) {
	files, err := expandPaths(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 && len(urls) == 0 {
		return nil, errors.New("no PDF files or URLs given")
	}

	var docs []models.Document
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			color.New(color.FgRed).Fprintf(out, "✗ %s: %v\n", path, err)
			continue
		}
		if doc, ok := a.ingestOne(ctx, out, filepath.Base(path), "application/pdf", data); ok {
			docs = append(docs, doc)
		}
	}

	for _, u := range urls {
		downloads, err := a.fetch(ctx, out, u)
		if err != nil {
			color.New(color.FgRed).Fprintf(out, "✗ %s: %v\n", u, err)
			continue
		}
		for _, d := range downloads {
			if doc, ok := a.ingestOne(ctx, out, d.Filename, d.MediaType, d.Data); ok {
				docs = append(docs, doc)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return docs, err
	}
	if len(docs) == 0 {
		return nil, errors.New("no documents were ingested")
	}
	return docs, nil
}

func (a *app) ingestOne(ctx context.Context, out io.Writer, name, mediaType string, data []byte) (models.Document, bool) {
	bar := getProgressBar(-1, fmt.Sprintf("Indexing %s", name))
	defer a.track(bar)()

	doc, err := a.svc.Ingest(ctx, name, mediaType, data)
	bar.Finish()
	fmt.Fprintln(out)
	if err != nil {
		color.New(color.FgRed).Fprintf(out, "✗ %s: %v\n", name, err)
		return doc, false
	}
	color.New(color.FgGreen).Fprintf(out, "✓ %s: %d pages via %s\n", name, doc.PageCount, doc.Tier)
	return doc, true
}

func (a *app) fetch(ctx context.Context, out io.Writer, rawURL string) ([]fetch.Download, error) {
	var fetched int32
	spinner := getSpinner(fmt.Sprintf("Fetching %s", rawURL))
	f := fetch.NewWithConfig(fetch.FetcherConfig{
		MaxDepth:       a.cfg.Fetch.MaxDepth,
		RateLimit:      a.cfg.Fetch.RateLimit,
		MaxBytes:       a.cfg.Extraction.MaxUploadBytes,
		IgnorePatterns: a.cfg.Fetch.IgnorePatterns,
		OnProgress: func(string) {
			atomic.AddInt32(&fetched, 1)
		},
	}, a.log)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				spinner.Describe(color.CyanString("Fetching %s (%d pages)", rawURL, atomic.LoadInt32(&fetched)))
				spinner.Add(1)
			}
		}
	}()

	downloads, err := f.Fetch(ctx, rawURL)
	close(done)
	spinner.Finish()
	fmt.Fprintln(out)
	if err != nil {
		return nil, err
	}
	color.New(color.FgGreen).Fprintf(out, "✓ Found %d PDFs at %s\n", len(downloads), rawURL)
	return downloads, nil
}

// expandPaths replaces directories with the PDFs directly inside them.
func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && isPDF(e.Name()) {
				found = append(found, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}
