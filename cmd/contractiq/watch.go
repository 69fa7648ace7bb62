package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// settleDelay is how long a file must go without writes before it is
// picked up, so copies in progress are not read half-written.
const settleDelay = 500 * time.Millisecond

// watchPDFs calls fn once for each PDF created or rewritten in dir, after it
// has settled. fn runs on the watching goroutine, so files are handled one
// at a time. It blocks until ctx is done.
func watchPDFs(ctx context.Context, dir string, log *slog.Logger, fn func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Info("watching for contracts", "dir", dir)

	ticker := time.NewTicker(settleDelay / 2)
	defer ticker.Stop()
	pending := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isPDF(event.Name) || !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			pending[event.Name] = time.Now()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < settleDelay {
					continue
				}
				delete(pending, path)
				if info, err := os.Stat(path); err != nil || info.IsDir() {
					continue
				}
				fn(path)
			}
		}
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	var skipExisting bool
	cmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Audit contract PDFs as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir := args[0]
			a, err := newApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			handle := func(path string) {
				data, err := os.ReadFile(path)
				if err != nil {
					color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "✗ %s: %v\n", path, err)
					return
				}
				doc, ok := a.ingestOne(ctx, cmd.ErrOrStderr(), filepath.Base(path), "application/pdf", data)
				if !ok {
					return
				}
				rep, err := a.svc.Audit(ctx, doc.ID, a.auditMode)
				if err != nil {
					color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "✗ audit %s: %v\n", path, err)
					return
				}
				if opts.jsonOut {
					printJSON(out, rep)
					return
				}
				printAudit(out, rep)
			}

			if !skipExisting {
				existing, err := expandPaths([]string{dir})
				if err != nil {
					return err
				}
				for _, path := range existing {
					handle(path)
				}
			}
			return watchPDFs(ctx, dir, opts.log, handle)
		},
	}
	cmd.Flags().BoolVar(&skipExisting, "new-only", false, "ignore PDFs already in the directory")
	return cmd
}
