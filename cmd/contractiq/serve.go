package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/xhad/contractiq/server"
)

func newServeCmd(opts *options) *cobra.Command {
	var addr, watchDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = opts.cfg.Server.Addr
			}
			srv := server.New(a.svc, server.Config{
				MaxUploadBytes: opts.cfg.Extraction.MaxUploadBytes,
				ExtractMode:    a.extractMode,
				AuditMode:      a.auditMode,
				TopK:           opts.cfg.Retrieval.TopK,
				AllowedOrigins: opts.cfg.Server.AllowedOrigins,
			}, opts.log)

			if watchDir != "" {
				go func() {
					err := watchPDFs(ctx, watchDir, opts.log, func(path string) {
						data, err := os.ReadFile(path)
						if err != nil {
							opts.log.Error("failed to read watched file", "path", path, "error", err)
							return
						}
						if _, err := a.svc.Ingest(ctx, filepath.Base(path), "application/pdf", data); err != nil {
							opts.log.Warn("watched file not ingested", "path", path, "error", err)
						}
					})
					if err != nil {
						opts.log.Error("directory watch stopped", "error", err)
					}
				}()
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       60 * time.Second,
				WriteTimeout:      5 * time.Minute,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				opts.log.Info("starting contractiq", "addr", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			opts.log.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "also ingest PDFs dropped into this directory")
	return cmd
}
