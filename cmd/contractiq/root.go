package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xhad/contractiq/pkg/config"
	"github.com/xhad/contractiq/pkg/logging"
)

type options struct {
	configPath string
	verbose    bool
	jsonOut    bool

	cfg *config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "contractiq",
		Short: "Extract, audit and question contract PDFs",
		Long: `contractiq turns contract PDFs into searchable passages, extracts
the key commercial terms, flags risky clauses and answers questions
with citations back to the source pages.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newIngestCmd(opts),
		newAskCmd(opts),
		newExtractCmd(opts),
		newAuditCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// load reads .env, the config file and the environment, then builds the
// logger every command shares.
func (o *options) load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	level := cfg.Log.Level
	if o.verbose {
		level = "debug"
	}
	log, err := logging.New(logging.Config{Level: level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	o.cfg, o.log = cfg, log
	return nil
}
