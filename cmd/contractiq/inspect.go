package main

import (
	"github.com/spf13/cobra"
	"github.com/xhad/contractiq/internal/models"
)

func newExtractCmd(opts *options) *cobra.Command {
	var (
		src  sources
		mode string
	)
	cmd := &cobra.Command{
		Use:   "extract [file or directory...]",
		Short: "Extract key contract fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := modeOr(mode, a.extractMode)
			if err != nil {
				return err
			}
			docs, err := a.ingestAll(ctx, cmd.ErrOrStderr(), args, src.urls)
			if err != nil {
				return err
			}

			results := make([]models.ExtractedFields, 0, len(docs))
			for _, doc := range docs {
				res, err := a.svc.ExtractFields(ctx, doc.ID, m)
				if err != nil {
					return err
				}
				results = append(results, res)
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), results)
			}
			for i, res := range results {
				printDocument(cmd.OutOrStdout(), docs[i])
				printFields(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "model_driven, rule_based or auto (default from config)")
	return cmd
}

func newAuditCmd(opts *options) *cobra.Command {
	var (
		src  sources
		mode string
	)
	cmd := &cobra.Command{
		Use:   "audit [file or directory...]",
		Short: "Flag risky clauses and score each contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, opts.cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := modeOr(mode, a.auditMode)
			if err != nil {
				return err
			}
			docs, err := a.ingestAll(ctx, cmd.ErrOrStderr(), args, src.urls)
			if err != nil {
				return err
			}

			reports := make([]models.AuditReport, 0, len(docs))
			for _, doc := range docs {
				rep, err := a.svc.Audit(ctx, doc.ID, m)
				if err != nil {
					return err
				}
				reports = append(reports, rep)
			}
			if opts.jsonOut {
				return printJSON(cmd.OutOrStdout(), reports)
			}
			for i, rep := range reports {
				printDocument(cmd.OutOrStdout(), docs[i])
				printAudit(cmd.OutOrStdout(), rep)
			}
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "model_driven, rule_based or auto (default from config)")
	return cmd
}

func modeOr(flag string, fallback models.Mode) (models.Mode, error) {
	if flag == "" {
		return fallback, nil
	}
	return models.ParseMode(flag)
}
