// Package audit scans contract text for risky clauses and scores them.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/internal/types"
	"github.com/xhad/contractiq/pkg/fallback"
	"github.com/xhad/contractiq/pkg/fields"
)

type AuditorConfig struct {
	// NoticeThresholdDays is the shortest acceptable non-renewal notice.
	NoticeThresholdDays int
	MaxRiskScore        float64
	MaxInputChars       int
}

func (c AuditorConfig) withDefaults() AuditorConfig {
	if c.NoticeThresholdDays <= 0 {
		c.NoticeThresholdDays = 30
	}
	if c.MaxRiskScore <= 0 {
		c.MaxRiskScore = 10
	}
	if c.MaxInputChars == 0 {
		c.MaxInputChars = 10000
	}
	return c
}

type Auditor struct {
	config AuditorConfig
	gen    types.Generator
	log    *slog.Logger
}

// New returns an auditor. A nil gen makes model-driven audits fail with
// fields.ErrNoModel.
func New(gen types.Generator, config AuditorConfig, log *slog.Logger) *Auditor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Auditor{config: config.withDefaults(), gen: gen, log: log.With("component", "audit")}
}

// Audit produces findings for doc and their capped risk score.
func (a *Auditor) Audit(ctx context.Context, doc models.Document, mode models.Mode) (models.AuditReport, error) {
	log := a.log.With("doc_id", doc.ID, "mode", mode)

	model := fallback.StrategyFunc(string(models.MethodModelDriven), func(ctx context.Context, text string) ([]models.Finding, error) {
		if a.gen == nil {
			return nil, fields.ErrNoModel
		}
		return auditWithModel(ctx, a.gen, text, a.config, log)
	})
	rules := fallback.StrategyFunc(string(models.MethodRuleBased), func(_ context.Context, text string) ([]models.Finding, error) {
		return AuditWithRules(text, a.config), nil
	})

	var strategies []fallback.Strategy[string, []models.Finding]
	switch mode {
	case models.ModeModelDriven:
		strategies = append(strategies, model)
	case models.ModeRuleBased:
		strategies = append(strategies, rules)
	case models.ModeAuto:
		strategies = append(strategies, model, rules)
	default:
		return models.AuditReport{}, fmt.Errorf("%w: %q", models.ErrInvalidMode, mode)
	}

	res, err := fallback.New(strategies, fallback.WithLogger[string, []models.Finding](log)).Run(ctx, doc.Text)
	if err != nil {
		return models.AuditReport{}, fmt.Errorf("audit: %w", err)
	}

	findings := res.Value
	for i := range findings {
		if ev := findings[i].Evidence; ev != nil && ev.Start >= 0 {
			ev.Page = doc.PageAt(ev.Start)
		}
	}

	report := models.AuditReport{
		DocumentID: doc.ID,
		Findings:   findings,
		RiskScore:  RiskScore(findings, a.config.MaxRiskScore),
		Method:     models.Method(res.Strategy),
	}
	if len(res.Failed) > 0 {
		report.FallbackReason = res.Failed[0].Err.Error()
		log.Warn("model audit failed, used rules", "error", res.Failed[0].Err)
	}
	log.Info("audit complete", "method", report.Method, "findings", len(findings), "risk_score", report.RiskScore)
	return report, nil
}

// RiskScore sums severity weights and caps the total at limit.
func RiskScore(findings []models.Finding, limit float64) float64 {
	var total float64
	for _, f := range findings {
		total += f.Severity.Weight()
	}
	return min(total, limit)
}
