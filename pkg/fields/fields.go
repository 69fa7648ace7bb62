// Package fields extracts the structured contract schema from document
// text, either through a generative model or through fixed patterns.
package fields

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/internal/types"
	"github.com/xhad/contractiq/pkg/fallback"
)

var ErrNoModel = errors.New("no model configured")

type ExtractorConfig struct {
	// MaxInputChars caps how much document text is sent to the model.
	MaxInputChars int
}

type Extractor struct {
	config ExtractorConfig
	gen    types.Generator
	log    *slog.Logger
}

// New returns an extractor. gen may be nil, in which case model-driven
// extraction fails with ErrNoModel and auto mode goes straight to rules.
func New(gen types.Generator, config ExtractorConfig, log *slog.Logger) *Extractor {
	if config.MaxInputChars == 0 {
		config.MaxInputChars = 8000
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Extractor{config: config, gen: gen, log: log.With("component", "fields")}
}

func (e *Extractor) modelStrategy() fallback.Strategy[string, models.ContractFields] {
	return fallback.StrategyFunc(string(models.MethodModelDriven), func(ctx context.Context, text string) (models.ContractFields, error) {
		if e.gen == nil {
			return models.ContractFields{}, ErrNoModel
		}
		return ExtractWithModel(ctx, e.gen, text, e.config.MaxInputChars)
	})
}

func (e *Extractor) ruleStrategy() fallback.Strategy[string, models.ContractFields] {
	return fallback.StrategyFunc(string(models.MethodRuleBased), func(_ context.Context, text string) (models.ContractFields, error) {
		return ExtractWithRules(text), nil
	})
}

// Extract fills the schema for doc. In auto mode any model failure falls
// back to rules and the call succeeds; forced modes never fall back.
func (e *Extractor) Extract(ctx context.Context, doc models.Document, mode models.Mode) (models.ExtractedFields, error) {
	var strategies []fallback.Strategy[string, models.ContractFields]
	switch mode {
	case models.ModeModelDriven:
		strategies = append(strategies, e.modelStrategy())
	case models.ModeRuleBased:
		strategies = append(strategies, e.ruleStrategy())
	case models.ModeAuto:
		strategies = append(strategies, e.modelStrategy(), e.ruleStrategy())
	default:
		return models.ExtractedFields{}, fmt.Errorf("%w: %q", models.ErrInvalidMode, mode)
	}

	log := e.log.With("doc_id", doc.ID, "mode", mode)
	res, err := fallback.New(strategies, fallback.WithLogger[string, models.ContractFields](log)).Run(ctx, doc.Text)
	if err != nil {
		return models.ExtractedFields{}, fmt.Errorf("extract fields: %w", err)
	}

	out := models.ExtractedFields{
		DocumentID: doc.ID,
		Fields:     res.Value,
		Method:     models.Method(res.Strategy),
		Errors:     fieldErrors(res.Value, models.Method(res.Strategy)),
	}
	if len(res.Failed) > 0 {
		out.FallbackReason = res.Failed[0].Err.Error()
		log.Warn("model extraction failed, used rules", "error", res.Failed[0].Err)
	}
	log.Info("fields extracted", "method", out.Method, "missing", len(out.Errors))
	return out, nil
}

func fieldErrors(f models.ContractFields, method models.Method) []models.FieldError {
	msg := "no matching text found"
	if method == models.MethodModelDriven {
		msg = "not returned by model"
	}
	errs := make([]models.FieldError, 0)
	for _, name := range f.Missing() {
		errs = append(errs, models.FieldError{Field: name, Message: msg})
	}
	return errs
}
