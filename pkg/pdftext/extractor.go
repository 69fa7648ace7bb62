// Package pdftext turns PDF bytes into page-delimited plain text through a
// chain of progressively slower extraction tiers.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/internal/types"
	"github.com/xhad/contractiq/pkg/fallback"
)

// PageSeparator joins page texts in the assembled document text.
const PageSeparator = "\n\n"

var (
	ErrExtractionFailed = errors.New("text extraction failed")
	errNoPages          = errors.New("no pages")
	errTooLittleText    = errors.New("too little text")
	errGarbled          = errors.New("text looks garbled")
)

// ExtractionError lists why each tier failed.
type ExtractionError struct {
	Tiers []fallback.Attempt
}

func (e *ExtractionError) Error() string {
	parts := make([]string, 0, len(e.Tiers))
	for _, t := range e.Tiers {
		parts = append(parts, fmt.Sprintf("%s: %v", t.Strategy, t.Err))
	}
	return fmt.Sprintf("%v: %s", ErrExtractionFailed, strings.Join(parts, "; "))
}

func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}

// Tier produces the text of each page, in page order.
type Tier = fallback.Strategy[[]byte, []string]

type ExtractorConfig struct {
	// MinCharsPerPage is the average number of letters or digits per page a
	// tier must yield to count as a success.
	MinCharsPerPage float64
	// MaxGarbledRatio rejects output where this share of non-space runes is
	// replacement or control characters.
	MaxGarbledRatio float64
	TierTimeout     time.Duration
}

type Extractor struct {
	config ExtractorConfig
	chain  *fallback.Chain[[]byte, []string]
	log    *slog.Logger
}

// New builds an extractor over the given tiers, tried in order.
func New(config ExtractorConfig, log *slog.Logger, tiers ...Tier) *Extractor {
	if config.MinCharsPerPage <= 0 {
		config.MinCharsPerPage = 5
	}
	if config.MaxGarbledRatio <= 0 {
		config.MaxGarbledRatio = 0.3
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	e := &Extractor{config: config, log: log}
	if config.TierTimeout > 0 {
		for i, t := range tiers {
			tiers[i] = withTimeout(t, config.TierTimeout)
		}
	}
	e.chain = fallback.New(tiers,
		fallback.WithPredicate[[]byte, []string](e.accept),
		fallback.WithLogger[[]byte, []string](log.With("component", "pdftext")),
	)
	return e
}

// NewDefault wires the text layer, layout and OCR tiers.
func NewDefault(config ExtractorConfig, ocr OCRConfig, log *slog.Logger) *Extractor {
	return New(config, log, NewTextLayerTier(), NewLayoutTier(nil), NewOCRTier(ocr, nil))
}

func (e *Extractor) Extract(ctx context.Context, data []byte) (types.ExtractedText, error) {
	res, err := e.chain.Run(ctx, data)
	if err != nil {
		var exhausted *fallback.ExhaustedError
		if errors.As(err, &exhausted) {
			return types.ExtractedText{}, &ExtractionError{Tiers: exhausted.Attempts}
		}
		return types.ExtractedText{}, err
	}

	text, spans := assemble(res.Value)
	e.log.Info("text extracted",
		"tier", res.Strategy,
		"pages", len(res.Value),
		"chars", len(text),
		"skipped_tiers", len(res.Failed),
	)
	return types.ExtractedText{
		Text:      text,
		PageCount: len(res.Value),
		Pages:     spans,
		Tier:      res.Strategy,
	}, nil
}

func (e *Extractor) accept(pages []string) error {
	if len(pages) == 0 {
		return errNoPages
	}
	var meaningful, nonSpace, bad int
	for _, p := range pages {
		for _, r := range p {
			switch {
			case unicode.IsSpace(r):
				continue
			case r == unicode.ReplacementChar || unicode.IsControl(r):
				bad++
			case unicode.IsLetter(r) || unicode.IsDigit(r):
				meaningful++
			}
			nonSpace++
		}
	}
	if avg := float64(meaningful) / float64(len(pages)); avg < e.config.MinCharsPerPage {
		return fmt.Errorf("%w: %.1f chars per page", errTooLittleText, avg)
	}
	if float64(bad) > e.config.MaxGarbledRatio*float64(nonSpace) {
		return fmt.Errorf("%w: %d of %d characters unreadable", errGarbled, bad, nonSpace)
	}
	return nil
}

func assemble(pages []string) (string, []models.PageSpan) {
	var b strings.Builder
	spans := make([]models.PageSpan, 0, len(pages))
	for i, p := range pages {
		if i > 0 {
			b.WriteString(PageSeparator)
		}
		start := b.Len()
		b.WriteString(strings.TrimSpace(p))
		spans = append(spans, models.PageSpan{Number: i + 1, Start: start, End: b.Len()})
	}
	return b.String(), spans
}

func withTimeout(t Tier, d time.Duration) Tier {
	return fallback.StrategyFunc(t.Name(), func(ctx context.Context, data []byte) ([]string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return t.Attempt(ctx, data)
	})
}
