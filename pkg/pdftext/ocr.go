package pdftext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/xhad/contractiq/pkg/fallback"
)

const TierOCR = "ocr"

type OCRConfig struct {
	DPI      int
	Language string
}

// NewOCRTier renders every page with pdftoppm and recognizes it with
// tesseract. A nil runner uses os/exec.
func NewOCRTier(config OCRConfig, run Runner) Tier {
	if config.DPI == 0 {
		config.DPI = 300
	}
	if config.Language == "" {
		config.Language = "eng"
	}
	if run == nil {
		run = execRunner
	}

	return fallback.StrategyFunc(TierOCR, func(ctx context.Context, data []byte) ([]string, error) {
		dir, err := os.MkdirTemp("", "contractiq-ocr-*")
		if err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)

		src := filepath.Join(dir, "input.pdf")
		if err := os.WriteFile(src, data, 0o600); err != nil {
			return nil, fmt.Errorf("write pdf: %w", err)
		}

		prefix := filepath.Join(dir, "page")
		if _, err := run(ctx, "pdftoppm", "-r", strconv.Itoa(config.DPI), "-png", src, prefix); err != nil {
			return nil, err
		}

		images, err := filepath.Glob(prefix + "-*.png")
		if err != nil {
			return nil, err
		}
		if len(images) == 0 {
			return nil, fmt.Errorf("pdftoppm rendered no pages")
		}
		// pdftoppm zero-pads page numbers to a common width.
		sort.Strings(images)

		pages := make([]string, 0, len(images))
		for _, img := range images {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := run(ctx, "tesseract", img, "stdout", "-l", config.Language)
			if err != nil {
				return nil, err
			}
			pages = append(pages, string(out))
		}
		return pages, nil
	})
}
