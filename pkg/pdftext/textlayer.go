package pdftext

import (
	"bytes"
	"context"
	"fmt"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/xhad/contractiq/pkg/fallback"
)

const TierTextLayer = "text_layer"

// NewTextLayerTier reads the embedded text layer of born-digital PDFs.
func NewTextLayerTier() Tier {
	return fallback.StrategyFunc(TierTextLayer, func(ctx context.Context, data []byte) ([]string, error) {
		reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, fmt.Errorf("open pdf: %w", err)
		}

		numPages := reader.NumPage()
		pages := make([]string, 0, numPages)
		for i := 1; i <= numPages; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			page := reader.Page(i)
			if page.V.IsNull() {
				pages = append(pages, "")
				continue
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				pages = append(pages, "")
				continue
			}
			pages = append(pages, text)
		}
		return pages, nil
	})
}
