package pdftext

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/contractiq/pkg/fallback"
)

const TierLayout = "layout"

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// NewLayoutTier runs pdftotext in bbox-layout mode and rebuilds reading
// order from its block and line structure. A nil runner uses os/exec.
func NewLayoutTier(run Runner) Tier {
	if run == nil {
		run = execRunner
	}
	return fallback.StrategyFunc(TierLayout, func(ctx context.Context, data []byte) ([]string, error) {
		path, cleanup, err := writeTemp(data)
		if err != nil {
			return nil, err
		}
		defer cleanup()

		out, err := run(ctx, "pdftotext", "-bbox-layout", "-enc", "UTF-8", path, "-")
		if err != nil {
			return nil, err
		}
		return parseBBoxLayout(strings.NewReader(string(out)))
	})
}

// parseBBoxLayout reads pdftotext's XHTML output. Words on a line are joined
// by spaces, lines by newlines and blocks by blank lines.
func parseBBoxLayout(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	var pages []string
	doc.Find("page").Each(func(_ int, page *goquery.Selection) {
		var blocks []string
		page.Find("block").Each(func(_ int, block *goquery.Selection) {
			var lines []string
			block.Find("line").Each(func(_ int, line *goquery.Selection) {
				var words []string
				line.Find("word").Each(func(_ int, w *goquery.Selection) {
					if t := strings.TrimSpace(w.Text()); t != "" {
						words = append(words, t)
					}
				})
				if len(words) > 0 {
					lines = append(lines, strings.Join(words, " "))
				}
			})
			if len(lines) > 0 {
				blocks = append(blocks, strings.Join(lines, "\n"))
			}
		})
		pages = append(pages, strings.Join(blocks, "\n\n"))
	})
	return pages, nil
}

func writeTemp(data []byte) (string, func(), error) {
	tmp, err := os.CreateTemp("", "contractiq-*.pdf")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return path, cleanup, nil
}
