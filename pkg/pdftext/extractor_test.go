package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/contractiq/pkg/fallback"
)

func fixedTier(name string, pages []string, err error) Tier {
	return fallback.StrategyFunc(name, func(context.Context, []byte) ([]string, error) {
		return pages, err
	})
}

func TestExtractFirstTierSucceeds(t *testing.T) {
	ext := New(ExtractorConfig{}, nil,
		fixedTier("one", []string{"  Master Services Agreement  ", "Page two text"}, nil),
		fixedTier("two", nil, errors.New("should not run")),
	)

	out, err := ext.Extract(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "one", out.Tier)
	assert.Equal(t, 2, out.PageCount)
	assert.Equal(t, "Master Services Agreement\n\nPage two text", out.Text)
	require.Len(t, out.Pages, 2)
	assert.Equal(t, "Master Services Agreement", out.Text[out.Pages[0].Start:out.Pages[0].End])
	assert.Equal(t, "Page two text", out.Text[out.Pages[1].Start:out.Pages[1].End])
	assert.Equal(t, 2, out.Pages[1].Number)
}

func TestExtractFallsThroughEmptyAndFailingTiers(t *testing.T) {
	ext := New(ExtractorConfig{MinCharsPerPage: 3}, nil,
		fixedTier(TierTextLayer, []string{"   ", "\n"}, nil),
		fixedTier(TierLayout, nil, errors.New("pdftotext missing")),
		fixedTier(TierOCR, []string{"Scanned contract page"}, nil),
	)

	out, err := ext.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, TierOCR, out.Tier)
	assert.Equal(t, 1, out.PageCount)
}

func TestExtractRejectsGarbledText(t *testing.T) {
	garbled := strings.Repeat("\uFFFD", 50) + " abcdefgh"
	ext := New(ExtractorConfig{}, nil,
		fixedTier("garbled", []string{garbled}, nil),
		fixedTier("clean", []string{"Readable agreement text"}, nil),
	)

	out, err := ext.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "clean", out.Tier)
}

func TestExtractAllTiersExhausted(t *testing.T) {
	ext := New(ExtractorConfig{}, nil,
		fixedTier(TierTextLayer, []string{""}, nil),
		fixedTier(TierLayout, nil, errors.New("layout crashed")),
		fixedTier(TierOCR, nil, errors.New("tesseract not installed")),
	)

	_, err := ext.Extract(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExtractionFailed)

	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	require.Len(t, extErr.Tiers, 3)
	assert.Equal(t, TierTextLayer, extErr.Tiers[0].Strategy)
	assert.Contains(t, err.Error(), "too little text")
	assert.Contains(t, err.Error(), "layout crashed")
	assert.Contains(t, err.Error(), "tesseract not installed")
}

// buildPDF writes a minimal born-digital PDF with one line of Helvetica
// text per page.
func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	n := 3 + 2*len(pages)
	objects := make([]string, n)
	kids := make([]string, len(pages))
	for i, text := range pages {
		pageObj, contentObj := 4+2*i, 5+2*i
		kids[i] = fmt.Sprintf("%d 0 R", pageObj)
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects[pageObj-1] = fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", contentObj)
		objects[contentObj-1] = fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)
	}
	objects[0] = "<< /Type /Catalog /Pages 2 0 R >>"
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))
	objects[2] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, n)
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", n+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", n+1, xref)
	return buf.Bytes()
}

func TestTextLayerReadsBornDigitalPDF(t *testing.T) {
	data := buildPDF(t, "Master Services Agreement", "Payment terms: net 30 days")

	pages, err := NewTextLayerTier().Attempt(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Master Services Agreement", strings.TrimSpace(pages[0]))
	assert.Equal(t, "Payment terms: net 30 days", strings.TrimSpace(pages[1]))

	ext := New(ExtractorConfig{}, nil, NewTextLayerTier(), fixedTier(TierOCR, nil, errors.New("should not run")))
	out, err := ext.Extract(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, TierTextLayer, out.Tier)
	assert.Equal(t, 2, out.PageCount)
	assert.Equal(t, "Master Services Agreement\n\nPayment terms: net 30 days", out.Text)
	require.Len(t, out.Pages, 2)
	assert.Equal(t, 1, out.Pages[0].Number)
	assert.Equal(t, "Master Services Agreement", out.Text[out.Pages[0].Start:out.Pages[0].End])
	assert.Equal(t, "Payment terms: net 30 days", out.Text[out.Pages[1].Start:out.Pages[1].End])
	assert.Equal(t, out.Pages[0].End+len(PageSeparator), out.Pages[1].Start)
}

func TestTextLayerRejectsNonPDF(t *testing.T) {
	_, err := NewTextLayerTier().Attempt(context.Background(), []byte("definitely not a pdf"))
	assert.Error(t, err)
}

const bboxSample = `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title></title></head>
<body>
<doc>
  <page width="612.000000" height="792.000000">
    <flow>
      <block xMin="72" yMin="72" xMax="300" yMax="100">
        <line xMin="72" yMin="72" xMax="300" yMax="86">
          <word xMin="72" yMin="72" xMax="120" yMax="86">SERVICES</word>
          <word xMin="125" yMin="72" xMax="200" yMax="86">AGREEMENT</word>
        </line>
      </block>
      <block xMin="72" yMin="120" xMax="300" yMax="160">
        <line xMin="72" yMin="120" xMax="300" yMax="134">
          <word>This</word>
          <word>Agreement</word>
        </line>
        <line xMin="72" yMin="140" xMax="300" yMax="154">
          <word>is</word>
          <word>binding.</word>
        </line>
      </block>
    </flow>
  </page>
  <page width="612.000000" height="792.000000">
    <flow>
      <block><line><word>Signature</word></line></block>
    </flow>
  </page>
</doc>
</body>
</html>`

func TestParseBBoxLayout(t *testing.T) {
	pages, err := parseBBoxLayout(strings.NewReader(bboxSample))
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "SERVICES AGREEMENT\n\nThis Agreement\nis binding.", pages[0])
	assert.Equal(t, "Signature", pages[1])
}

func TestLayoutTierUsesRunner(t *testing.T) {
	var gotArgs []string
	tier := NewLayoutTier(func(_ context.Context, name string, args ...string) ([]byte, error) {
		assert.Equal(t, "pdftotext", name)
		gotArgs = args
		return []byte(bboxSample), nil
	})

	pages, err := tier.Attempt(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Contains(t, gotArgs, "-bbox-layout")
}

func TestOCRTierRecognizesRenderedPages(t *testing.T) {
	var recognized []string
	tier := NewOCRTier(OCRConfig{DPI: 150}, func(_ context.Context, name string, args ...string) ([]byte, error) {
		switch name {
		case "pdftoppm":
			prefix := args[len(args)-1]
			for _, n := range []string{"02", "01"} {
				require.NoError(t, os.WriteFile(prefix+"-"+n+".png", []byte("png"), 0o600))
			}
			return nil, nil
		case "tesseract":
			base := filepath.Base(args[0])
			recognized = append(recognized, base)
			return []byte("text of " + base), nil
		}
		return nil, errors.New("unexpected command " + name)
	})

	pages, err := tier.Attempt(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, []string{"text of page-01.png", "text of page-02.png"}, pages)
	assert.Equal(t, []string{"page-01.png", "page-02.png"}, recognized)
}

func TestOCRTierFailsWithoutImages(t *testing.T) {
	tier := NewOCRTier(OCRConfig{}, func(context.Context, string, ...string) ([]byte, error) {
		return nil, nil
	})
	_, err := tier.Attempt(context.Background(), []byte("%PDF-1.4"))
	assert.Error(t, err)
}
