package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xhad/contractiq/internal/models"
)

var ErrInvalidConfig = errors.New("invalid chunker config")

// ChunkerConfig sizes are measured in words.
type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
	// BoundaryWindow is how many words before or after the nominal end a
	// window may stretch to land on a paragraph or sentence break.
	BoundaryWindow int
}

type Chunker struct {
	config ChunkerConfig
}

func NewWithConfig(config ChunkerConfig) (*Chunker, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 300
	}
	if err := validate(config.ChunkSize, config.ChunkOverlap); err != nil {
		return nil, err
	}
	if config.BoundaryWindow <= 0 {
		config.BoundaryWindow = max(1, config.ChunkSize/5)
	}
	return &Chunker{config: config}, nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidConfig, size, overlap)
	}
	return nil
}

// Chunk splits the document text into ordered windows tagged with page and
// byte-offset provenance.
func (c *Chunker) Chunk(doc models.Document) []models.Chunk {
	spans := spans(doc.Text, c.config.ChunkSize, c.config.ChunkOverlap, c.config.BoundaryWindow)
	chunks := make([]models.Chunk, 0, len(spans))
	for i, s := range spans {
		chunks = append(chunks, models.Chunk{
			ID:         fmt.Sprintf("%s_%d", doc.ID, i),
			DocumentID: doc.ID,
			Index:      i,
			Page:       models.PageForOffset(doc.Pages, s.firstWord),
			Start:      s.start,
			End:        s.end,
			Text:       doc.Text[s.start:s.end],
		})
	}
	return chunks
}

// Split is the bare windowing operation over text with the default
// boundary window.
func Split(text string, size, overlap int) ([]models.Chunk, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	c, err := NewWithConfig(ChunkerConfig{ChunkSize: size, ChunkOverlap: overlap})
	if err != nil {
		return nil, err
	}
	return c.Chunk(models.Document{Text: text}), nil
}

type unit struct {
	start, end int
}

type span struct {
	start, end int
	firstWord  int
}

func words(text string) []unit {
	var units []unit
	in := false
	start := 0
	for i, r := range text {
		if unicode.IsSpace(r) {
			if in {
				units = append(units, unit{start, i})
				in = false
			}
			continue
		}
		if !in {
			start = i
			in = true
		}
	}
	if in {
		units = append(units, unit{start, len(text)})
	}
	return units
}

func spans(text string, size, overlap, window int) []span {
	units := words(text)
	n := len(units)
	if n == 0 {
		return nil
	}

	offset := func(i int) int {
		if i == 0 {
			return 0
		}
		if i >= n {
			return len(text)
		}
		return units[i].start
	}

	var out []span
	a, prevEnd := 0, 0
	for {
		if n-a <= size {
			out = append(out, span{start: offset(a), end: len(text), firstWord: units[a].start})
			return out
		}
		end := pickEnd(text, units, a+size, max(a+overlap+1, a+size-window), min(n, a+size+window))
		out = append(out, span{start: offset(a), end: offset(end), firstWord: units[a].start})
		if end == n {
			return out
		}
		// Only the immediate neighbour may overlap: never step back past the
		// end of the chunk before this one.
		a = max(end-overlap, prevEnd)
		prevEnd = end
	}
}

// pickEnd chooses the exclusive end unit index in [lo, hi], preferring the
// strongest boundary, then the one closest to nominal, then the earlier one.
func pickEnd(text string, units []unit, nominal, lo, hi int) int {
	best, bestStrength, bestDist := nominal, 0, 0
	for c := lo; c <= hi; c++ {
		s := strength(text, units, c)
		if s == 0 {
			continue
		}
		d := c - nominal
		if d < 0 {
			d = -d
		}
		if s > bestStrength || (s == bestStrength && d < bestDist) {
			best, bestStrength, bestDist = c, s, d
		}
	}
	return best
}

// strength of ending a window right before unit c: 2 for a paragraph
// break or end of text, 1 for a sentence end, 0 otherwise.
func strength(text string, units []unit, c int) int {
	if c >= len(units) {
		return 2
	}
	gap := text[units[c-1].end:units[c].start]
	if strings.Count(gap, "\n") >= 2 {
		return 2
	}
	word := strings.TrimRight(text[units[c-1].start:units[c-1].end], "\"')]”’")
	if r, _ := utf8.DecodeLastRuneInString(word); r == '.' || r == '!' || r == '?' {
		return 1
	}
	return 0
}
