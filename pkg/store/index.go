package store

import (
	"math"
	"sort"

	"github.com/xhad/contractiq/internal/models"
)

// rank orders by score descending, then chunk index, then document id,
// drops entries under minScore and keeps at most k.
func rank(hits []models.ScoredChunk, k int, minScore float64) []models.ScoredChunk {
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.DocumentID < b.DocumentID
	})
	if len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
