package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/contractiq/internal/models"
)

func chunk(doc string, idx int) models.Chunk {
	return models.Chunk{
		ID:         fmt.Sprintf("%s_%d", doc, idx),
		DocumentID: doc,
		Index:      idx,
		Page:       1,
		Text:       fmt.Sprintf("%s chunk %d", doc, idx),
	}
}

func TestMemoryIndexScopesToAllowedDocuments(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(-1)
	require.NoError(t, idx.Upsert(ctx, chunk("a", 0), []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, chunk("b", 0), []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, chunk("c", 0), []float32{0, 1}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 10, []string{"a", "c"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.NotEqual(t, "b", h.DocumentID)
	}
	assert.Equal(t, "a", hits[0].DocumentID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemoryIndexEmptyScope(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(-1)
	require.NoError(t, idx.Upsert(ctx, chunk("a", 0), []float32{1, 0}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)

	hits, err = idx.Query(ctx, []float32{1, 0}, 0, []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryIndexTieBreaks(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(-1)
	for _, c := range []models.Chunk{chunk("b", 1), chunk("a", 1), chunk("b", 0), chunk("a", 2)} {
		require.NoError(t, idx.Upsert(ctx, c, []float32{0.5, 0.5}))
	}

	hits, err := idx.Query(ctx, []float32{1, 1}, 3, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "b_0", hits[0].ID)
	assert.Equal(t, "a_1", hits[1].ID)
	assert.Equal(t, "b_1", hits[2].ID)
}

func TestMemoryIndexThresholdBeforeTopK(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0.7)
	require.NoError(t, idx.Upsert(ctx, chunk("a", 0), []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, chunk("a", 1), []float32{1, 1}))
	require.NoError(t, idx.Upsert(ctx, chunk("a", 2), []float32{0, 1}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 3, []string{"a"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Index)
	assert.Equal(t, 1, hits[1].Index)
}

func TestMemoryIndexLastWriteWinsAndDelete(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(-1)
	c := chunk("a", 0)
	require.NoError(t, idx.Upsert(ctx, c, []float32{1, 0}))
	c.Text = "replaced"
	require.NoError(t, idx.Upsert(ctx, c, []float32{0, 1}))
	assert.Equal(t, 1, idx.Len())

	hits, err := idx.Query(ctx, []float32{0, 1}, 1, []string{"a"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "replaced", hits[0].Text)

	require.NoError(t, idx.Upsert(ctx, chunk("b", 0), []float32{0, 1}))
	require.NoError(t, idx.DeleteDocument(ctx, "a"))
	assert.Equal(t, 1, idx.Len())
}

func TestMemoryIndexConcurrentDocuments(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(-1)

	var wg sync.WaitGroup
	for d := 0; d < 8; d++ {
		wg.Add(1)
		go func(doc string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = idx.Upsert(ctx, chunk(doc, i), []float32{float32(i + 1), 1})
				_, _ = idx.Query(ctx, []float32{1, 1}, 3, []string{doc})
			}
		}(fmt.Sprintf("doc%d", d))
	}
	wg.Wait()
	assert.Equal(t, 160, idx.Len())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 1}))
}

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "abc", sanitizeUTF8("a\x00bc"))
	assert.Equal(t, "ok", sanitizeUTF8("o\xffk"))
	assert.Equal(t, "héllo", sanitizeUTF8("héllo"))
}
