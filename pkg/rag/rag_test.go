package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/contractiq/internal/models"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, f.err
}

func (f fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, f.err
}

type fakeIndex struct {
	hits    []models.ScoredChunk
	k       int
	allowed []string
}

func (f *fakeIndex) Upsert(context.Context, models.Chunk, []float32) error { return nil }

func (f *fakeIndex) Query(_ context.Context, _ []float32, k int, allowed []string) ([]models.ScoredChunk, error) {
	f.k, f.allowed = k, allowed
	if len(allowed) == 0 {
		return []models.ScoredChunk{}, nil
	}
	return f.hits[:min(k, len(f.hits))], nil
}

func (f *fakeIndex) DeleteDocument(context.Context, string) error { return nil }

type fakeGenerator struct {
	answer string
	err    error
	prompt string
	calls  int
}

func (g *fakeGenerator) Generate(_ context.Context, _, prompt string) (string, error) {
	g.calls++
	g.prompt = prompt
	return g.answer, g.err
}

type fakeStreamer struct {
	fakeGenerator
	fragments []string
}

func (g *fakeStreamer) Stream(_ context.Context, _, _ string, emit func(string) error) error {
	if g.err != nil {
		return g.err
	}
	for _, f := range g.fragments {
		if err := emit(f); err != nil {
			return err
		}
	}
	return nil
}

func hit(doc string, idx, page int, score float64, text string) models.ScoredChunk {
	return models.ScoredChunk{
		Chunk: models.Chunk{
			ID:         doc + "_" + string(rune('0'+idx)),
			DocumentID: doc,
			Index:      idx,
			Page:       page,
			Start:      idx * 100,
			End:        idx*100 + len(text),
			Text:       text,
		},
		Score: score,
	}
}

func sampleHits() []models.ScoredChunk {
	return []models.ScoredChunk{
		hit("doc-a", 2, 1, 0.91, "The initial term of this Agreement is two (2) years from the Effective Date."),
		hit("doc-b", 0, 3, 0.72, "Either party may terminate upon sixty days written notice."),
		hit("doc-a", 5, 2, 0.55, strings.Repeat("Confidential information shall be protected. ", 10)),
	}
}

func collect(t *testing.T, ch <-chan StreamEvent) (string, StreamEvent) {
	t.Helper()
	var b strings.Builder
	var last StreamEvent
	for ev := range ch {
		b.WriteString(ev.Fragment)
		last = ev
	}
	return b.String(), last
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	e := New(fakeEmbedder{}, &fakeIndex{}, &fakeGenerator{}, EngineConfig{}, nil)
	_, err := e.Ask(context.Background(), "   ", []string{"doc-a"}, 3)
	assert.ErrorIs(t, err, models.ErrEmptyQuestion)

	_, err = e.AskStream(context.Background(), "", []string{"doc-a"}, 3)
	assert.ErrorIs(t, err, models.ErrEmptyQuestion)
}

func TestAskWithoutPassagesNeverGenerates(t *testing.T) {
	gen := &fakeGenerator{answer: "made up"}
	e := New(fakeEmbedder{}, &fakeIndex{hits: sampleHits()}, gen, EngineConfig{}, nil)

	ans, err := e.Ask(context.Background(), "What is the term?", nil, 3)
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, ans.Text)
	assert.NotNil(t, ans.Citations)
	assert.Empty(t, ans.Citations)
	assert.Zero(t, gen.calls)
}

func TestAskCitesEveryContextPassage(t *testing.T) {
	idx := &fakeIndex{hits: sampleHits()}
	gen := &fakeGenerator{answer: "  The term is two years [1].\n"}
	e := New(fakeEmbedder{}, idx, gen, EngineConfig{}, nil)

	ans, err := e.Ask(context.Background(), "What is the term?", []string{"doc-a", "doc-b"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "The term is two years [1].", ans.Text)
	assert.False(t, ans.Fallback)
	assert.Equal(t, 5, idx.k)
	assert.Equal(t, []string{"doc-a", "doc-b"}, idx.allowed)

	require.Len(t, ans.Citations, 3)
	for i, h := range sampleHits() {
		c := ans.Citations[i]
		assert.Equal(t, h.DocumentID, c.DocumentID)
		assert.Equal(t, h.Index, c.ChunkIndex)
		assert.Equal(t, h.Page, c.Page)
		assert.Equal(t, h.Start, c.CharStart)
		assert.Equal(t, h.End, c.CharEnd)
		assert.Equal(t, h.Score, c.Score)
		assert.LessOrEqual(t, len(c.Excerpt), 200)
		assert.Contains(t, gen.prompt, strings.TrimSpace(h.Text))
	}
	assert.True(t, strings.HasSuffix(ans.Citations[2].Excerpt, "..."))
	assert.Contains(t, gen.prompt, "[2] Document doc-b, page 3")
	assert.Contains(t, gen.prompt, NoAnswer)
}

func TestAskContextBudgetLimitsCitations(t *testing.T) {
	gen := &fakeGenerator{answer: "Two years."}
	e := New(fakeEmbedder{}, &fakeIndex{hits: sampleHits()}, gen, EngineConfig{MaxContextChars: 100}, nil)

	ans, err := e.Ask(context.Background(), "What is the term?", []string{"doc-a"}, 3)
	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "doc-a", ans.Citations[0].DocumentID)
	assert.NotContains(t, gen.prompt, "sixty days")
}

func TestAskFallsBackToExtractiveAnswer(t *testing.T) {
	for name, gen := range map[string]*fakeGenerator{
		"provider error": {err: errors.New("503 service unavailable")},
		"empty answer":   {answer: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			e := New(fakeEmbedder{}, &fakeIndex{hits: sampleHits()}, gen, EngineConfig{}, nil)
			ans, err := e.Ask(context.Background(), "What is the term?", []string{"doc-a"}, 2)
			require.NoError(t, err)
			assert.True(t, ans.Fallback)
			assert.Contains(t, ans.Text, "two (2) years")
			assert.Len(t, ans.Citations, 2)
		})
	}

	e := New(fakeEmbedder{}, &fakeIndex{hits: sampleHits()}, nil, EngineConfig{}, nil)
	ans, err := e.Ask(context.Background(), "What is the term?", []string{"doc-a"}, 1)
	require.NoError(t, err)
	assert.True(t, ans.Fallback)
}

func TestAskPropagatesRetrievalErrors(t *testing.T) {
	e := New(fakeEmbedder{err: errors.New("embedder down")}, &fakeIndex{}, &fakeGenerator{}, EngineConfig{}, nil)
	_, err := e.Ask(context.Background(), "What is the term?", []string{"doc-a"}, 2)
	assert.ErrorContains(t, err, "embedder down")
}

func TestAskStreamMatchesAnswer(t *testing.T) {
	gen := &fakeStreamer{fragments: []string{"The term ", "", "is two ", "years."}}
	e := New(fakeEmbedder{}, &fakeIndex{hits: sampleHits()}, gen, EngineConfig{}, nil)

	ch, err := e.AskStream(context.Background(), "What is the term?", []string{"doc-a"}, 2)
	require.NoError(t, err)
	text, last := collect(t, ch)
	assert.Equal(t, "The term is two years.", text)
	assert.True(t, last.Done)
	assert.NoError(t, last.Err)
	assert.False(t, last.Fallback)
	assert.Len(t, last.Citations, 2)
}

func TestAskStreamWithoutPassages(t *testing.T) {
	e := New(fakeEmbedder{}, &fakeIndex{hits: sampleHits()}, &fakeStreamer{}, EngineConfig{}, nil)
	ch, err := e.AskStream(context.Background(), "What is the term?", []string{}, 2)
	require.NoError(t, err)
	text, last := collect(t, ch)
	assert.Equal(t, NoAnswer, text)
	assert.True(t, last.Done)
	assert.NotNil(t, last.Citations)
	assert.Empty(t, last.Citations)
}

func TestAskStreamFallsBackBeforeFirstFragment(t *testing.T) {
	gen := &fakeStreamer{fakeGenerator: fakeGenerator{err: errors.New("429 too many requests")}}
	e := New(fakeEmbedder{}, &fakeIndex{hits: sampleHits()}, gen, EngineConfig{}, nil)

	ch, err := e.AskStream(context.Background(), "What is the term?", []string{"doc-a"}, 1)
	require.NoError(t, err)
	text, last := collect(t, ch)
	assert.Contains(t, text, "two (2) years")
	assert.True(t, last.Done)
	assert.True(t, last.Fallback)
	assert.Len(t, last.Citations, 1)
}

func TestAskStreamWithPlainGenerator(t *testing.T) {
	gen := &fakeGenerator{answer: "Two years."}
	e := New(fakeEmbedder{}, &fakeIndex{hits: sampleHits()}, gen, EngineConfig{}, nil)

	ch, err := e.AskStream(context.Background(), "What is the term?", []string{"doc-a"}, 1)
	require.NoError(t, err)
	text, last := collect(t, ch)
	assert.Equal(t, "Two years.", text)
	assert.True(t, last.Done)
}

type endlessStreamer struct {
	fakeGenerator
	stopped chan struct{}
}

func (g *endlessStreamer) Stream(ctx context.Context, _, _ string, emit func(string) error) error {
	defer close(g.stopped)
	for {
		if err := emit("token "); err != nil {
			return err
		}
	}
}

func TestAskStreamCancellationStopsProducer(t *testing.T) {
	gen := &endlessStreamer{stopped: make(chan struct{})}
	e := New(fakeEmbedder{}, &fakeIndex{hits: sampleHits()}, gen, EngineConfig{StreamBuffer: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := e.AskStream(ctx, "What is the term?", []string{"doc-a"}, 2)
	require.NoError(t, err)

	ev := <-ch
	assert.Equal(t, "token ", ev.Fragment)
	cancel()

	select {
	case <-gen.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still running after cancel")
	}
	for ev := range ch {
		assert.False(t, ev.Done)
	}
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "a b c", excerpt("a\n b\t\tc", 200))
	assert.Equal(t, "abcdefg...", excerpt("abcdefghijklmnop", 10))
	assert.Equal(t, "é...", excerpt("éééééé", 6))
}
