package llm_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/pkg/llm"
)

// scriptedModel replays one result per call.
type scriptedModel struct {
	mu       sync.Mutex
	results  []result
	calls    int
	messages [][]llms.MessageContent
}

type result struct {
	text   string
	chunks []string
	err    error
	block  bool
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	m.mu.Lock()
	r := m.results[min(m.calls, len(m.results)-1)]
	m.calls++
	m.messages = append(m.messages, messages)
	m.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if opts.StreamingFunc != nil {
		for _, c := range r.chunks {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	text := r.text
	if text == "" {
		text = strings.Join(r.chunks, "")
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func engine(m llms.Model) *llm.ChatEngine {
	return llm.NewWithModel(m, llm.ChatConfig{
		Model:      "test",
		MaxRetries: 3,
		Timeout:    time.Second,
	}, nil)
}

func TestGenerateSendsSystemAndPrompt(t *testing.T) {
	m := &scriptedModel{results: []result{{text: "answer"}}}
	out, err := engine(m).Generate(context.Background(), "be terse", "question?")
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	require.Len(t, m.messages, 1)
	require.Len(t, m.messages[0], 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0][0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.messages[0][1].Role)
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	m := &scriptedModel{results: []result{
		{err: errors.New("API returned unexpected status code: 503")},
		{err: errors.New("429 Too Many Requests")},
		{text: "ok"},
	}}
	out, err := engine(m).Generate(context.Background(), "", "q")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, m.calls)
}

func TestGenerateStopsOnNonRetryable(t *testing.T) {
	m := &scriptedModel{results: []result{{err: errors.New("401 unauthorized: invalid api key")}}}
	_, err := engine(m).Generate(context.Background(), "", "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.Equal(t, 1, m.calls)

	var genErr *llm.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 1, genErr.Attempts)
}

func TestGenerateDoesNotRetryClientErrorsWithServerDigits(t *testing.T) {
	m := &scriptedModel{results: []result{{err: errors.New("API returned unexpected status code: 400: max_tokens: 5000 > 4096")}}}
	_, err := engine(m).Generate(context.Background(), "", "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.Equal(t, 1, m.calls)
}

func TestGenerateExhaustsRetryBudget(t *testing.T) {
	m := &scriptedModel{results: []result{{err: errors.New("connection refused")}}}
	_, err := engine(m).Generate(context.Background(), "", "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.Equal(t, 4, m.calls)
}

func TestGenerateAttemptTimeoutIsRetried(t *testing.T) {
	m := &scriptedModel{results: []result{{block: true}, {text: "late but fine"}}}
	e := llm.NewWithModel(m, llm.ChatConfig{MaxRetries: 1, Timeout: 20 * time.Millisecond}, nil)

	out, err := e.Generate(context.Background(), "", "q")
	require.NoError(t, err)
	assert.Equal(t, "late but fine", out)
	assert.Equal(t, 2, m.calls)
}

func TestGenerateParentCancelNotRetried(t *testing.T) {
	m := &scriptedModel{results: []result{{block: true}}}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := engine(m).Generate(ctx, "", "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, m.calls)
}

func TestStreamEmitsFragments(t *testing.T) {
	m := &scriptedModel{results: []result{{chunks: []string{"The ", "term ", "is one year."}}}}
	var got []string
	err := engine(m).Stream(context.Background(), "", "q", func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"The ", "term ", "is one year."}, got)
}

func TestStreamDoesNotRetryAfterFirstFragment(t *testing.T) {
	m := &scriptedModel{results: []result{
		{chunks: []string{"partial"}, err: errors.New("503 service unavailable")},
		{chunks: []string{"never"}},
	}}
	var got []string
	err := engine(m).Stream(context.Background(), "", "q", func(s string) error {
		got = append(got, s)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []string{"partial"}, got)
	assert.Equal(t, 1, m.calls)
}

func TestStreamConsumerErrorStopsGeneration(t *testing.T) {
	m := &scriptedModel{results: []result{{chunks: []string{"a", "b", "c"}}}}
	stop := errors.New("consumer gone")
	n := 0
	err := engine(m).Stream(context.Background(), "", "q", func(string) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{errors.New("500 Internal Server Error"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("400 bad request: malformed json"), false},
		{errors.New("403 forbidden"), false},
		{errors.New("429 too many requests"), true},
		{errors.New("API returned unexpected status code: 503: overloaded"), true},
		{errors.New("HTTP 502 bad gateway"), true},
		{errors.New("API returned unexpected status code: 400: max_tokens: 5000 > 4096"), false},
		{errors.New("API returned unexpected status code: 401: invalid x-api-key (request 5029ab)"), false},
		{errors.New("status code 400: prompt is too long, requested 15000 tokens"), false},
		{errors.New("status code: 400: rate limit field is invalid"), false},
		{fmt.Errorf("generate: %w", errors.New("status 500")), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, llm.IsRetryable(tt.err), "%v", tt.err)
	}
}

func TestBackoff(t *testing.T) {
	assert.Zero(t, llm.Backoff(2, 0))
	for attempt := 0; attempt < 3; attempt++ {
		d := llm.Backoff(attempt, time.Second)
		base := time.Second << uint(attempt)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/2+1)
	}
	assert.LessOrEqual(t, llm.Backoff(10, time.Second), 45*time.Second+1)
}
