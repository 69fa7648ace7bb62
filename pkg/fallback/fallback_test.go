package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainFirstSuccessWins(t *testing.T) {
	var calls []string
	mk := func(name string, out string, err error) Strategy[string, string] {
		return StrategyFunc(name, func(_ context.Context, in string) (string, error) {
			calls = append(calls, name)
			return out, err
		})
	}

	chain := New([]Strategy[string, string]{
		mk("a", "", errors.New("boom")),
		mk("b", "ok", nil),
		mk("c", "never", nil),
	})

	res, err := chain.Run(context.Background(), "in")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, "b", res.Strategy)
	assert.Equal(t, []string{"a", "b"}, calls)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "a", res.Failed[0].Strategy)
}

func TestChainPredicateRejects(t *testing.T) {
	chain := New(
		[]Strategy[int, string]{
			StrategyFunc("empty", func(context.Context, int) (string, error) { return "", nil }),
			StrategyFunc("full", func(context.Context, int) (string, error) { return "text", nil }),
		},
		WithPredicate[int, string](func(s string) error {
			if s == "" {
				return errors.New("empty output")
			}
			return nil
		}),
	)

	res, err := chain.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "full", res.Strategy)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, ErrRejected)
}

func TestChainExhausted(t *testing.T) {
	errA := errors.New("a failed")
	chain := New([]Strategy[int, int]{
		StrategyFunc("a", func(context.Context, int) (int, error) { return 0, errA }),
		StrategyFunc("b", func(context.Context, int) (int, error) { panic("kaboom") }),
	})

	_, err := chain.Run(context.Background(), 0)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.ErrorIs(t, err, errA)
	assert.Contains(t, err.Error(), "panic: kaboom")
}

func TestChainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	chain := New([]Strategy[int, int]{
		StrategyFunc("a", func(context.Context, int) (int, error) { called = true; return 1, nil }),
	})

	_, err := chain.Run(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
