// Package fallback runs capability-equivalent strategies in priority order
// until one succeeds.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Strategy is one way of turning In into Out.
type Strategy[In, Out any] interface {
	Name() string
	Attempt(ctx context.Context, in In) (Out, error)
}

type strategyFunc[In, Out any] struct {
	name string
	fn   func(context.Context, In) (Out, error)
}

func (s strategyFunc[In, Out]) Name() string { return s.name }

func (s strategyFunc[In, Out]) Attempt(ctx context.Context, in In) (Out, error) {
	return s.fn(ctx, in)
}

// StrategyFunc adapts a function into a named Strategy.
func StrategyFunc[In, Out any](name string, fn func(context.Context, In) (Out, error)) Strategy[In, Out] {
	return strategyFunc[In, Out]{name: name, fn: fn}
}

// ErrRejected marks an output that came back without error but failed the
// chain's success predicate.
var ErrRejected = errors.New("result rejected")

type Attempt struct {
	Strategy string
	Err      error
}

// ExhaustedError is returned when every strategy failed.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return "all strategies failed: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Result carries the output and the name of the strategy that produced it,
// along with any failures that preceded it.
type Result[Out any] struct {
	Value    Out
	Strategy string
	Failed   []Attempt
}

type Chain[In, Out any] struct {
	strategies []Strategy[In, Out]
	accept     func(Out) error
	log        *slog.Logger
}

type Option[In, Out any] func(*Chain[In, Out])

// WithPredicate sets the success predicate. A non-nil return rejects the
// output and moves on to the next strategy.
func WithPredicate[In, Out any](accept func(Out) error) Option[In, Out] {
	return func(c *Chain[In, Out]) { c.accept = accept }
}

func WithLogger[In, Out any](log *slog.Logger) Option[In, Out] {
	return func(c *Chain[In, Out]) {
		if log != nil {
			c.log = log
		}
	}
}

func New[In, Out any](strategies []Strategy[In, Out], opts ...Option[In, Out]) *Chain[In, Out] {
	c := &Chain[In, Out]{
		strategies: strategies,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run tries each strategy in order. Panics inside a strategy are recovered
// and treated as that strategy's failure. Cancellation of ctx stops the
// chain immediately.
func (c *Chain[In, Out]) Run(ctx context.Context, in In) (Result[Out], error) {
	var failed []Attempt
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return Result[Out]{Failed: failed}, err
		}
		out, err := c.attempt(ctx, s, in)
		if err == nil && c.accept != nil {
			if rerr := c.accept(out); rerr != nil {
				err = fmt.Errorf("%w: %w", ErrRejected, rerr)
			}
		}
		if err == nil {
			return Result[Out]{Value: out, Strategy: s.Name(), Failed: failed}, nil
		}
		c.log.Debug("strategy failed", "strategy", s.Name(), "error", err)
		failed = append(failed, Attempt{Strategy: s.Name(), Err: err})
	}
	return Result[Out]{Failed: failed}, &ExhaustedError{Attempts: failed}
}

func (c *Chain[In, Out]) attempt(ctx context.Context, s Strategy[In, Out], in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Attempt(ctx, in)
}
