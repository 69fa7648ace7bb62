package rag

import (
	"context"
	"fmt"

	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/internal/types"
)

// StreamEvent is one item of a streamed answer. Fragments arrive first; the
// last event has Done set and carries the citations, or Err when the
// answer broke off after fragments were already sent.
type StreamEvent struct {
	Fragment  string            `json:"fragment,omitempty"`
	Citations []models.Citation `json:"citations,omitempty"`
	Fallback  bool              `json:"fallback,omitempty"`
	Done      bool              `json:"done,omitempty"`
	Err       error             `json:"-"`
}

// AskStream retrieves synchronously, so validation and retrieval errors
// are returned directly, then streams the answer on the returned channel.
// The channel is closed when the answer ends. Cancelling ctx stops the
// producer and releases the model call; consumers that stop reading must
// cancel ctx.
func (e *Engine) AskStream(ctx context.Context, question string, docIDs []string, k int) (<-chan StreamEvent, error) {
	hits, err := e.Retrieve(ctx, question, docIDs, k)
	if err != nil {
		return nil, err
	}

	if len(hits) == 0 {
		e.log.Info("no relevant passages")
		out := make(chan StreamEvent, 2)
		out <- StreamEvent{Fragment: NoAnswer}
		out <- StreamEvent{Done: true, Citations: []models.Citation{}}
		close(out)
		return out, nil
	}

	out := make(chan StreamEvent, e.config.StreamBuffer)
	send := func(ctx context.Context, ev StreamEvent) error {
		select {
		case out <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	citations := e.citations(hits)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer cancel()

		emitted := false
		emit := func(fragment string) error {
			if fragment == "" {
				return nil
			}
			if err := send(ctx, StreamEvent{Fragment: fragment}); err != nil {
				return err
			}
			emitted = true
			return nil
		}

		err := e.stream(ctx, question, hits, emit)
		switch {
		case err == nil:
			_ = send(ctx, StreamEvent{Done: true, Citations: citations})
		case ctx.Err() != nil:
			e.log.Info("stream cancelled", "emitted", emitted)
		case emitted:
			e.log.Warn("stream broke off", "error", err)
			_ = send(ctx, StreamEvent{Done: true, Citations: citations, Err: err})
		default:
			e.log.Warn("generation failed, answering extractively", "error", err)
			if send(ctx, StreamEvent{Fragment: e.extractive(hits)}) == nil {
				_ = send(ctx, StreamEvent{Done: true, Citations: citations, Fallback: true})
			}
		}
	}()
	return out, nil
}

func (e *Engine) stream(ctx context.Context, question string, hits []models.ScoredChunk, emit func(string) error) error {
	sg, ok := e.gen.(types.StreamGenerator)
	if !ok {
		text, err := e.generate(ctx, question, hits)
		if err != nil {
			return err
		}
		return emit(text)
	}
	emitted := false
	err := sg.Stream(ctx, systemPrompt, Prompt(question, hits), func(fragment string) error {
		if fragment != "" {
			emitted = true
		}
		return emit(fragment)
	})
	if err == nil && !emitted {
		return fmt.Errorf("%w: empty answer", models.ErrGeneration)
	}
	return err
}
