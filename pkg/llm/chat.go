package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

var errEmptyResponse = errors.New("empty response from model")

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	// Timeout bounds a single attempt, not the whole call.
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	// RateLimit is the sustained number of calls per second; zero disables it.
	RateLimit float64
}

// ChatEngine sends prompts to a chat model with per-attempt timeouts,
// bounded retries and client-side rate limiting.
type ChatEngine struct {
	config  ChatConfig
	llm     llms.Model
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewWithConfig creates a new ChatEngine for the configured provider.
func NewWithConfig(config ChatConfig, log *slog.Logger) (*ChatEngine, error) {
	config = withDefaults(config)
	model, err := newModel(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return NewWithModel(model, config, log), nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(model llms.Model, config ChatConfig, log *slog.Logger) *ChatEngine {
	config = withDefaults(config)
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return &ChatEngine{
		config:  config,
		llm:     model,
		limiter: limiter,
		log:     log.With("component", "llm", "provider", config.Provider, "model", config.Model),
	}
}

func withDefaults(config ChatConfig) ChatConfig {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		switch config.Provider {
		case ProviderOpenAI:
			config.Model = "gpt-4o-mini"
		case ProviderAnthropic:
			config.Model = "claude-3-5-haiku-latest"
		default:
			config.Model = "mistral"
		}
	}
	if config.Provider == ProviderOllama && config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return config
}

func newModel(config ChatConfig) (llms.Model, error) {
	switch config.Provider {
	case ProviderOllama:
		return ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, openai.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		return openai.New(opts...)
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(config.Model)}
		if config.APIKey != "" {
			opts = append(opts, anthropic.WithToken(config.APIKey))
		}
		if config.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(config.BaseURL))
		}
		return anthropic.New(opts...)
	}
	return nil, fmt.Errorf("unknown provider %q", config.Provider)
}

func (ce *ChatEngine) messages(system, prompt string) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, 2)
	if system != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	return append(content, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
}

func (ce *ChatEngine) callOptions(extra ...llms.CallOption) []llms.CallOption {
	opts := []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
	return append(opts, extra...)
}

// Generate returns the full completion for the prompt.
func (ce *ChatEngine) Generate(ctx context.Context, system, prompt string) (string, error) {
	var text string
	err := ce.withRetry(ctx, "generate", func(ctx context.Context) (bool, error) {
		resp, err := ce.llm.GenerateContent(ctx, ce.messages(system, prompt), ce.callOptions()...)
		if err != nil {
			return true, err
		}
		if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
			return false, errEmptyResponse
		}
		text = resp.Choices[0].Content
		return false, nil
	})
	return text, err
}

// Stream forwards fragments to emit as the model produces them. Once a
// fragment has been emitted the call is no longer retried, so consumers
// never see duplicated text.
func (ce *ChatEngine) Stream(ctx context.Context, system, prompt string, emit func(string) error) error {
	emitted := false
	var emitErr error
	return ce.withRetry(ctx, "stream", func(ctx context.Context) (bool, error) {
		resp, err := ce.llm.GenerateContent(ctx, ce.messages(system, prompt), ce.callOptions(
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				emitted = true
				if err := emit(string(chunk)); err != nil {
					emitErr = err
					return err
				}
				return nil
			}),
		)...)
		if emitErr != nil {
			return false, emitErr
		}
		if err != nil {
			return !emitted, err
		}
		// Some providers ignore the streaming callback; emit the whole
		// completion as one fragment.
		if !emitted && resp != nil && len(resp.Choices) > 0 && resp.Choices[0] != nil && resp.Choices[0].Content != "" {
			emitted = true
			return false, emit(resp.Choices[0].Content)
		}
		if !emitted {
			return false, errEmptyResponse
		}
		return false, nil
	})
}

// withRetry runs call until it succeeds, reports that the error may not be
// retried, or the retry budget is spent.
func (ce *ChatEngine) withRetry(ctx context.Context, op string, call func(context.Context) (bool, error)) error {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= ce.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := Backoff(attempt-1, ce.config.RetryBaseDelay)
			ce.log.Warn("retrying model call", "op", op, "attempt", attempt+1, "delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return &GenerationError{Attempts: attempts, Err: err}
			}
		}
		if err := ce.limiter.Wait(ctx); err != nil {
			return &GenerationError{Attempts: attempts, Err: err}
		}

		attempts++
		actx, cancel := context.WithTimeout(ctx, ce.config.Timeout)
		mayRetry, err := call(actx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &GenerationError{Attempts: attempts, Err: ctx.Err()}
		}
		lastErr = err
		if !mayRetry || !IsRetryable(err) {
			break
		}
	}
	ce.log.Error("model call failed", "op", op, "attempts", attempts, "error", lastErr)
	return &GenerationError{Attempts: attempts, Err: lastErr}
}
