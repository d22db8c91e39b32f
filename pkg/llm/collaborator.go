// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jllopis/ergon/pkg/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is a single model answer: text plus zero or more tool call requests.
type Result struct {
	Content   string
	ToolCalls []ToolCall
}

// Collaborator is the model-facing contract used by the retry loop and the
// sub-agent manager. It never fails: provider errors are folded into
// Result.Content as human-readable text.
type Collaborator interface {
	Generate(ctx context.Context, messages []Message, tools []Tool) Result
	Stream(ctx context.Context, messages []Message) <-chan string
}

// Factory creates a fresh Collaborator. Each sub-agent owns the instance
// returned by one call.
type Factory func() Collaborator

// ErrorPrefix starts every content string produced from a provider failure.
const ErrorPrefix = "Error generating response: "

// ProviderCollaborator adapts a Provider to the Collaborator contract.
type ProviderCollaborator struct {
	provider    Provider
	model       string
	temperature float64
	maxTokens   int
	retry       *resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	logger      *slog.Logger
	tracer      trace.Tracer
}

// CollaboratorOption configures a ProviderCollaborator.
type CollaboratorOption func(*ProviderCollaborator)

// WithModel sets the model name sent on every request.
func WithModel(model string) CollaboratorOption {
	return func(c *ProviderCollaborator) { c.model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) CollaboratorOption {
	return func(c *ProviderCollaborator) { c.temperature = t }
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) CollaboratorOption {
	return func(c *ProviderCollaborator) { c.maxTokens = n }
}

// WithRetry retries failed provider calls with exponential backoff.
func WithRetry(cfg resilience.RetryConfig) CollaboratorOption {
	return func(c *ProviderCollaborator) { c.retry = &cfg }
}

// WithCircuitBreaker short-circuits calls while the provider keeps failing.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) CollaboratorOption {
	return func(c *ProviderCollaborator) { c.breaker = cb }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CollaboratorOption {
	return func(c *ProviderCollaborator) { c.logger = logger }
}

// NewCollaborator wraps provider as a Collaborator.
func NewCollaborator(provider Provider, opts ...CollaboratorOption) *ProviderCollaborator {
	c := &ProviderCollaborator{
		provider: provider,
		logger:   slog.Default(),
		tracer:   otel.Tracer("ergon/llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate implements Collaborator.
func (c *ProviderCollaborator) Generate(ctx context.Context, messages []Message, tools []Tool) Result {
	ctx, span := c.tracer.Start(ctx, "Collaborator.Generate", trace.WithAttributes(
		attribute.String("gen_ai.request.model", c.model),
		attribute.Int("ergon.llm.messages", len(messages)),
		attribute.Int("ergon.llm.tools", len(tools)),
	))
	defer span.End()

	if c.provider == nil {
		return Result{Content: ErrorPrefix + "no provider configured"}
	}

	req := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	start := time.Now()
	resp, err := c.call(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.WarnContext(ctx, "llm.generate.error",
			slog.String("model", c.model),
			slog.String("error", err.Error()),
		)
		return Result{Content: ErrorPrefix + err.Error()}
	}
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
	)
	c.logger.DebugContext(ctx, "llm.generate.complete",
		slog.String("model", c.model),
		slog.Int("tool_calls", len(resp.ToolCalls)),
		slog.Duration("duration", time.Since(start)),
	)
	return Result{Content: resp.Content, ToolCalls: resp.ToolCalls}
}

func (c *ProviderCollaborator) call(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	once := func() (*ChatResponse, error) {
		if c.breaker == nil {
			return c.provider.Chat(ctx, req)
		}
		var resp *ChatResponse
		err := c.breaker.Call(ctx, func() error {
			var callErr error
			resp, callErr = c.provider.Chat(ctx, req)
			return callErr
		})
		return resp, err
	}
	if c.retry == nil {
		return once()
	}
	return resilience.DoWithResult(ctx, *c.retry, once)
}

// Stream implements Collaborator. Providers without streaming support
// deliver the complete answer as a single fragment. Failures are delivered
// as a final error fragment.
func (c *ProviderCollaborator) Stream(ctx context.Context, messages []Message) <-chan string {
	out := make(chan string, 16)

	sp, ok := c.provider.(StreamingProvider)
	if !ok {
		go func() {
			defer close(out)
			res := c.Generate(ctx, messages, nil)
			if res.Content != "" {
				send(ctx, out, res.Content)
			}
		}()
		return out
	}

	chunks, err := sp.ChatStream(ctx, ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		out <- ErrorPrefix + err.Error()
		close(out)
		return out
	}

	go func() {
		defer close(out)
		for chunk := range chunks {
			if chunk.Error != nil {
				send(ctx, out, ErrorPrefix+chunk.Error.Error())
				// Drain so the provider goroutine can exit.
				for range chunks {
				}
				return
			}
			if chunk.Content != "" && !send(ctx, out, chunk.Content) {
				for range chunks {
				}
				return
			}
		}
	}()
	return out
}

func send(ctx context.Context, out chan<- string, s string) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

// FuncCollaborator adapts a plain function to Collaborator.
type FuncCollaborator func(ctx context.Context, messages []Message, tools []Tool) Result

// Generate implements Collaborator.
func (f FuncCollaborator) Generate(ctx context.Context, messages []Message, tools []Tool) Result {
	return f(ctx, messages, tools)
}

// Stream implements Collaborator.
func (f FuncCollaborator) Stream(ctx context.Context, messages []Message) <-chan string {
	out := make(chan string, 1)
	if res := f(ctx, messages, nil); res.Content != "" {
		out <- res.Content
	}
	close(out)
	return out
}

// Collect concatenates every fragment of a stream.
func Collect(fragments <-chan string) string {
	var b strings.Builder
	for f := range fragments {
		b.WriteString(f)
	}
	return b.String()
}
