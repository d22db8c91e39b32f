// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package providers builds the configured model provider and the
// collaborator factory handed to the runtime and to sub-agents.
package providers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/llm"
	"github.com/jllopis/ergon/pkg/resilience"
	"github.com/jllopis/ergon/pkg/telemetry"
	"github.com/jllopis/ergon/providers/anthropic"
	"github.com/jllopis/ergon/providers/gemini"
	"github.com/jllopis/ergon/providers/openai"
)

// Names of the supported providers.
const (
	Ollama    = "ollama"
	OpenAI    = "openai"
	Gemini    = "gemini"
	Anthropic = "anthropic"
	Mock      = "mock"
)

// New creates the provider named by cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (llm.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case Ollama, "":
		return llm.NewOllama(cfg.BaseURL), nil
	case OpenAI:
		return openai.New(
			openai.WithModel(cfg.Model),
			openai.WithAPIKey(cfg.APIKey),
			openai.WithBaseURL(cfg.BaseURL),
		), nil
	case Gemini:
		return gemini.New(ctx,
			gemini.WithModel(cfg.Model),
			gemini.WithAPIKey(cfg.APIKey),
			gemini.WithBaseURL(cfg.BaseURL),
		)
	case Anthropic:
		return anthropic.New(
			anthropic.WithModel(cfg.Model),
			anthropic.WithAPIKey(cfg.APIKey),
			anthropic.WithBaseURL(cfg.BaseURL),
			anthropic.WithMaxTokens(int64(cfg.MaxTokens)),
		), nil
	case Mock:
		return &llm.MockProvider{ChatFunc: echo}, nil
	default:
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown llm provider %q", cfg.Provider)
	}
}

// Option configures NewFactory.
type Option func(*factoryOptions)

type factoryOptions struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// WithLogger sets the logger used by every collaborator.
func WithLogger(logger *slog.Logger) Option {
	return func(o *factoryOptions) { o.logger = logger }
}

// WithMetrics reports circuit breaker transitions.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *factoryOptions) { o.metrics = m }
}

// NewFactory creates the provider once and returns a factory producing a
// fresh collaborator per call. Collaborators share the provider and its
// circuit breaker.
func NewFactory(ctx context.Context, cfg config.LLMConfig, opts ...Option) (llm.Factory, error) {
	o := factoryOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	provider, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	collabOpts := []llm.CollaboratorOption{
		llm.WithModel(cfg.Model),
		llm.WithTemperature(cfg.Temperature),
		llm.WithMaxTokens(cfg.MaxTokens),
		llm.WithLogger(o.logger),
	}
	if cfg.Retries > 1 {
		collabOpts = append(collabOpts, llm.WithRetry(resilience.DefaultRetryConfig().WithMaxAttempts(cfg.Retries)))
	}
	if cfg.BreakerThreshold > 0 {
		name := "llm." + strings.ToLower(cfg.Provider)
		breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: cfg.BreakerThreshold,
			OnStateChange: func(name string, from, to resilience.CircuitBreakerState) {
				o.logger.Warn("llm.breaker.transition",
					slog.String("breaker", name),
					slog.String("from", string(from)),
					slog.String("to", string(to)),
				)
				o.metrics.RecordBreakerState(context.Background(), name, breakerLevel(to))
			},
		})
		collabOpts = append(collabOpts, llm.WithCircuitBreaker(breaker))
	}

	return func() llm.Collaborator {
		return llm.NewCollaborator(provider, collabOpts...)
	}, nil
}

func breakerLevel(s resilience.CircuitBreakerState) int64 {
	switch s {
	case resilience.StateOpen:
		return 2
	case resilience.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// echo answers with the last user message, for offline runs.
func echo(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return &llm.ChatResponse{Content: req.Messages[i].Content}, nil
		}
	}
	return &llm.ChatResponse{}, nil
}
