// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package remediation runs a shell command and, when it fails, asks the
// model collaborator what to do next: retry with a new command, or stop.
package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jllopis/ergon/pkg/core"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/execution"
	"github.com/jllopis/ergon/pkg/llm"
	"github.com/jllopis/ergon/pkg/resilience"
	"github.com/jllopis/ergon/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxRetries bounds failed attempts per Run.
const DefaultMaxRetries = 3

// Runner executes one command to completion.
type Runner interface {
	Run(ctx context.Context, command string) execution.Result
}

// Outcome is the result of a Run.
type Outcome struct {
	Success bool
	// Output is the accumulated stdout and stderr of the final attempt.
	Output    string
	LastError string
	Attempts  int
	// Command is the last command that was run.
	Command  string
	Decision *Decision
}

// Render formats the outcome for a model.
func (o Outcome) Render() string {
	if o.Success {
		return fmt.Sprintf("Success (attempts: %d): %s", o.Attempts, o.Output)
	}
	return fmt.Sprintf("FAILED after %d attempts. Final error: %s", o.Attempts, o.LastError)
}

// Loop is the self-correcting retry loop. A Loop holds no per-run state;
// every Run starts from attempt zero.
type Loop struct {
	runner       Runner
	collaborator llm.Collaborator
	maxRetries   int
	backoff      *resilience.RetryConfig
	emitter      core.EventEmitter
	metrics      *telemetry.Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxRetries sets how many failed attempts end the loop.
func WithMaxRetries(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// WithBackoff waits between attempts using rc's backoff schedule.
func WithBackoff(rc resilience.RetryConfig) Option {
	return func(l *Loop) { l.backoff = &rc }
}

// WithEmitter sets the event emitter.
func WithEmitter(e core.EventEmitter) Option {
	return func(l *Loop) {
		if e != nil {
			l.emitter = e
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop returns a loop running commands with runner and consulting c
// after each failure.
func NewLoop(runner Runner, c llm.Collaborator, opts ...Option) *Loop {
	l := &Loop{
		runner:       runner,
		collaborator: c,
		maxRetries:   DefaultMaxRetries,
		emitter:      core.NoopEventEmitter{},
		logger:       slog.Default(),
		tracer:       otel.Tracer("ergon/remediation"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxRetries returns the configured attempt bound.
func (l *Loop) MaxRetries() int {
	return l.maxRetries
}

// Run executes command until it succeeds, the model stops the loop, or
// the attempt bound is reached. A model decision to stop (give_up or
// fix_code) yields an unsuccessful Outcome with a nil error. Reaching the
// bound returns RETRY_EXHAUSTED and an undecipherable model answer
// returns REMEDIATION_UNPARSEABLE; both come with the Outcome so far.
func (l *Loop) Run(ctx context.Context, command, extraContext string) (Outcome, error) {
	ctx, span := l.tracer.Start(ctx, "Loop.Run", trace.WithAttributes(
		append(telemetry.CommandAttributes(command), attribute.Int(telemetry.AttrMaxAttempts, l.maxRetries))...,
	))
	defer span.End()

	out, err := l.run(ctx, command, extraContext)
	span.SetAttributes(
		attribute.Int(telemetry.AttrAttempt, out.Attempts),
		attribute.Bool(telemetry.AttrCapabilityOK, out.Success),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.metrics.RecordError(ctx, err, "remediation")
	}
	return out, err
}

func (l *Loop) run(ctx context.Context, command, extraContext string) (Outcome, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{Command: command, Attempts: attempt}, errors.New(errors.CodeContextLost, "retry loop cancelled", err)
		}

		res := l.runner.Run(ctx, command)
		text := res.Combined
		if res.Err != nil {
			text = joinNonEmpty(text, res.Message)
		}
		if res.Success() {
			l.attemptDone(ctx, command, attempt+1, "success")
			return Outcome{Success: true, Output: text, Attempts: attempt + 1, Command: command}, nil
		}

		attempt++
		l.attemptDone(ctx, command, attempt, "failure")
		out := Outcome{LastError: text, Output: text, Attempts: attempt, Command: command}
		if attempt >= l.maxRetries {
			return out, errors.New(errors.CodeRetryExhausted,
				fmt.Sprintf("command failed after %d attempts", attempt), nil).
				WithContext("command", command).
				WithContext("last_error", telemetry.Truncate(text, 1024))
		}

		d, err := l.decide(ctx, command, text, extraContext)
		if err != nil {
			l.metrics.RecordRemediation(ctx, "unparseable")
			return out, err
		}
		out.Decision = &d
		l.metrics.RecordRemediation(ctx, string(d.Action))
		l.logger.Info("remediation.decision",
			slog.Int("attempt", attempt),
			slog.String("action", string(d.Action)),
			slog.String("reason", d.Reason),
			slog.String("new_command", telemetry.Truncate(d.NewCommand, 256)),
		)
		if d.Action != ActionRetry {
			// fix_code is accepted but applies no edit, so it ends the loop like give_up.
			return out, nil
		}
		command = d.NewCommand

		if l.backoff != nil {
			if err := resilience.Sleep(ctx, l.backoff.Backoff(attempt)); err != nil {
				return out, errors.New(errors.CodeContextLost, "retry loop cancelled", err)
			}
		}
	}
}

func (l *Loop) decide(ctx context.Context, command, errText, extraContext string) (Decision, error) {
	res := l.collaborator.Generate(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: Prompt(command, errText, extraContext)},
	}, nil)
	return ParseDecision(res.Content)
}

func (l *Loop) attemptDone(ctx context.Context, command string, attempt int, result string) {
	l.logger.Info("remediation.attempt",
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", l.maxRetries),
		slog.String("command", telemetry.Truncate(command, 256)),
		slog.String("result", result),
	)
	l.emitter.Emit(ctx, core.NewEvent(ctx, core.EventRemediationAttempt, command, map[string]any{
		"attempt": attempt,
		"result":  result,
		"at":      time.Now().UTC(),
	}))
}

// Prompt builds the remediation request sent to the model.
func Prompt(command, errText, extraContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The terminal command '%s' failed with the following error:\n---\n%s\n---\n", command, errText)
	fmt.Fprintf(&b, "Additional context: %s\n\n", extraContext)
	b.WriteString("Analyze the error and choose an action:\n")
	b.WriteString("1. 'retry' with a new command\n")
	b.WriteString("2. 'fix_code' if a file must be edited first\n")
	b.WriteString("3. 'give_up' if the error is fatal\n\n")
	b.WriteString(`Answer in JSON: {"action": "...", "reason": "...", "new_command": "..."}`)
	return b.String()
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + b
}
