// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package execution runs shell commands and merges their stdout and stderr
// into one event sequence. Both streams are drained concurrently so a child
// that fills one pipe while the caller waits on the other cannot deadlock.
package execution

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// EventType tags a process event.
type EventType string

const (
	EventStdout EventType = "stdout"
	EventStderr EventType = "stderr"
	EventExit   EventType = "exit"
	EventError  EventType = "error"
)

// Event is one item of an Execute sequence. Line is set for output
// events, Code for exit, Message and Err for error.
type Event struct {
	Type    EventType
	Line    string
	Code    int
	Message string
	Err     error
}

// Terminal reports whether e closes the sequence.
func (e Event) Terminal() bool {
	return e.Type == EventExit || e.Type == EventError
}

// DefaultPollInterval is how long the consumer waits on the shared queue
// before checking reader completion again.
const DefaultPollInterval = 100 * time.Millisecond

const queueSize = 64

// Executor launches commands and streams their events.
type Executor struct {
	launcher Launcher
	policy   atomic.Pointer[Policy]
	poll     time.Duration
	timeout  time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithLauncher sets the launcher.
func WithLauncher(l Launcher) Option {
	return func(e *Executor) {
		if l != nil {
			e.launcher = l
		}
	}
}

// WithPolicy sets the deny-list policy.
func WithPolicy(p *Policy) Option {
	return func(e *Executor) { e.policy.Store(p) }
}

// WithTimeout bounds every command. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.timeout = d
		}
	}
}

// WithPollInterval sets the queue poll timeout.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.poll = d
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor returns an executor using the platform shell and the
// default deny-list.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		launcher: ShellLauncher{},
		poll:     DefaultPollInterval,
		logger:   slog.Default(),
		tracer:   otel.Tracer("ergon/execution"),
	}
	e.policy.Store(NewPolicy())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetPolicy replaces the deny-list policy for subsequent commands.
func (e *Executor) SetPolicy(p *Policy) {
	e.policy.Store(p)
}

// Execute runs command and returns its events. The channel yields output
// lines as they arrive, then exactly one exit or error event, then closes.
// Callers must drain the channel or cancel ctx. With the shell launcher,
// background children that keep the output open do not hold the exit
// event past ShellLauncher.WaitDelay.
func (e *Executor) Execute(ctx context.Context, command string) <-chan Event {
	out := make(chan Event, 1)
	go e.run(ctx, command, out)
	return out
}

func (e *Executor) run(ctx context.Context, command string, out chan<- Event) {
	defer close(out)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	ctx, span := e.tracer.Start(ctx, "Executor.Execute", trace.WithAttributes(telemetry.CommandAttributes(command)...))
	defer span.End()

	finish := func(ev Event) {
		outcome := string(ev.Type)
		if ev.Type == EventError {
			span.SetStatus(codes.Error, ev.Message)
			if errors.HasCode(ev.Err, errors.CodeCommandBlocked) {
				outcome = "blocked"
			}
			e.metrics.RecordError(ctx, ev.Err, "execution")
		} else {
			span.SetAttributes(attribute.Int(telemetry.AttrCommandExit, ev.Code))
		}
		e.metrics.RecordCommand(ctx, outcome)
		e.logger.Debug("execution.finish",
			slog.String("command", telemetry.Truncate(command, 256)),
			slog.String("outcome", outcome),
			slog.Int("code", ev.Code),
		)
		e.deliverTerminal(ctx, out, ev)
	}

	if rule, blocked := e.policy.Load().Check(command); blocked {
		err := errors.New(errors.CodeCommandBlocked, "command blocked by security policy", nil).
			WithContext("rule", rule)
		finish(Event{Type: EventError, Message: "command blocked: matched " + rule, Err: err})
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	proc, err := e.launcher.Launch(runCtx, command)
	if err != nil {
		ee := errors.New(errors.CodeProcessSpawn, "failed to start process", err)
		finish(Event{Type: EventError, Message: "execution error: " + err.Error(), Err: ee})
		return
	}

	queue := make(chan Event, queueSize)
	g, gctx := errgroup.WithContext(runCtx)
	read := func(r io.Reader, typ EventType) func() error {
		return func() error {
			err := readLines(gctx, r, typ, queue)
			if err != nil {
				proc.Abort()
			}
			return err
		}
	}
	g.Go(read(proc.Stdout(), EventStdout))
	g.Go(read(proc.Stderr(), EventStderr))

	readersDone := make(chan error, 1)
	go func() { readersDone <- g.Wait() }()

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	var (
		lines   int
		done    bool
		readErr error
	)
	for !done || len(queue) > 0 {
		select {
		case ev := <-queue:
			select {
			case out <- ev:
				lines++
			case <-ctx.Done():
			}
		case err := <-readersDone:
			done, readErr = true, err
			readersDone = nil
		case <-ticker.C:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			proc.Abort()
			if readersDone != nil {
				<-readersDone
			}
			_, _ = proc.Wait()
			ee := errors.New(errors.CodeContextLost, "execution cancelled", ctx.Err())
			finish(Event{Type: EventError, Message: "execution cancelled: " + ctx.Err().Error(), Err: ee})
			return
		}
	}
	span.SetAttributes(attribute.Int(telemetry.AttrCommandLines, lines))

	if readErr != nil {
		_, _ = proc.Wait()
		ee := errors.New(errors.CodeInternal, "failed reading process output", readErr)
		finish(Event{Type: EventError, Message: "execution error: " + readErr.Error(), Err: ee})
		return
	}

	code, err := proc.Wait()
	if err != nil {
		ee := errors.New(errors.CodeInternal, "failed waiting for process", err)
		finish(Event{Type: EventError, Message: "execution error: " + err.Error(), Err: ee})
		return
	}
	finish(Event{Type: EventExit, Code: code, Message: fmt.Sprintf("process exited with code %d", code)})
}

// deliverTerminal sends the closing event. Once ctx is done the consumer
// may be gone, so delivery is bounded by the poll interval.
func (e *Executor) deliverTerminal(ctx context.Context, out chan<- Event, ev Event) {
	if ctx.Err() == nil {
		select {
		case out <- ev:
			return
		case <-ctx.Done():
		}
	}
	timer := time.NewTimer(e.poll)
	defer timer.Stop()
	select {
	case out <- ev:
	case <-timer.C:
	}
}

// readLines pushes each line of r onto queue without its trailing newline.
func readLines(ctx context.Context, r io.Reader, typ EventType, queue chan<- Event) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			select {
			case queue <- Event{Type: typ, Line: strings.ToValidUTF8(line, "�")}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
