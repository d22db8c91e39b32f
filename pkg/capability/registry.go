// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/ergon/pkg/audit"
	"github.com/jllopis/ergon/pkg/core"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/llm"
	"github.com/jllopis/ergon/pkg/resilience"
	"github.com/jllopis/ergon/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Registry is a concurrency-safe store of capabilities. Names are unique;
// registering an existing name replaces the previous entry.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]Capability
	order []string

	loader          Loader
	dynamicDir      string
	dispatchTimeout time.Duration
	audit           audit.Store
	emitter         core.EventEmitter
	metrics         *telemetry.Metrics
	logger          *slog.Logger
	tracer          trace.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoader sets the loader used by SynthesizeCapability.
func WithLoader(l Loader) Option {
	return func(r *Registry) { r.loader = l }
}

// WithDynamicDir sets where synthesized source files are written.
func WithDynamicDir(dir string) Option {
	return func(r *Registry) { r.dynamicDir = dir }
}

// WithDispatchTimeout bounds every dispatch. Zero disables the bound.
func WithDispatchTimeout(d time.Duration) Option {
	return func(r *Registry) { r.dispatchTimeout = d }
}

// WithAuditStore records registrations and replacements in store.
func WithAuditStore(store audit.Store) Option {
	return func(r *Registry) { r.audit = store }
}

// WithEmitter sets the event emitter.
func WithEmitter(e core.EventEmitter) Option {
	return func(r *Registry) {
		if e != nil {
			r.emitter = e
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		caps:       make(map[string]Capability),
		dynamicDir: DefaultDynamicDir,
		emitter:    core.NoopEventEmitter{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("ergon/capability"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts or replaces a host capability.
func (r *Registry) Register(name, description string, schema Schema, handler Handler) error {
	return r.RegisterCapability(context.Background(), Capability{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Handler:     handler,
		Source:      SourceHost,
	})
}

// RegisterCapability inserts or replaces c. The entry is visible to
// Dispatch and ListForModel as soon as this returns.
func (r *Registry) RegisterCapability(ctx context.Context, c Capability) error {
	if c.Name == "" {
		return errors.New(errors.CodeInvalidInput, "capability name is required", nil)
	}
	if c.Handler == nil {
		return errors.New(errors.CodeInvalidInput, "capability handler is required", nil).
			WithContext("capability", c.Name)
	}
	if c.Parameters == nil {
		c.Parameters = Schema{}
	}
	if c.Source == "" {
		c.Source = SourceHost
	}

	r.mu.Lock()
	prev, replaced := r.caps[c.Name]
	if !replaced {
		r.order = append(r.order, c.Name)
	}
	r.caps[c.Name] = c
	r.mu.Unlock()

	r.logger.Info("capability.registered",
		slog.String("name", c.Name),
		slog.String("source", c.Source),
		slog.Bool("replaced", replaced),
	)
	action, detail := audit.ActionRegistered, ""
	if replaced {
		action, detail = audit.ActionReplaced, "previous source "+prev.Source
	}
	r.record(ctx, action, c.Name, c.Source, detail)
	r.emit(ctx, core.NewEvent(ctx, core.EventCapabilityRegistered, c.Name, map[string]any{
		"source":   c.Source,
		"replaced": replaced,
	}))
	return nil
}

// Unregister removes name. It reports whether the capability existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	c, ok := r.caps[name]
	if ok {
		delete(r.caps, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if ok {
		r.logger.Info("capability.unregistered", slog.String("name", name))
		ctx := context.Background()
		r.record(ctx, audit.ActionUnregistered, name, c.Source, "")
		r.emit(ctx, core.NewEvent(ctx, core.EventCapabilityRemoved, name, map[string]any{
			"source": c.Source,
		}))
	}
	return ok
}

// AddEmitter subscribes e to registry events in addition to the emitter
// given at construction.
func (r *Registry) AddEmitter(e core.EventEmitter) {
	if e == nil {
		return
	}
	r.mu.Lock()
	r.emitter = core.MultiEmitter{r.emitter, e}
	r.mu.Unlock()
}

func (r *Registry) emit(ctx context.Context, event core.Event) {
	r.mu.RLock()
	e := r.emitter
	r.mu.RUnlock()
	e.Emit(ctx, event)
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names returns capability names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// All returns a snapshot of every capability in registration order.
func (r *Registry) All() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.caps[name])
	}
	return out
}

// Dispatch invokes the handler registered under name with args and returns
// its result. Handler errors are returned as-is.
func (r *Registry) Dispatch(ctx context.Context, name string, args Args) (any, error) {
	c, ok := r.Get(name)
	if !ok {
		err := errors.New(errors.CodeUnknownCapability, "unknown capability: "+name, nil).
			WithContext("capability", name)
		r.metrics.RecordError(ctx, err, "capability")
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "Registry.Dispatch", trace.WithAttributes(
		attribute.String(telemetry.AttrCapabilityName, c.Name),
		attribute.String(telemetry.AttrCapabilitySource, c.Source),
	))
	defer span.End()

	start := time.Now()
	// A handler that ignores its context is abandoned at the deadline.
	result, err := resilience.WithTimeout(ctx, r.dispatchTimeout, func(ctx context.Context) (any, error) {
		return c.Handler(ctx, args)
	})
	durationMs := float64(time.Since(start).Microseconds()) / 1000

	span.SetAttributes(telemetry.CapabilityAttributes(c.Name, c.Source, err == nil, durationMs)...)
	r.metrics.RecordDispatch(ctx, c.Name, err == nil, durationMs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordError(ctx, err, "capability")
		r.logger.Debug("capability.dispatch.error",
			slog.String("name", c.Name),
			slog.String("error", err.Error()),
		)
	}
	return result, err
}

// ListForModel returns one declaration per capability in registration order.
func (r *Registry) ListForModel() []Declaration {
	caps := r.All()
	out := make([]Declaration, 0, len(caps))
	for _, c := range caps {
		out = append(out, c.Declaration())
	}
	return out
}

// Tools renders ListForModel as provider tool declarations.
func (r *Registry) Tools() []llm.Tool {
	decls := r.ListForModel()
	out := make([]llm.Tool, 0, len(decls))
	for _, d := range decls {
		out = append(out, llm.ToolDeclaration(d.Name, d.Description, d.Parameters))
	}
	return out
}

func (r *Registry) record(ctx context.Context, action audit.Action, name, source, detail string) {
	if r.audit == nil {
		return
	}
	runID, _ := core.RunID(ctx)
	if err := r.audit.Record(ctx, audit.Event{
		Action:     action,
		Capability: name,
		Source:     source,
		RunID:      runID,
		Detail:     detail,
	}); err != nil {
		r.logger.Warn("capability.audit.error",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}
