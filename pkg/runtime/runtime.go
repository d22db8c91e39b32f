// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime assembles the registry, the command executor, the retry
// loop, and the sub-agent manager from configuration, and owns their
// lifecycle.
package runtime

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jllopis/ergon/pkg/agents"
	"github.com/jllopis/ergon/pkg/audit"
	"github.com/jllopis/ergon/pkg/builtin"
	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/core"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/execution"
	"github.com/jllopis/ergon/pkg/llm"
	"github.com/jllopis/ergon/pkg/mcp"
	"github.com/jllopis/ergon/pkg/remediation"
	"github.com/jllopis/ergon/pkg/resilience"
	"github.com/jllopis/ergon/pkg/skills"
	"github.com/jllopis/ergon/pkg/synth"
	"github.com/jllopis/ergon/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Version is reported to telemetry and MCP peers.
const Version = "0.1.0"

// Option configures a Runtime.
type Option func(*Runtime)

// WithFactory sets the collaborator factory. Without it the runtime cannot
// remediate failures or spawn agents.
func WithFactory(f llm.Factory) Option {
	return func(r *Runtime) { r.factory = f }
}

// WithLauncher replaces the shell launcher.
func WithLauncher(l execution.Launcher) Option {
	return func(r *Runtime) { r.launcher = l }
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEmitter receives every lifecycle event alongside the debug log.
func WithEmitter(e core.EventEmitter) Option {
	return func(r *Runtime) { r.extraEmitter = e }
}

// WithAuditStore replaces the store chosen from configuration.
func WithAuditStore(store audit.Store) Option {
	return func(r *Runtime) { r.audit = store }
}

// WithMetrics shares a metrics sink with components built outside the
// runtime, such as the collaborator factory.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithSweepInterval overrides how often idle agents are collected.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Runtime) { r.sweepInterval = d }
}

// Runtime is a fully wired Ergon instance.
type Runtime struct {
	cfg          config.Config
	logger       *slog.Logger
	factory      llm.Factory
	launcher     execution.Launcher
	extraEmitter core.EventEmitter
	emitter      core.EventEmitter
	tracer       trace.Tracer

	metrics  *telemetry.Metrics
	shutdown telemetry.ShutdownFunc
	audit    audit.Store
	loader   *synth.YaegiLoader
	registry *capability.Registry
	executor *execution.Executor
	loop     *remediation.Loop
	agents   *agents.Manager
	skills   []skills.Skill

	mu            sync.Mutex
	started       bool
	watcher       *synth.Watcher
	sweepInterval time.Duration
	sweepCancel   context.CancelFunc
	sweepDone     chan struct{}
	remotes       []*mcp.Client
	mcpServer     *mcp.Server
}

// New builds a runtime from cfg. Synthesized capabilities already on disk
// and installed skills are registered before New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "runtime config is required", nil)
	}
	r := &Runtime{
		cfg:    *cfg,
		tracer: otel.Tracer("ergon/runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = telemetry.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	}
	if r.launcher == nil {
		r.launcher = execution.ShellLauncher{Shell: cfg.Execution.Shell, Dir: cfg.Execution.WorkingDir}
	}
	r.emitter = core.MultiEmitter{core.LogEmitter{Logger: r.logger}, r.extraEmitter}

	if err := r.initTelemetry(); err != nil {
		return nil, err
	}
	if err := r.initAudit(); err != nil {
		r.closeQuietly()
		return nil, err
	}

	r.loader = synth.NewYaegiLoader()
	r.registry = capability.NewRegistry(
		capability.WithLoader(r.loader),
		capability.WithDynamicDir(cfg.Capabilities.DynamicDir),
		capability.WithDispatchTimeout(cfg.Capabilities.DispatchTimeout),
		capability.WithAuditStore(r.audit),
		capability.WithEmitter(r.emitter),
		capability.WithMetrics(r.metrics),
		capability.WithLogger(r.logger),
	)

	r.executor = execution.NewExecutor(
		execution.WithLauncher(r.launcher),
		execution.WithPolicy(execution.NewPolicy(cfg.Execution.Deny...)),
		execution.WithPollInterval(cfg.Execution.PollInterval),
		execution.WithTimeout(cfg.Execution.Timeout),
		execution.WithMetrics(r.metrics),
		execution.WithLogger(r.logger),
	)

	deps := builtin.Deps{Terminal: r.executor, CodeTimeout: cfg.Capabilities.CodeTimeout}
	if r.factory != nil {
		r.loop = remediation.NewLoop(r.executor, r.factory(),
			remediation.WithMaxRetries(cfg.Execution.MaxRetries),
			remediation.WithBackoff(resilience.DefaultRetryConfig().WithInitialDelay(cfg.Execution.RetryDelay)),
			remediation.WithEmitter(r.emitter),
			remediation.WithMetrics(r.metrics),
			remediation.WithLogger(r.logger),
		)
		r.agents = agents.NewManager(
			agents.WithRoles(cfg.Agents.Roles),
			agents.WithTools(r.registry.Tools),
			agents.WithMaxAgents(cfg.Agents.MaxAgents),
			agents.WithIdleTTL(cfg.Agents.IdleTTL),
			agents.WithEmitter(r.emitter),
			agents.WithMetrics(r.metrics),
			agents.WithLogger(r.logger),
		)
		deps.Retrier = r.loop
		deps.Agents = r.agents
		deps.Factory = r.factory
	}

	loaded, err := skills.Register(ctx, r.registry, cfg.Capabilities.SkillsDir)
	if err != nil {
		r.logger.Warn("runtime.skills.error", slog.String("dir", cfg.Capabilities.SkillsDir), slog.String("error", err.Error()))
	}
	r.skills = loaded
	deps.Skills = loaded

	if err := builtin.Register(ctx, r.registry, deps); err != nil {
		r.closeQuietly()
		return nil, err
	}
	if _, err := synth.Restore(ctx, r.registry, r.loader); err != nil {
		r.logger.Warn("runtime.restore.error", slog.String("error", err.Error()))
	}

	r.logger.Info("runtime.ready",
		slog.Int("capabilities", r.registry.Len()),
		slog.Int("skills", len(loaded)),
		slog.Bool("remediation", r.loop != nil),
	)
	return r, nil
}

func (r *Runtime) initTelemetry() error {
	tc := r.cfg.Telemetry
	if tc.Enabled {
		shutdown, err := telemetry.InitWithConfig(tc.ServiceName, Version, telemetry.Config{
			Exporter:     tc.Exporter,
			OTLPEndpoint: tc.OTLPEndpoint,
			OTLPInsecure: tc.OTLPInsecure,
			Output:       os.Stderr,
		})
		if err != nil {
			return errors.New(errors.CodeInternal, "init telemetry", err)
		}
		r.shutdown = shutdown
	}
	if r.metrics != nil {
		return nil
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return errors.New(errors.CodeInternal, "init metrics", err)
	}
	r.metrics = metrics
	return nil
}

func (r *Runtime) initAudit() error {
	if r.audit != nil {
		return nil
	}
	if !r.cfg.Audit.Enabled {
		r.audit = audit.NewMemoryStore()
		return nil
	}
	store, err := audit.OpenSQLite(r.cfg.Audit.SQLitePath)
	if err != nil {
		return errors.New(errors.CodeInternal, "open audit store", err).WithContext("path", r.cfg.Audit.SQLitePath)
	}
	r.audit = store
	return nil
}

// Start begins the background work: the dynamic directory watcher, the
// idle agent sweeper, and the import of external MCP tools.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if r.cfg.Capabilities.Watch {
		w := synth.NewWatcher(r.registry, r.loader, synth.WithWatcherLogger(r.logger))
		if err := w.Start(ctx); err != nil {
			return errors.New(errors.CodeInternal, "start capability watcher", err)
		}
		r.watcher = w
	}
	r.startAgentSweeper()
	r.importRemotes(ctx)
	r.started = true
	return nil
}

// Stop halts background work and releases resources.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher != nil {
		r.watcher.Stop()
		r.watcher = nil
	}
	r.stopAgentSweeper()
	var errs []error
	for _, c := range r.remotes {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.remotes = nil
	if closer, ok := r.audit.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.shutdown != nil {
		if err := r.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		r.shutdown = nil
	}
	r.started = false
	return stderrors.Join(errs...)
}

func (r *Runtime) closeQuietly() {
	if closer, ok := r.audit.(io.Closer); ok {
		_ = closer.Close()
	}
	if r.shutdown != nil {
		_ = r.shutdown(context.Background())
	}
}

// Reload applies the parts of cfg that can change while running: the
// command deny-list.
func (r *Runtime) Reload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	r.executor.SetPolicy(execution.NewPolicy(cfg.Execution.Deny...))
	r.mu.Lock()
	r.cfg.Execution.Deny = cfg.Execution.Deny
	r.mu.Unlock()
	r.logger.Info("runtime.reload", slog.Int("deny_extra", len(cfg.Execution.Deny)))
}

// Registry returns the capability registry.
func (r *Runtime) Registry() *capability.Registry { return r.registry }

// Executor returns the command executor.
func (r *Runtime) Executor() *execution.Executor { return r.executor }

// Agents returns the sub-agent manager, nil without a collaborator factory.
func (r *Runtime) Agents() *agents.Manager { return r.agents }

// Audit returns the audit store.
func (r *Runtime) Audit() audit.Store { return r.audit }

// Skills returns the installed skills.
func (r *Runtime) Skills() []skills.Skill { return r.skills }

// Logger returns the runtime logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// MCPServer returns a server publishing the registry and following its
// changes. The server is created on first use.
func (r *Runtime) MCPServer() *mcp.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mcpServer == nil {
		r.mcpServer = mcp.NewServer(r.registry, r.cfg.MCP.Name, r.cfg.MCP.Version, r.logger)
		r.registry.AddEmitter(r.mcpServer)
	}
	return r.mcpServer
}

// Dispatch invokes a capability under a run ID.
func (r *Runtime) Dispatch(ctx context.Context, name string, args capability.Args) (any, error) {
	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := r.tracer.Start(ctx, "Runtime.Dispatch", trace.WithAttributes(
		attribute.String("ergon.capability.name", name),
		attribute.String("ergon.run_id", runID),
	))
	defer span.End()
	traceID, spanID := traceIDs(span)

	out, err := r.registry.Dispatch(ctx, name, args)
	if err != nil {
		span.RecordError(err)
		r.logger.ErrorContext(ctx, "runtime.dispatch.error",
			slog.String("capability", name),
			slog.String("run_id", runID),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	r.logger.InfoContext(ctx, "runtime.dispatch.complete",
		slog.String("capability", name),
		slog.String("run_id", runID),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
	return out, nil
}

// Exec streams the events of one command.
func (r *Runtime) Exec(ctx context.Context, command string) <-chan execution.Event {
	ctx, _ = core.EnsureRunID(ctx)
	return r.executor.Execute(ctx, command)
}

// Run executes command through the self-correcting loop.
func (r *Runtime) Run(ctx context.Context, command, extraContext string) (remediation.Outcome, error) {
	if r.loop == nil {
		return remediation.Outcome{}, errors.New(errors.CodeLLMError, "no model configured for remediation", nil)
	}
	ctx, runID := core.EnsureRunID(ctx)
	out, err := r.loop.Run(ctx, command, extraContext)
	r.logger.InfoContext(ctx, "runtime.run.complete",
		slog.String("run_id", runID),
		slog.Bool("success", out.Success),
		slog.Int("attempts", out.Attempts),
	)
	return out, err
}

// Delegate spawns an agent for role and hands it task.
func (r *Runtime) Delegate(ctx context.Context, role, task string) (string, string, error) {
	if r.agents == nil {
		return "", "", errors.New(errors.CodeLLMError, "no model configured for agents", nil)
	}
	ctx, _ = core.EnsureRunID(ctx)
	id, err := r.agents.Spawn(ctx, role, r.factory)
	if err != nil {
		return "", "", err
	}
	answer, err := r.agents.Delegate(ctx, id, task)
	return id, answer, err
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}
