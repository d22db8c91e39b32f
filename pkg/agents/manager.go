// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package agents manages specialist sub-agents. Each agent owns a model
// collaborator and a private conversation log seeded with its role's
// system instruction.
package agents

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/ergon/pkg/core"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/llm"
	"github.com/jllopis/ergon/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NoContent is returned by Delegate when the model answers with empty text.
const NoContent = "The agent returned no content."

// Summary identifies an agent.
type Summary struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type agent struct {
	id           string
	role         string
	collaborator llm.Collaborator

	// mu serializes delegations and guards log.
	mu  sync.Mutex
	log []llm.Message

	lastUsed time.Time
}

// Manager owns the set of live agents.
type Manager struct {
	mu     sync.Mutex
	agents map[string]*agent
	order  []string

	roles     Roles
	tools     func() []llm.Tool
	maxAgents int
	idleTTL   time.Duration
	now       func() time.Time

	emitter core.EventEmitter
	metrics *telemetry.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithRoles adds or overrides role instructions.
func WithRoles(custom map[string]string) Option {
	return func(m *Manager) { m.roles = NewRoles(custom) }
}

// WithTools sets the tool declarations offered to agents on every delegation.
func WithTools(tools func() []llm.Tool) Option {
	return func(m *Manager) { m.tools = tools }
}

// WithMaxAgents bounds the number of live agents. Spawning beyond the bound
// evicts the least recently used agent. Zero means unbounded.
func WithMaxAgents(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.maxAgents = n
		}
	}
}

// WithIdleTTL sets how long an agent may stay unused before Sweep evicts it.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.idleTTL = d
		}
	}
}

// WithEmitter sets the event emitter.
func WithEmitter(e core.EventEmitter) Option {
	return func(m *Manager) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		agents:  make(map[string]*agent),
		roles:   NewRoles(nil),
		now:     time.Now,
		emitter: core.NoopEventEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("ergon/agents"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Spawn creates an agent for role with a fresh collaborator from factory and
// returns its id.
func (m *Manager) Spawn(ctx context.Context, role string, factory llm.Factory) (string, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return "", errors.New(errors.CodeInvalidInput, "agent role is required", nil)
	}
	if factory == nil {
		return "", errors.New(errors.CodeInvalidInput, "collaborator factory is required", nil)
	}
	c := factory()
	if c == nil {
		return "", errors.New(errors.CodeInvalidInput, "collaborator factory returned nil", nil).
			WithContext("role", role)
	}

	a := &agent{
		role:         role,
		collaborator: c,
		log:          []llm.Message{{Role: llm.RoleSystem, Content: m.roles.Instruction(role)}},
	}

	m.mu.Lock()
	a.id = m.newIDLocked()
	a.lastUsed = m.now()
	var evicted *agent
	if m.maxAgents > 0 && len(m.agents) >= m.maxAgents {
		evicted = m.lruLocked()
		m.removeLocked(evicted.id)
	}
	m.agents[a.id] = a
	m.order = append(m.order, a.id)
	m.mu.Unlock()

	if evicted != nil {
		m.evicted(ctx, evicted, "capacity")
	}
	m.metrics.AgentsChanged(ctx, 1)
	m.logger.Info("agents.spawned", slog.String("agent_id", a.id), slog.String("role", role))
	m.emitter.Emit(ctx, core.NewEvent(ctx, core.EventAgentSpawned, a.id, map[string]any{
		"role":  role,
		"known": m.roles.Known(role),
	}))
	return a.id, nil
}

// Delegate sends task to agent id and returns its answer. Delegations to the
// same agent run one at a time.
func (m *Manager) Delegate(ctx context.Context, id, task string) (string, error) {
	m.mu.Lock()
	a, ok := m.agents[id]
	if ok {
		a.lastUsed = m.now()
	}
	m.mu.Unlock()
	if !ok {
		return "", errors.New(errors.CodeAgentNotFound, "agent not found", nil).WithContext("agent_id", id)
	}

	ctx, span := m.tracer.Start(ctx, "Manager.Delegate", trace.WithAttributes(telemetry.AgentAttributes(a.id, a.role)...))
	defer span.End()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.log = append(a.log, llm.Message{Role: llm.RoleUser, Content: task})
	history := make([]llm.Message, len(a.log))
	copy(history, a.log)

	var tools []llm.Tool
	if m.tools != nil {
		tools = m.tools()
	}
	start := m.now()
	res := a.collaborator.Generate(ctx, history, tools)
	if res.Content != "" {
		a.log = append(a.log, llm.Message{Role: llm.RoleAssistant, Content: res.Content})
	}

	m.metrics.RecordDelegation(ctx, a.role)
	span.SetAttributes(
		attribute.Int("ergon.agent.messages", len(a.log)),
		attribute.Int("ergon.agent.tool_calls", len(res.ToolCalls)),
	)
	if strings.HasPrefix(res.Content, llm.ErrorPrefix) {
		span.SetStatus(codes.Error, telemetry.Truncate(res.Content, 256))
	}
	m.logger.Info("agents.delegation",
		slog.String("agent_id", a.id),
		slog.String("role", a.role),
		slog.Int("task_len", len(task)),
		slog.Int("answer_len", len(res.Content)),
		slog.Duration("duration", m.now().Sub(start)),
	)
	m.emitter.Emit(ctx, core.NewEvent(ctx, core.EventAgentDelegation, a.id, map[string]any{
		"role":       a.role,
		"tool_calls": len(res.ToolCalls),
	}))

	if res.Content == "" {
		return NoContent, nil
	}
	return res.Content, nil
}

// List returns the live agents in spawn order.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, Summary{ID: id, Role: m.agents[id].role})
	}
	return out
}

// Len returns the number of live agents.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// Transcript returns a copy of the conversation log of agent id.
func (m *Manager) Transcript(id string) ([]llm.Message, error) {
	m.mu.Lock()
	a, ok := m.agents[id]
	m.mu.Unlock()
	if !ok {
		return nil, errors.New(errors.CodeAgentNotFound, "agent not found", nil).WithContext("agent_id", id)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Message, len(a.log))
	copy(out, a.log)
	return out, nil
}

// Remove drops agent id. It reports whether the agent existed.
func (m *Manager) Remove(ctx context.Context, id string) bool {
	m.mu.Lock()
	a, ok := m.agents[id]
	if ok {
		m.removeLocked(id)
	}
	m.mu.Unlock()
	if ok {
		m.evicted(ctx, a, "removed")
	}
	return ok
}

// Sweep evicts agents idle for longer than the configured TTL and returns
// their ids. It is a no-op without a TTL.
func (m *Manager) Sweep(ctx context.Context) []string {
	if m.idleTTL <= 0 {
		return nil
	}
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var stale []*agent
	for _, id := range m.order {
		if a := m.agents[id]; a.lastUsed.Before(cutoff) {
			stale = append(stale, a)
		}
	}
	for _, a := range stale {
		m.removeLocked(a.id)
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, a := range stale {
		m.evicted(ctx, a, "idle")
		ids = append(ids, a.id)
	}
	return ids
}

func (m *Manager) evicted(ctx context.Context, a *agent, reason string) {
	m.metrics.AgentsChanged(ctx, -1)
	m.logger.Info("agents.evicted",
		slog.String("agent_id", a.id),
		slog.String("role", a.role),
		slog.String("reason", reason),
	)
	m.emitter.Emit(ctx, core.NewEvent(ctx, core.EventAgentEvicted, a.id, map[string]any{
		"role":   a.role,
		"reason": reason,
	}))
}

func (m *Manager) newIDLocked() string {
	for {
		id := "agent_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if _, taken := m.agents[id]; !taken {
			return id
		}
	}
}

func (m *Manager) lruLocked() *agent {
	var oldest *agent
	for _, id := range m.order {
		a := m.agents[id]
		if oldest == nil || a.lastUsed.Before(oldest.lastUsed) {
			oldest = a
		}
	}
	return oldest
}

func (m *Manager) removeLocked(id string) {
	delete(m.agents, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
