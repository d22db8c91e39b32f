// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/ergon/pkg/errors"
)

// Metrics holds the instruments recorded by the execution substrate.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	dispatches   metric.Int64Counter
	dispatchDur  metric.Float64Histogram
	commands     metric.Int64Counter
	blocked      metric.Int64Counter
	remediations metric.Int64Counter
	delegations  metric.Int64Counter
	agentsActive metric.Int64UpDownCounter
	errorsTotal  metric.Int64Counter
	breakerState metric.Int64Gauge
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter("ergon"))
}

// NewMetricsWithMeter creates instruments on meter.
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.dispatches, err = meter.Int64Counter("ergon.capability.dispatches",
		metric.WithDescription("Capability dispatches by name and outcome")); err != nil {
		return nil, err
	}
	if m.dispatchDur, err = meter.Float64Histogram("ergon.capability.duration",
		metric.WithDescription("Capability handler duration"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.commands, err = meter.Int64Counter("ergon.commands.total",
		metric.WithDescription("Shell commands by outcome")); err != nil {
		return nil, err
	}
	if m.blocked, err = meter.Int64Counter("ergon.commands.blocked",
		metric.WithDescription("Shell commands rejected by the deny-list")); err != nil {
		return nil, err
	}
	if m.remediations, err = meter.Int64Counter("ergon.remediation.attempts",
		metric.WithDescription("Retry loop attempts by decided action")); err != nil {
		return nil, err
	}
	if m.delegations, err = meter.Int64Counter("ergon.agent.delegations",
		metric.WithDescription("Tasks delegated to specialist agents by role")); err != nil {
		return nil, err
	}
	if m.agentsActive, err = meter.Int64UpDownCounter("ergon.agent.active",
		metric.WithDescription("Specialist agents currently alive")); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter("ergon.errors.total",
		metric.WithDescription("Errors by code and component")); err != nil {
		return nil, err
	}
	if m.breakerState, err = meter.Int64Gauge("ergon.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state (0=open, 1=half-open, 2=closed)")); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordDispatch counts one capability dispatch.
func (m *Metrics) RecordDispatch(ctx context.Context, name string, success bool, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrCapabilityName, name),
		attribute.Bool(AttrCapabilityOK, success),
	)
	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchDur.Record(ctx, durationMs, attrs)
}

// RecordCommand counts one finished command. outcome is exit, error, or blocked.
func (m *Metrics) RecordCommand(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.commands.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
	if outcome == "blocked" {
		m.blocked.Add(ctx, 1)
	}
}

// RecordRemediation counts one retry-loop decision.
func (m *Metrics) RecordRemediation(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.remediations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAction, action)))
}

// RecordDelegation counts one delegation to an agent with role.
func (m *Metrics) RecordDelegation(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.delegations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAgentRole, role)))
}

// AgentsChanged adjusts the active agent gauge by delta.
func (m *Metrics) AgentsChanged(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.agentsActive.Add(ctx, delta)
}

// RecordError counts err under its ErgonError code.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "UNKNOWN"
	}
	m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrComponent, component),
	))
}

// RecordBreakerState records a circuit breaker state value
// (0=open, 1=half-open, 2=closed).
func (m *Metrics) RecordBreakerState(ctx context.Context, name string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String(AttrComponent, name)))
}
