// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// minSweepInterval keeps short idle TTLs from spinning the sweeper.
const minSweepInterval = time.Second

// sweepEvery returns the agent sweep period, zero when sweeping is off.
func (r *Runtime) sweepEvery() time.Duration {
	if r.agents == nil || r.cfg.Agents.IdleTTL <= 0 {
		return 0
	}
	if r.sweepInterval > 0 {
		return r.sweepInterval
	}
	return max(r.cfg.Agents.IdleTTL/2, minSweepInterval)
}

// startAgentSweeper evicts idle agents periodically. Callers hold r.mu.
func (r *Runtime) startAgentSweeper() {
	interval := r.sweepEvery()
	if interval <= 0 {
		r.logger.Debug("runtime.agents.sweeper.disabled", slog.Duration("idle_ttl", r.cfg.Agents.IdleTTL))
		return
	}
	if r.sweepCancel != nil {
		r.stopAgentSweeper()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.sweepCancel = cancel
	r.sweepDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		r.logger.Info("runtime.agents.sweeper.start",
			slog.Duration("interval", interval),
			slog.Duration("idle_ttl", r.cfg.Agents.IdleTTL),
		)
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("runtime.agents.sweeper.stop")
				return
			case <-ticker.C:
				r.sweepAgents(ctx)
			}
		}
	}()
}

func (r *Runtime) sweepAgents(ctx context.Context) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "runtime.agents.sweep", trace.WithAttributes(
		attribute.String("idle_ttl", r.cfg.Agents.IdleTTL.String()),
	))
	defer span.End()
	traceID, spanID := traceIDs(span)

	evicted := r.agents.Sweep(ctx)
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	span.SetAttributes(
		attribute.Int("evicted", len(evicted)),
		attribute.Float64("duration_ms", durationMs),
	)
	if len(evicted) == 0 {
		return
	}
	r.logger.Info("runtime.agents.sweep",
		slog.Any("evicted", evicted),
		slog.Int("remaining", r.agents.Len()),
		slog.Float64("duration_ms", durationMs),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
}

// stopAgentSweeper stops the sweeper and waits for it. Callers hold r.mu.
func (r *Runtime) stopAgentSweeper() {
	if r.sweepCancel == nil {
		return
	}
	r.sweepCancel()
	if r.sweepDone != nil {
		<-r.sweepDone
	}
	r.sweepCancel = nil
	r.sweepDone = nil
}
