// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a semantic event emitted by the execution substrate.
type EventType string

const (
	EventCapabilityRegistered  EventType = "capability.registered"
	EventCapabilitySynthesized EventType = "capability.synthesized"
	EventCapabilityRemoved     EventType = "capability.unregistered"
	EventAgentSpawned          EventType = "agent.spawned"
	EventAgentDelegation       EventType = "agent.delegation"
	EventAgentEvicted          EventType = "agent.evicted"
	EventRemediationAttempt    EventType = "remediation.attempt"
)

// Event captures a semantic streaming/logging event.
type Event struct {
	Type      EventType
	Subject   string
	RunID     string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds an event stamped with the current time and the run id
// carried by ctx, if any.
func NewEvent(ctx context.Context, eventType EventType, subject string, payload map[string]any) Event {
	runID, _ := RunID(ctx)
	return Event{
		Type:      eventType,
		Subject:   subject,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// MultiEmitter forwards every event to each emitter in order.
type MultiEmitter []EventEmitter

// Emit implements EventEmitter.
func (m MultiEmitter) Emit(ctx context.Context, event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, event)
		}
	}
}

// LogEmitter writes events to a slog logger at debug level.
type LogEmitter struct {
	Logger *slog.Logger
}

// Emit implements EventEmitter.
func (e LogEmitter) Emit(ctx context.Context, event Event) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("subject", event.Subject),
	}
	if event.RunID != "" {
		attrs = append(attrs, slog.String("run_id", event.RunID))
	}
	for k, v := range event.Payload {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger.DebugContext(ctx, string(event.Type), attrs...)
}

// RecordingEmitter keeps every emitted event in memory.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements EventEmitter.
func (r *RecordingEmitter) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events, optionally filtered by type.
func (r *RecordingEmitter) Events(types ...EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		if len(types) == 0 {
			out = append(out, ev)
			continue
		}
		for _, t := range types {
			if ev.Type == t {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}
