// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records capability registry changes. Re-registration under
// an existing name stays silent for callers, but every replacement leaves
// a trail here.
package audit

import (
	"context"
	"sync"
	"time"
)

// Action classifies an audit event.
type Action string

const (
	ActionRegistered      Action = "capability.registered"
	ActionReplaced        Action = "capability.replaced"
	ActionUnregistered    Action = "capability.unregistered"
	ActionSynthesized     Action = "capability.synthesized"
	ActionSynthesisFailed Action = "capability.synthesis_failed"
)

// Event is one audit record.
type Event struct {
	Action     Action
	Capability string
	// Source is where the capability came from: builtin, synth, skill, host.
	Source    string
	RunID     string
	Detail    string
	Timestamp time.Time
}

// Filter limits audit queries. Zero fields match everything.
type Filter struct {
	Capability string
	Action     Action
	Since      time.Time
	Limit      int
}

func (f Filter) match(ev Event) bool {
	if f.Capability != "" && ev.Capability != f.Capability {
		return false
	}
	if f.Action != "" && ev.Action != f.Action {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Store persists audit events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// MemoryStore keeps audit events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an audit event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns matching events in recording order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.match(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
