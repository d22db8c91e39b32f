// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package core holds the small shared vocabulary of Ergon: run identifiers
// carried in context and semantic events.
package core

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type runIDKey struct{}

// WithRunID attaches a run id to the context. Every dispatch, command, and
// delegation started under ctx reports it in logs, events, and audit records.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id carried by ctx. A nil context has none.
func RunID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok && id != ""
}

// EnsureRunID returns ctx unchanged when it already carries a run id and
// otherwise a child context with a fresh one.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id := "run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return WithRunID(ctx, id), id
}
