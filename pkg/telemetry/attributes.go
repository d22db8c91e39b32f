// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on Ergon spans and metrics.
const (
	AttrCapabilityName   = "ergon.capability.name"
	AttrCapabilitySource = "ergon.capability.source" // builtin, synth, skill, host
	AttrCapabilityOK     = "ergon.capability.success"
	AttrCapabilityDurMs  = "ergon.capability.duration_ms"

	AttrCommand      = "ergon.command"
	AttrCommandExit  = "ergon.command.exit_code"
	AttrCommandLines = "ergon.command.lines"
	AttrOutcome      = "ergon.outcome"

	AttrAttempt     = "ergon.remediation.attempt"
	AttrMaxAttempts = "ergon.remediation.max_attempts"
	AttrAction      = "ergon.remediation.action"

	AttrAgentID   = "ergon.agent.id"
	AttrAgentRole = "ergon.agent.role"

	AttrErrorCode = "error.code"
	AttrComponent = "component"
)

// maxCommandAttrLen bounds command text recorded on spans.
const maxCommandAttrLen = 256

// CapabilityAttributes describes one dispatch.
func CapabilityAttributes(name, source string, success bool, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrCapabilityName, name),
		attribute.Bool(AttrCapabilityOK, success),
		attribute.Float64(AttrCapabilityDurMs, durationMs),
	}
	if source != "" {
		attrs = append(attrs, attribute.String(AttrCapabilitySource, source))
	}
	return attrs
}

// CommandAttributes describes one shell command run.
func CommandAttributes(command string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(AttrCommand, Truncate(command, maxCommandAttrLen))}
}

// AgentAttributes describes a specialist agent.
func AgentAttributes(agentID, role string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrAgentID, agentID)}
	if role != "" {
		attrs = append(attrs, attribute.String(AttrAgentRole, role))
	}
	return attrs
}

// Truncate shortens s to at most n bytes, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
