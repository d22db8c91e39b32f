// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	eerrors "github.com/jllopis/ergon/pkg/errors"
)

func TestInitStdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "stdout", Output: &buf})
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitNone(t *testing.T) {
	shutdown, err := InitWithConfig("svc", "v", Config{Exporter: "none"})
	if err != nil || shutdown == nil {
		t.Fatalf("expected noop shutdown, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestInitRejectsBadConfig(t *testing.T) {
	if _, err := InitWithConfig("svc", "v", Config{Exporter: "otlp"}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
	if _, err := InitWithConfig("svc", "v", Config{Exporter: "zipkin"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestLoggerAddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "json")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "capability.dispatch", slog.String("name", "echo"))
	span.End()

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Fatalf("expected trace_id in record, got %v", rec)
	}
	if rec["name"] != "echo" {
		t.Fatalf("expected name attr, got %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestTextLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestAttributes(t *testing.T) {
	attrs := CapabilityAttributes("echo", "builtin", true, 1.5)
	assertAttributes(t, attrs, map[string]any{
		AttrCapabilityName:   "echo",
		AttrCapabilitySource: "builtin",
		AttrCapabilityOK:     true,
		AttrCapabilityDurMs:  1.5,
	})

	long := strings.Repeat("x", 300)
	cmd := CommandAttributes(long)
	if got := cmd[0].Value.AsString(); len(got) != maxCommandAttrLen+3 {
		t.Fatalf("expected truncated command, got %d bytes", len(got))
	}

	assertAttributes(t, AgentAttributes("agent_1", ""), map[string]any{AttrAgentID: "agent_1"})
}

func TestMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetricsWithMeter(mp.Meter("test"))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordDispatch(ctx, "echo", true, 2)
	m.RecordCommand(ctx, "blocked")
	m.RecordRemediation(ctx, "retry")
	m.RecordDelegation(ctx, "security")
	m.AgentsChanged(ctx, 1)
	m.RecordError(ctx, eerrors.New(eerrors.CodeAgentNotFound, "x", nil), "agents")
	m.RecordError(ctx, errors.New("plain"), "agents")
	m.RecordBreakerState(ctx, "llm", 2)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			names[md.Name] = true
		}
	}
	for _, want := range []string{"ergon.capability.dispatches", "ergon.commands.blocked", "ergon.errors.total", "ergon.agent.active"} {
		if !names[want] {
			t.Errorf("expected metric %s, got %v", want, names)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordDispatch(ctx, "x", false, 0)
	m.RecordCommand(ctx, "exit")
	m.RecordRemediation(ctx, "give_up")
	m.RecordDelegation(ctx, "x")
	m.AgentsChanged(ctx, -1)
	m.RecordError(ctx, errors.New("x"), "c")
	m.RecordBreakerState(ctx, "x", 0)
}

func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()
	got := map[string]any{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsInterface()
	}
	for k, want := range expected {
		if got[k] != want {
			t.Errorf("attribute %s: expected %v, got %v", k, want, got[k])
		}
	}
}
