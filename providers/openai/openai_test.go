// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/llm"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	assert.Equal(t, DefaultModel, New().model)
	assert.Equal(t, "gpt-4.1", New(WithModel("gpt-4.1")).model)
	assert.Equal(t, DefaultModel, New(WithModel("")).model)
}

func TestOptionsAccumulate(t *testing.T) {
	p := New(WithAPIKey("k"), WithBaseURL("http://localhost:1/v1/"))
	assert.Len(t, p.clientOpts, 2)
}

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  llm.Message
		role string
	}{
		{"system", llm.Message{Role: llm.RoleSystem, Content: "be brief"}, "system"},
		{"user", llm.Message{Role: llm.RoleUser, Content: "hi"}, "user"},
		{"assistant", llm.Message{Role: llm.RoleAssistant, Content: "hello"}, "assistant"},
		{"assistant tool calls", llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
			ID: "call_1", Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{Name: "read_file", Arguments: `{"path":"a"}`},
		}}}, "assistant"},
		{"tool", llm.Message{Role: llm.RoleTool, Content: "ok", ToolCallID: "call_1"}, "tool"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(convertMessage(tt.msg))
			require.NoError(t, err)
			var out map[string]any
			require.NoError(t, json.Unmarshal(data, &out))
			assert.Equal(t, tt.role, out["role"])
		})
	}
}

func TestConvertTool(t *testing.T) {
	tool := convertTool(llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
	})
	assert.Equal(t, "read_file", tool.Function.Name)
	assert.Equal(t, "object", tool.Function.Parameters["type"])
	assert.Contains(t, tool.Function.Parameters, "properties")
}

func TestChat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-5-mini",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "checking",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "read_file", "arguments": "{\"path\":\"a\"}"}}]}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`)
	}))
	defer srv.Close()

	p := New(WithAPIKey("test"), WithBaseURL(srv.URL+"/"), WithRequestOptions(option.WithMaxRetries(0)))
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "read a"}},
		Temperature: 0.2,
		MaxTokens:   64,
	})
	require.NoError(t, err)
	assert.Equal(t, "checking", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Function.Name)
	assert.Equal(t, 8, resp.Usage.TotalTokens)

	assert.Equal(t, DefaultModel, body["model"])
	assert.EqualValues(t, 64, body["max_completion_tokens"])
}

func TestChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": {"message": "bad model", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := New(WithAPIKey("test"), WithBaseURL(srv.URL+"/"), WithRequestOptions(option.WithMaxRetries(0)))
	_, err := p.Chat(context.Background(), llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeLLMError))
}
