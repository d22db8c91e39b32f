// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package gemini

import (
	"context"
	"testing"

	"github.com/jllopis/ergon/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNew(t *testing.T) {
	p, err := New(context.Background(), WithAPIKey("test-key"), WithModel("gemini-2.5-pro"))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", p.model)
	assert.Equal(t, genai.BackendGeminiAPI, p.config.Backend)
}

func TestConvertMessages(t *testing.T) {
	contents, system := convertMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
			ID: "read_file", Function: llm.FunctionCall{Name: "read_file", Arguments: `{"path":"a"}`},
		}}},
		{Role: llm.RoleTool, Content: "plain text", ToolCallID: "read_file"},
	})
	assert.Equal(t, "be brief", system)
	require.Len(t, contents, 3)

	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "a", contents[1].Parts[0].FunctionCall.Args["path"])

	resp := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "read_file", resp.Name)
	assert.Equal(t, map[string]any{"result": "plain text"}, resp.Response)
}

func TestConvertTools(t *testing.T) {
	decls := convertTools([]llm.Tool{{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
			},
		},
	}})
	require.Len(t, decls, 1)
	assert.Equal(t, "read_file", decls[0].Name)
	require.NotNil(t, decls[0].Parameters)
	assert.Contains(t, decls[0].Parameters.Properties, "path")
}

func TestParts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "let me "},
				{Text: "look"},
				{FunctionCall: &genai.FunctionCall{Name: "list_files", Args: map[string]any{"path": "."}}},
			}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount: 4, CandidatesTokenCount: 2, TotalTokenCount: 6,
		},
	}
	text, calls := parts(resp)
	assert.Equal(t, "let me look", text)
	require.Len(t, calls, 1)
	assert.Equal(t, "list_files", calls[0].Function.Name)
	assert.JSONEq(t, `{"path":"."}`, calls[0].Function.Arguments)
	assert.Equal(t, 6, usage(resp).TotalTokens)

	text, calls = parts(&genai.GenerateContentResponse{})
	assert.Empty(t, text)
	assert.Nil(t, calls)
}
