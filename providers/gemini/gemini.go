// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package gemini adapts the Google Gemini API to llm.Provider.
package gemini

import (
	"context"
	"encoding/json"

	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/llm"
	"google.golang.org/genai"
)

// DefaultModel is used when neither the request nor the provider names one.
const DefaultModel = "gemini-2.5-flash"

// Provider implements llm.StreamingProvider for Gemini.
type Provider struct {
	client *genai.Client
	model  string
	config genai.ClientConfig
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithAPIKey sets the API key. GOOGLE_API_KEY or GEMINI_API_KEY is used
// otherwise.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) { p.config.APIKey = apiKey }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.config.HTTPOptions.BaseURL = url }
}

// New creates a provider.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	p := &Provider{model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	if p.config.APIKey != "" {
		p.config.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(ctx, &p.config)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "create gemini client", err).WithAttribute("provider", "gemini")
	}
	p.client = client
	return p, nil
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model, contents, config := p.request(req)
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, errors.New(errors.CodeLLMError, "gemini generate content failed", err).
			WithAttribute("provider", "gemini").
			WithRecoverable(true)
	}
	out := &llm.ChatResponse{Usage: usage(resp)}
	out.Content, out.ToolCalls = parts(resp)
	return out, nil
}

// ChatStream implements llm.StreamingProvider.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	model, contents, config := p.request(req)
	chunks := make(chan llm.StreamChunk, 16)

	go func() {
		defer close(chunks)
		done := false
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			var chunk llm.StreamChunk
			if err != nil {
				chunk.Error = errors.New(errors.CodeLLMError, "gemini stream failed", err)
			} else {
				chunk.Content, chunk.ToolCalls = parts(resp)
				if resp.UsageMetadata != nil {
					u := usage(resp)
					chunk.Usage = &u
				}
				if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
					chunk.Done = true
				}
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
			done = done || chunk.Done
		}
		if !done {
			select {
			case chunks <- llm.StreamChunk{Done: true}:
			case <-ctx.Done():
			}
		}
	}()
	return chunks, nil
}

func (p *Provider) request(req llm.ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	contents, system := convertMessages(req.Messages)
	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(req.Tools)}}
	}
	return model, contents, config
}

// convertMessages splits out the system instruction. Tool results are
// matched by function name, which is also the tool call id Gemini returns.
func convertMessages(messages []llm.Message) ([]*genai.Content, string) {
	var system string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = msg.Content
		case llm.RoleAssistant:
			content := &genai.Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args},
				})
			}
			contents = append(contents, content)
		case llm.RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &result); err != nil {
				result = map[string]any{"result": msg.Content}
			}
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{Name: msg.ToolCallID, Response: result},
				}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}
	return contents, system
}

func convertTools(tools []llm.Tool) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schema *genai.Schema
		if raw, err := json.Marshal(tool.Function.Parameters); err == nil {
			_ = json.Unmarshal(raw, &schema)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  schema,
		})
	}
	return decls
}

func usage(resp *genai.GenerateContentResponse) llm.Usage {
	if resp.UsageMetadata == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
}

func parts(resp *genai.GenerateContentResponse) (string, []llm.ToolCall) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var text string
	var calls []llm.ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
		if part.FunctionCall == nil {
			continue
		}
		args, _ := json.Marshal(part.FunctionCall.Args)
		calls = append(calls, llm.ToolCall{
			ID:   part.FunctionCall.Name,
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionCall{
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			},
		})
	}
	return text, calls
}

var _ llm.StreamingProvider = (*Provider)(nil)
