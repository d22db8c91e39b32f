// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"strings"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolCaller invokes a remote tool.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Import registers every tool listed by c as a capability. With a
// non-empty prefix capabilities are named prefix_tool.
func Import(ctx context.Context, reg *capability.Registry, c *Client, prefix string) ([]string, error) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeLoadError, "list mcp tools", err)
	}
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		remote := RemoteCapability(t, c, prefix)
		if err := reg.RegisterCapability(ctx, remote); err != nil {
			return names, err
		}
		names = append(names, remote.Name)
	}
	return names, nil
}

// RemoteCapability wraps a remote tool as a capability dispatching through
// caller.
func RemoteCapability(t mcp.Tool, caller ToolCaller, prefix string) capability.Capability {
	name := t.Name
	if prefix != "" {
		name = prefix + "_" + t.Name
	}
	return capability.Capability{
		Name:        name,
		Description: t.Description,
		Parameters:  Schema(t.InputSchema),
		Source:      capability.SourceMCP,
		Handler: func(ctx context.Context, args capability.Args) (any, error) {
			if args == nil {
				args = capability.Args{}
			}
			for _, key := range t.InputSchema.Required {
				if _, ok := args[key]; !ok {
					return nil, errors.Newf(errors.CodeInvalidInput, "missing required argument %q", key).
						WithContext("tool", t.Name)
				}
			}
			res, err := caller.CallTool(ctx, t.Name, args)
			if err != nil {
				return nil, errors.New(errors.CodeInternal, "call mcp tool "+t.Name, err)
			}
			return resultOutput(t.Name, res)
		},
	}
}

// Schema converts an MCP input schema into a capability schema.
func Schema(in mcp.ToolInputSchema) capability.Schema {
	required := make(map[string]bool, len(in.Required))
	for _, r := range in.Required {
		required[r] = true
	}
	out := make(capability.Schema, len(in.Properties))
	for name, raw := range in.Properties {
		p := capability.Param{Optional: !required[name]}
		if prop, ok := raw.(map[string]any); ok {
			p.Type, _ = prop["type"].(string)
			p.Description, _ = prop["description"].(string)
		}
		out[name] = p
	}
	return out
}

func resultOutput(tool string, res *mcp.CallToolResult) (any, error) {
	if res == nil {
		return nil, errors.New(errors.CodeInternal, "mcp tool returned no result", nil).WithContext("tool", tool)
	}
	text := textContent(res.Content)
	if res.IsError {
		return nil, errors.New(errors.CodeInternal, "mcp tool failed: "+text, nil).WithContext("tool", tool)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	return text, nil
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch c := item.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
