// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"fmt"
	"testing"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func greetRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register("greet", "Greet someone", capability.Schema{
		"name":  {Type: "string", Description: "Who to greet"},
		"times": {Type: "integer", Optional: true},
	}, func(_ context.Context, args capability.Args) (any, error) {
		return fmt.Sprintf("hello %v", args["name"]), nil
	}))
	require.NoError(t, reg.Register("fail", "Always fails", nil, func(context.Context, capability.Args) (any, error) {
		return nil, errors.New(errors.CodeInternal, "kaput", nil)
	}))
	require.NoError(t, reg.Register("stats", "Structured result", nil, func(context.Context, capability.Args) (any, error) {
		return map[string]int{"files": 3}, nil
	}))
	return reg
}

func connect(t *testing.T, s *Server) *Client {
	t.Helper()
	inproc, err := client.NewInProcessClient(s.MCPServer())
	require.NoError(t, err)
	c, err := initialize(context.Background(), inproc, WithToolCacheTTL(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func toolNames(t *testing.T, c *Client) []string {
	t.Helper()
	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return names
}

func text(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	return textContent(res.Content)
}

func TestServerPublishesRegistry(t *testing.T) {
	reg := greetRegistry(t)
	c := connect(t, NewServer(reg, "ergon", "test", nil))

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)
	for _, tool := range tools {
		if tool.Name == "greet" {
			assert.Equal(t, []string{"name"}, tool.InputSchema.Required)
			assert.Contains(t, tool.InputSchema.Properties, "times")
		}
	}

	res, err := c.CallTool(context.Background(), "greet", map[string]any{"name": "bob"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hello bob", text(t, res))

	res, err = c.CallTool(context.Background(), "fail", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "kaput")

	res, err = c.CallTool(context.Background(), "stats", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"files":3}`, text(t, res))
}

func TestServerFollowsRegistryChanges(t *testing.T) {
	reg := greetRegistry(t)
	s := NewServer(reg, "ergon", "test", nil)
	reg.AddEmitter(s)
	c := connect(t, s)

	require.NoError(t, reg.Register("late", "Registered after start", nil, func(context.Context, capability.Args) (any, error) {
		return "late", nil
	}))
	assert.Contains(t, toolNames(t, c), "late")

	require.True(t, reg.Unregister("greet"))
	assert.NotContains(t, toolNames(t, c), "greet")
}

func TestImportRemoteTools(t *testing.T) {
	remote := connect(t, NewServer(greetRegistry(t), "remote", "test", nil))

	local := capability.NewRegistry()
	names, err := Import(context.Background(), local, remote, "remote")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"remote_greet", "remote_fail", "remote_stats"}, names)

	c, ok := local.Get("remote_greet")
	require.True(t, ok)
	assert.Equal(t, capability.SourceMCP, c.Source)
	assert.False(t, c.Parameters["name"].Optional)
	assert.True(t, c.Parameters["times"].Optional)

	out, err := local.Dispatch(context.Background(), "remote_greet", capability.Args{"name": "ana"})
	require.NoError(t, err)
	assert.Equal(t, "hello ana", out)

	_, err = local.Dispatch(context.Background(), "remote_greet", capability.Args{})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))

	_, err = local.Dispatch(context.Background(), "remote_fail", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")
}

func TestTool(t *testing.T) {
	tool := Tool(capability.Capability{
		Name:        "mixed",
		Description: "Mixed parameter types",
		Parameters: capability.Schema{
			"s": {Type: "string"},
			"n": {Type: "number"},
			"b": {Type: "boolean", Optional: true},
			"o": {Type: "object"},
		},
	})
	assert.Equal(t, "mixed", tool.Name)
	assert.ElementsMatch(t, []string{"s", "n", "o"}, tool.InputSchema.Required)
	for name, want := range map[string]string{"s": "string", "n": "number", "b": "boolean", "o": "object"} {
		prop, ok := tool.InputSchema.Properties[name].(map[string]any)
		require.True(t, ok, name)
		assert.Equal(t, want, prop["type"], name)
	}
}
