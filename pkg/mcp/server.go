// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp publishes the capability registry over the Model Context
// Protocol and imports tools from external MCP servers as capabilities.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/core"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes every capability of a registry as an MCP tool.
type Server struct {
	reg       *capability.Registry
	mcpServer *server.MCPServer
	logger    *slog.Logger

	mu        sync.Mutex
	published map[string]bool
}

// NewServer creates a server named name publishing the current contents of
// reg. Call Sync, or pass the server as an event emitter to the registry,
// to follow later changes.
func NewServer(reg *capability.Registry, name, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		reg:       reg,
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
		logger:    logger,
		published: make(map[string]bool),
	}
	s.Sync()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sync publishes every registered capability and withdraws tools whose
// capability is gone.
func (s *Server) Sync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]bool)
	for _, c := range s.reg.All() {
		current[c.Name] = true
		s.mcpServer.AddTool(Tool(c), s.handler(c.Name))
	}
	var stale []string
	for name := range s.published {
		if !current[name] {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		s.mcpServer.DeleteTools(stale...)
	}
	s.published = current
	s.logger.Debug("mcp.server.sync", slog.Int("tools", len(current)), slog.Int("removed", len(stale)))
}

// Emit implements core.EventEmitter, re-syncing on capability changes.
func (s *Server) Emit(_ context.Context, event core.Event) {
	switch event.Type {
	case core.EventCapabilityRegistered, core.EventCapabilitySynthesized, core.EventCapabilityRemoved:
		s.Sync()
	}
}

// ServeStdio serves the registry on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeStreamableHTTP serves the registry over streamable HTTP on addr.
func (s *Server) ServeStreamableHTTP(addr string) error {
	return server.NewStreamableHTTPServer(s.mcpServer).Start(addr)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := s.reg.Dispatch(ctx, name, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := render(out)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}

// Tool converts a capability into an MCP tool definition.
func Tool(c capability.Capability) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(c.Description)}
	for _, name := range c.Parameters.Keys() {
		p := c.Parameters[name]
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if !p.Optional {
			props = append(props, mcp.Required())
		}
		switch p.Type {
		case "number", "integer":
			opts = append(opts, mcp.WithNumber(name, props...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(name, props...))
		case "object":
			opts = append(opts, mcp.WithObject(name, props...))
		case "array":
			opts = append(opts, mcp.WithArray(name, props...))
		default:
			opts = append(opts, mcp.WithString(name, props...))
		}
	}
	return mcp.NewTool(c.Name, opts...)
}

// render turns a handler result into tool text. Strings pass through and
// other values are encoded as JSON.
func render(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
