// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"log/slog"

	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/mcp"
)

// importRemotes connects to every configured MCP server and registers its
// tools. A server that cannot be reached is logged and skipped. Callers
// hold r.mu.
func (r *Runtime) importRemotes(ctx context.Context) {
	for _, sc := range r.cfg.MCP.Servers {
		c, err := connectRemote(ctx, sc)
		if err != nil {
			r.metrics.RecordError(ctx, err, "mcp")
			r.logger.Warn("runtime.mcp.connect.error", slog.String("server", sc.Name), slog.String("error", err.Error()))
			continue
		}
		names, err := mcp.Import(ctx, r.registry, c, sc.ToolPrefix())
		if err != nil {
			r.metrics.RecordError(ctx, err, "mcp")
			r.logger.Warn("runtime.mcp.import.error", slog.String("server", sc.Name), slog.String("error", err.Error()))
		}
		r.remotes = append(r.remotes, c)
		r.logger.Info("runtime.mcp.import", slog.String("server", sc.Name), slog.Int("tools", len(names)))
	}
}

func connectRemote(ctx context.Context, sc config.MCPServerConfig) (*mcp.Client, error) {
	switch {
	case sc.Command != "":
		return mcp.NewStdioClient(ctx, sc.Command, sc.Args, sc.Env)
	case sc.URL != "":
		return mcp.NewHTTPClient(ctx, sc.URL)
	default:
		return nil, errors.New(errors.CodeInvalidInput, "mcp server needs a command or a url", nil).
			WithContext("server", sc.Name)
	}
}
