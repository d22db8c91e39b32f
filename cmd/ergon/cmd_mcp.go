// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/runtime"
	"github.com/spf13/cobra"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve registered capabilities over MCP",
		Long: `Expose every registered capability as an MCP tool. Stdio is used unless
--http or mcp.http_addr is set. Capabilities synthesized while serving are
announced to connected clients. When --config is given the file is watched
and deny-list changes apply without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime.Runtime, cfg *config.Config) error {
				if stop := watchConfig(ctx, flags, rt); stop != nil {
					defer stop()
				}
				addr := httpAddr
				if addr == "" {
					addr = cfg.MCP.HTTPAddr
				}
				srv := rt.MCPServer()
				errCh := make(chan error, 1)
				go func() {
					if addr != "" {
						rt.Logger().Info("mcp.serve", slog.String("transport", "http"), slog.String("addr", addr))
						errCh <- srv.ServeStreamableHTTP(addr)
						return
					}
					rt.Logger().Info("mcp.serve", slog.String("transport", "stdio"))
					errCh <- srv.ServeStdio()
				}()
				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
					return nil
				}
			})
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve streamable HTTP on this address, e.g. :8080")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tools imported from the configured MCP servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, flags, func(_ context.Context, rt *runtime.Runtime, _ *config.Config) error {
				var rows []toolRow
				for _, c := range rt.Registry().All() {
					if c.Source == capability.SourceMCP {
						rows = append(rows, toolRow{Declaration: c.Declaration(), Source: c.Source})
					}
				}
				if flags.JSON {
					if rows == nil {
						rows = []toolRow{}
					}
					return printJSON(cmd.OutOrStdout(), rows)
				}
				w := newTabWriter(cmd.OutOrStdout())
				writeRow(w, "NAME", "DESCRIPTION")
				for _, r := range rows {
					writeRow(w, r.Name, r.Description)
				}
				return w.Flush()
			})
		},
	}
	cmd.AddCommand(list)
	return cmd
}

// watchConfig reloads the runtime when the config file changes. It returns
// nil when there is no file to watch.
func watchConfig(ctx context.Context, flags *globalFlags, rt *runtime.Runtime) func() {
	opts, err := flags.options()
	if err != nil || opts.Path == "" {
		return nil
	}
	w, err := config.NewWatcher(opts, config.WithWatchLogger(rt.Logger()))
	if err != nil {
		rt.Logger().Warn("config.watch.error", slog.String("path", opts.Path), slog.String("error", err.Error()))
		return nil
	}
	w.OnChange(rt.Reload)
	w.Start(ctx)
	return w.Stop
}
