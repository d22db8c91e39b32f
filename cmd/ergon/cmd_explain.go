// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jllopis/ergon/pkg/agents"
	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/runtime"
	"github.com/spf13/cobra"
)

type explainResult struct {
	LLM          explainLLM          `json:"llm"`
	Execution    explainExecution    `json:"execution"`
	Capabilities explainCapabilities `json:"capabilities"`
	Skills       []string            `json:"skills"`
	Roles        []string            `json:"roles"`
	Audit        explainAudit        `json:"audit"`
	MCPServers   []string            `json:"mcp_servers"`
}

type explainLLM struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

type explainExecution struct {
	MaxRetries int      `json:"max_retries"`
	Timeout    string   `json:"timeout"`
	Deny       []string `json:"deny,omitempty"`
}

type explainCapabilities struct {
	DynamicDir string         `json:"dynamic_dir"`
	Watch      bool           `json:"watch"`
	BySource   map[string]int `json:"by_source"`
}

type explainAudit struct {
	Enabled bool   `json:"enabled"`
	Backend string `json:"backend"`
}

func newExplainCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "explain",
		Short: "Show the resolved configuration and what is registered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, flags, func(_ context.Context, rt *runtime.Runtime, cfg *config.Config) error {
				result := buildExplainResult(cfg, rt)
				if flags.JSON {
					return printJSON(cmd.OutOrStdout(), result)
				}
				printExplainTree(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
}

func buildExplainResult(cfg *config.Config, rt *runtime.Runtime) explainResult {
	result := explainResult{
		LLM: explainLLM{
			Provider: cfg.LLM.Provider,
			Model:    cfg.LLM.Model,
			BaseURL:  cfg.LLM.BaseURL,
		},
		Execution: explainExecution{
			MaxRetries: cfg.Execution.MaxRetries,
			Timeout:    "none",
			Deny:       cfg.Execution.Deny,
		},
		Capabilities: explainCapabilities{
			DynamicDir: cfg.Capabilities.DynamicDir,
			Watch:      cfg.Capabilities.Watch,
			BySource:   map[string]int{},
		},
		Skills:     []string{},
		Roles:      agents.NewRoles(cfg.Agents.Roles).Names(),
		Audit:      explainAudit{Enabled: cfg.Audit.Enabled, Backend: "memory"},
		MCPServers: []string{},
	}
	if result.LLM.Provider == "" {
		result.LLM.Provider = "not configured"
	}
	if cfg.Execution.Timeout > 0 {
		result.Execution.Timeout = cfg.Execution.Timeout.String()
	}
	if cfg.Audit.Enabled && cfg.Audit.SQLitePath != "" {
		result.Audit.Backend = "sqlite"
	}
	for _, c := range rt.Registry().All() {
		result.Capabilities.BySource[c.Source]++
	}
	for _, s := range rt.Skills() {
		result.Skills = append(result.Skills, s.Name)
	}
	sort.Strings(result.Skills)
	for _, s := range cfg.MCP.Servers {
		result.MCPServers = append(result.MCPServers, s.Name)
	}
	return result
}

func printExplainTree(w io.Writer, r explainResult) {
	fmt.Fprintln(w, "ergon")
	fmt.Fprintf(w, "├── llm: %s", r.LLM.Provider)
	if r.LLM.Model != "" {
		fmt.Fprintf(w, " (%s)", r.LLM.Model)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "├── execution: max_retries=%d timeout=%s deny+%d\n",
		r.Execution.MaxRetries, r.Execution.Timeout, len(r.Execution.Deny))

	sources := make([]string, 0, len(r.Capabilities.BySource))
	for s := range r.Capabilities.BySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	fmt.Fprintf(w, "├── capabilities: %s (watch=%t)\n", r.Capabilities.DynamicDir, r.Capabilities.Watch)
	for i, s := range sources {
		prefix := "│   ├──"
		if i == len(sources)-1 {
			prefix = "│   └──"
		}
		fmt.Fprintf(w, "%s %s: %d\n", prefix, s, r.Capabilities.BySource[s])
	}
	fmt.Fprintf(w, "├── skills: %s\n", listOrNone(r.Skills))
	fmt.Fprintf(w, "├── roles: %s\n", listOrNone(r.Roles))
	fmt.Fprintf(w, "├── mcp servers: %s\n", listOrNone(r.MCPServers))
	fmt.Fprintf(w, "└── audit: %s (enabled=%t)\n", r.Audit.Backend, r.Audit.Enabled)
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
