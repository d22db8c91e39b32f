// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jllopis/ergon/pkg/agents"
	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/llm"
)

var commandSchema = capability.Schema{"command": {Type: "string", Description: "Shell command to run"}}

func terminalRun(t Terminal) capability.Capability {
	return capability.Capability{
		Name:        "terminal_run",
		Description: "Run a shell command and return its combined output",
		Parameters:  commandSchema,
		Handler: func(ctx context.Context, args capability.Args) (any, error) {
			command, err := stringArg(args, "command")
			if err != nil {
				return nil, err
			}
			return t.RunTerminal(ctx, command), nil
		},
	}
}

func autonomousTerminalRun(r Retrier) capability.Capability {
	return capability.Capability{
		Name:        "autonomous_terminal_run",
		Description: "Run a shell command and let the model correct and retry it when it fails",
		Parameters:  commandSchema,
		Handler: func(ctx context.Context, args capability.Args) (any, error) {
			command, err := stringArg(args, "command")
			if err != nil {
				return nil, err
			}
			out, err := r.Run(ctx, command, "")
			if errors.HasCode(err, errors.CodeContextLost) {
				return nil, err
			}
			return out.Render(), nil
		},
	}
}

func agentCapabilities(m *agents.Manager, factory llm.Factory) []capability.Capability {
	return []capability.Capability{
		{
			Name:        "agent_spawn",
			Description: "Create a specialist sub-agent (for example security, tester, frontend, database) and return its id",
			Parameters:  capability.Schema{"role": {Type: "string", Description: "Role of the specialist"}},
			Handler: func(ctx context.Context, args capability.Args) (any, error) {
				role, err := stringArg(args, "role")
				if err != nil {
					return nil, err
				}
				return m.Spawn(ctx, role, factory)
			},
		},
		{
			Name:        "agent_delegate",
			Description: "Send a task to a sub-agent created with agent_spawn and return its answer",
			Parameters: capability.Schema{
				"agent_id": {Type: "string", Description: "Agent id returned by agent_spawn"},
				"task":     {Type: "string", Description: "Detailed description of the task"},
			},
			Handler: func(ctx context.Context, args capability.Args) (any, error) {
				id, err := stringArg(args, "agent_id")
				if err != nil {
					return nil, err
				}
				task, err := stringArg(args, "task")
				if err != nil {
					return nil, err
				}
				return m.Delegate(ctx, strings.TrimSpace(id), task)
			},
		},
		{
			Name:        "agent_list",
			Description: "List the active sub-agents",
			Parameters:  capability.Schema{},
			Handler: func(context.Context, capability.Args) (any, error) {
				data, err := json.Marshal(m.List())
				if err != nil {
					return nil, errors.New(errors.CodeInternal, "encode agent list", err)
				}
				return string(data), nil
			},
		},
	}
}
