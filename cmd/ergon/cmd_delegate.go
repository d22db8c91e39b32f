// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/runtime"
	"github.com/spf13/cobra"
)

type delegateResult struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
	Answer  string `json:"answer"`
}

func newDelegateCmd(flags *globalFlags) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "delegate --role <role> <task>",
		Short: "Hand a task to a role-specialized sub-agent",
		Long: `Spawn a sub-agent for the role and delegate the task to it. Built-in
roles are security, tester, frontend and database; agents.roles in the
configuration adds more. Unknown roles get a generic instruction.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.Join(args, " ")
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime.Runtime, _ *config.Config) error {
				id, answer, err := rt.Delegate(ctx, role, task)
				if err != nil {
					return err
				}
				if flags.JSON {
					return printJSON(cmd.OutOrStdout(), delegateResult{AgentID: id, Role: role, Answer: answer})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), answer)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Agent role, e.g. security or tester")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
