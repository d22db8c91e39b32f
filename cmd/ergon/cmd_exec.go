// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/execution"
	"github.com/jllopis/ergon/pkg/runtime"
	"github.com/spf13/cobra"
)

// eventJSON is the wire form of one process event.
type eventJSON struct {
	Type    string `json:"type"`
	Line    string `json:"line,omitempty"`
	Code    *int   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func newExecCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <command>",
		Short: "Run a shell command and stream its output",
		Long: `Run a shell command once and stream stdout and stderr as they arrive.
The exit code of the command becomes the exit code of ergon. Commands
matching the deny-list are refused without being started.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime.Runtime, _ *config.Config) error {
				return streamEvents(cmd, flags.JSON, rt.Exec(ctx, command))
			})
		},
	}
}

func streamEvents(cmd *cobra.Command, asJSON bool, events <-chan execution.Event) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	enc := json.NewEncoder(out)
	for ev := range events {
		if asJSON {
			wire := eventJSON{Type: string(ev.Type), Line: ev.Line, Message: ev.Message}
			if ev.Type == execution.EventExit {
				code := ev.Code
				wire.Code = &code
			}
			if err := enc.Encode(wire); err != nil {
				return err
			}
		}
		switch ev.Type {
		case execution.EventStdout:
			if !asJSON {
				fmt.Fprintln(out, ev.Line)
			}
		case execution.EventStderr:
			if !asJSON {
				fmt.Fprintln(errOut, ev.Line)
			}
		case execution.EventExit:
			if ev.Code != 0 {
				return &exitError{code: ev.Code}
			}
			return nil
		case execution.EventError:
			if ev.Err != nil {
				return ev.Err
			}
			return fmt.Errorf("%s", ev.Message)
		}
	}
	return nil
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var extra string
	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "Run a shell command, asking the model to fix failures",
		Long: `Run a shell command through the self-correcting loop. After each failure
the model proposes a corrected command, gives up, or asks for a code fix.
The loop stops after execution.max_retries failed attempts.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime.Runtime, _ *config.Config) error {
				outcome, err := rt.Run(ctx, command, extra)
				if flags.JSON {
					if perr := printJSON(cmd.OutOrStdout(), outcome); perr != nil {
						return perr
					}
				} else if outcome.Attempts > 0 {
					fmt.Fprintln(cmd.OutOrStdout(), outcome.Render())
				}
				if err != nil {
					return err
				}
				if !outcome.Success {
					return &exitError{code: 1}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&extra, "context", "", "Extra context passed to the model with each failure")
	return cmd
}
