// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/runtime"
	"github.com/spf13/cobra"
)

// toolRow is one capability in `tools list --json`.
type toolRow struct {
	capability.Declaration
	Source string `json:"source"`
}

func newToolsCmd(flags *globalFlags) *cobra.Command {
	tools := &cobra.Command{
		Use:   "tools",
		Short: "List and call registered capabilities",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, flags, func(_ context.Context, rt *runtime.Runtime, _ *config.Config) error {
				all := rt.Registry().All()
				if flags.JSON {
					rows := make([]toolRow, 0, len(all))
					for _, c := range all {
						rows = append(rows, toolRow{Declaration: c.Declaration(), Source: c.Source})
					}
					return printJSON(cmd.OutOrStdout(), rows)
				}
				w := newTabWriter(cmd.OutOrStdout())
				writeRow(w, "NAME", "SOURCE", "DESCRIPTION")
				for _, c := range all {
					writeRow(w, c.Name, c.Source, c.Description)
				}
				return w.Flush()
			})
		},
	}

	var rawArgs string
	call := &cobra.Command{
		Use:   "call <name>",
		Short: "Dispatch a capability with JSON arguments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := parseArgs(rawArgs)
			if err != nil {
				return err
			}
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime.Runtime, _ *config.Config) error {
				out, err := rt.Dispatch(ctx, args[0], callArgs)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), out, flags.JSON)
			})
		},
	}
	call.Flags().StringVar(&rawArgs, "args", "{}", "Arguments as a JSON object")

	tools.AddCommand(list, call)
	return tools
}

func newSynthCmd(flags *globalFlags) *cobra.Command {
	var name, description, file, params string
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize a capability from Go source",
		Long: `Load Go source as a new capability and persist it in the dynamic
directory so it is restored on the next start. The source must define a
function named after the capability (snake_case or CamelCase) or Run.
Use --file - to read the source from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := readSource(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			args := capability.Args{"name": name, "description": description, "code": code}
			if params != "" {
				args["parameters"] = params
			}
			return withRuntime(cmd, flags, func(ctx context.Context, rt *runtime.Runtime, _ *config.Config) error {
				out, err := rt.Dispatch(ctx, "create_new_tool", args)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), out, flags.JSON)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Capability name")
	cmd.Flags().StringVar(&description, "description", "", "What the capability does")
	cmd.Flags().StringVar(&file, "file", "", "Go source file, or - for stdin")
	cmd.Flags().StringVar(&params, "params", "", "Parameter schema as JSON: {\"name\": {\"type\": ..., \"description\": ...}}")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func parseArgs(raw string) (capability.Args, error) {
	args := capability.Args{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, NewInvalidArgumentError("--args", "expected a JSON object: "+err.Error())
	}
	return args, nil
}

func readSource(stdin io.Reader, file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", NewInvalidArgumentError("--file", err.Error())
	}
	return string(data), nil
}

// printResult writes strings verbatim and everything else as JSON.
func printResult(w io.Writer, out any, asJSON bool) error {
	if s, ok := out.(string); ok && !asJSON {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	return printJSON(w, out)
}
