// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the ergon command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/runtime"
	"github.com/jllopis/ergon/pkg/telemetry"
	"github.com/jllopis/ergon/providers"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every command.
type globalFlags struct {
	ConfigPath string
	Profile    string
	Overrides  []string
	LogLevel   string
	JSON       bool
}

func (g *globalFlags) options() (config.Options, error) {
	opts := config.Options{
		Path:      g.ConfigPath,
		Profile:   g.Profile,
		Overrides: map[string]string{},
	}
	for _, kv := range g.Overrides {
		if err := config.ParseOverride(opts.Overrides, kv); err != nil {
			return config.Options{}, NewInvalidArgumentError("--set", err.Error())
		}
	}
	if g.LogLevel != "" {
		opts.Overrides["log.level"] = g.LogLevel
	}
	return opts, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	flags := &globalFlags{}
	root := newRootCmd(flags)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(report(os.Stderr, err, flags.JSON))
	}
}

func newRootCmd(flags *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "ergon",
		Short: "Self-extending agent execution substrate",
		Long: `Ergon runs shell commands with model-guided self-correction, hosts
capabilities that can be synthesized at runtime, and delegates tasks to
role-specialized sub-agents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "Path to the YAML configuration file")
	pf.StringVar(&flags.Profile, "profile", "", "Configuration profile overlay (config.<profile>.yaml)")
	pf.StringArrayVar(&flags.Overrides, "set", nil, "Override a configuration key (key=value, repeatable)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&flags.JSON, "json", false, "Print machine-readable JSON")

	root.AddCommand(
		newExecCmd(flags),
		newRunCmd(flags),
		newToolsCmd(flags),
		newSynthCmd(flags),
		newDelegateCmd(flags),
		newMCPCmd(flags),
		newExplainCmd(flags),
	)
	return root
}

// loadConfig resolves the configuration described by the global flags.
func loadConfig(flags *globalFlags) (*config.Config, config.Options, error) {
	opts, err := flags.options()
	if err != nil {
		return nil, opts, err
	}
	cfg, err := config.LoadWith(opts)
	if err != nil {
		return nil, opts, NewConfigError(err, opts.Path)
	}
	return cfg, opts, nil
}

// withRuntime loads configuration, builds and starts a runtime, runs fn,
// and stops the runtime. Logs go to stderr so stdout stays parseable.
func withRuntime(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *runtime.Runtime, *config.Config) error) error {
	cfg, _, err := loadConfig(flags)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if err := rt.Start(cmd.Context()); err != nil {
		_ = rt.Stop(context.Background())
		return err
	}
	defer func() {
		if err := rt.Stop(context.Background()); err != nil {
			rt.Logger().Warn("runtime.stop.error", slog.String("error", err.Error()))
		}
	}()
	return fn(cmd.Context(), rt, cfg)
}

func buildRuntime(ctx context.Context, cfg *config.Config, logOut io.Writer) (*runtime.Runtime, error) {
	logger := telemetry.ConfigureSlog(logOut, cfg.Log.Level, cfg.Log.Format)
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, err
	}
	opts := []runtime.Option{runtime.WithLogger(logger), runtime.WithMetrics(metrics)}
	factory, err := providers.NewFactory(ctx, cfg.LLM, providers.WithLogger(logger), providers.WithMetrics(metrics))
	if err != nil {
		logger.Warn("cli.llm.unavailable", slog.String("provider", cfg.LLM.Provider), slog.String("error", err.Error()))
	} else {
		opts = append(opts, runtime.WithFactory(factory))
	}
	return runtime.New(ctx, cfg, opts...)
}

func printJSON(w io.Writer, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}

func writeRow(w io.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(w, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}
