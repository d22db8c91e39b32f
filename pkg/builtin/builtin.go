// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package builtin registers the capabilities available at startup: file
// operations, code evaluation, terminal execution, sub-agent control and
// capability synthesis.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/ergon/pkg/agents"
	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/llm"
	"github.com/jllopis/ergon/pkg/remediation"
	"github.com/jllopis/ergon/pkg/skills"
)

// Terminal runs a command and renders its merged output for a model.
type Terminal interface {
	RunTerminal(ctx context.Context, command string) string
}

// Retrier runs a command through the self-correcting loop.
type Retrier interface {
	Run(ctx context.Context, command, extraContext string) (remediation.Outcome, error)
}

// Deps are the collaborators built-ins dispatch to. Nil members leave the
// corresponding capabilities unregistered.
type Deps struct {
	Terminal Terminal
	Retrier  Retrier
	Agents   *agents.Manager
	Factory  llm.Factory
	Skills   []skills.Skill

	// CodeTimeout bounds execute_code; zero means DefaultCodeTimeout.
	CodeTimeout time.Duration
}

// Register adds every built-in backed by deps to reg.
func Register(ctx context.Context, reg *capability.Registry, deps Deps) error {
	caps := fileCapabilities()
	codeTimeout := deps.CodeTimeout
	if codeTimeout <= 0 {
		codeTimeout = DefaultCodeTimeout
	}
	caps = append(caps, executeCode(codeTimeout))
	if deps.Terminal != nil {
		caps = append(caps, terminalRun(deps.Terminal))
	}
	if deps.Retrier != nil {
		caps = append(caps, autonomousTerminalRun(deps.Retrier))
	}
	if deps.Agents != nil && deps.Factory != nil {
		caps = append(caps, agentCapabilities(deps.Agents, deps.Factory)...)
	}
	caps = append(caps, createNewTool(reg))
	if len(deps.Skills) > 0 {
		caps = append(caps, skillsPrompt(deps.Skills))
	}

	for _, c := range caps {
		c.Source = capability.SourceBuiltin
		if err := reg.RegisterCapability(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func skillsPrompt(list []skills.Skill) capability.Capability {
	prompt := skills.Prompt(list)
	return capability.Capability{
		Name:        "skills",
		Description: "Return the instructions of every installed skill",
		Parameters:  capability.Schema{},
		Handler: func(context.Context, capability.Args) (any, error) {
			return prompt, nil
		},
	}
}

// stringArg returns args[name] as a string. Missing or non-string values
// are INVALID_INPUT.
func stringArg(args capability.Args, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", errors.Newf(errors.CodeInvalidInput, "missing argument %q", name).WithContext("argument", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Newf(errors.CodeInvalidInput, "argument %q must be a string, got %T", name, v).
			WithContext("argument", name)
	}
	return s, nil
}

func optionalStringArg(args capability.Args, name, fallback string) (string, error) {
	if v, ok := args[name]; !ok || v == nil {
		return fallback, nil
	}
	s, err := stringArg(args, name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return fallback, nil
	}
	return s, nil
}

func errorText(format string, a ...any) string {
	return "Error: " + fmt.Sprintf(format, a...)
}
