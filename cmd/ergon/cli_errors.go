// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/ergon/pkg/errors"
)

// CLIError wraps ErgonError with a hint for the user.
type CLIError struct {
	*errors.ErgonError
	Hint string
}

// NewCLIError creates a CLI error.
func NewCLIError(ee *errors.ErgonError, hint string) *CLIError {
	return &CLIError{ErgonError: ee, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.ErgonError == nil {
		return "unknown error"
	}
	msg := e.ErgonError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the underlying ErgonError to errors.Is and HasCode.
func (e *CLIError) Unwrap() error {
	return e.ErgonError
}

// NewInvalidArgumentError reports a bad flag or argument.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	ee := errors.New(errors.CodeInvalidInput, "invalid argument: "+reason, nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(ee, "run 'ergon help' for usage information")
}

// NewConfigError reports a configuration that cannot be loaded.
func NewConfigError(err error, configPath string) *CLIError {
	ee := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)
	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(ee, hint)
}

// exitError carries a child process exit code to main.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// hintFor suggests a next step for well-known failures.
func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeUnknownCapability:
		return "run 'ergon tools list' to see registered capabilities"
	case errors.CodeCommandBlocked:
		return "the command matched the deny-list; see execution.deny in the configuration"
	case errors.CodeLLMError:
		return "check the llm section of the configuration and the provider credentials"
	case errors.CodeEntryPointMissing:
		return "define a function named after the capability or a Run function"
	default:
		return ""
	}
}

// report prints err to w and returns the process exit code.
func report(w io.Writer, err error, asJSON bool) int {
	var exit *exitError
	if stderrors.As(err, &exit) {
		return exit.code
	}

	msg, hint := err.Error(), ""
	var cli *CLIError
	if stderrors.As(err, &cli) && cli.ErgonError != nil {
		msg, hint = cli.ErgonError.Error(), cli.Hint
	}
	code := errors.CodeOf(err)
	if hint == "" {
		hint = hintFor(code)
	}
	if code == "" {
		code = "UNKNOWN"
	}

	if asJSON {
		payload, _ := json.Marshal(map[string]any{
			"error": map[string]string{"code": string(code), "message": msg, "hint": hint},
		})
		fmt.Fprintln(w, string(payload))
		return 1
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", code, msg)
	if hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", hint)
	}
	return 1
}
