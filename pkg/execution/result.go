// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package execution

import (
	"context"
	"strings"
)

// Result is the accumulated outcome of one Execute call.
type Result struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
	// Err is set when the sequence ended with an error event.
	Err     error
	Message string
}

// Success reports whether the command exited with code 0.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Collect drains events into a Result. Combined keeps arrival order.
func Collect(events <-chan Event) Result {
	var (
		res                      Result
		stdout, stderr, combined strings.Builder
	)
	res.ExitCode = -1
	for ev := range events {
		switch ev.Type {
		case EventStdout:
			stdout.WriteString(ev.Line + "\n")
			combined.WriteString(ev.Line + "\n")
		case EventStderr:
			stderr.WriteString(ev.Line + "\n")
			combined.WriteString(ev.Line + "\n")
		case EventExit:
			res.ExitCode = ev.Code
			res.Message = ev.Message
		case EventError:
			res.Err = ev.Err
			res.Message = ev.Message
		}
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Combined = combined.String()
	return res
}

// Run executes command and collects its result.
func (e *Executor) Run(ctx context.Context, command string) Result {
	return Collect(e.Execute(ctx, command))
}

// RunTerminal executes command and renders it for a model: the combined
// output, or "ERROR: <message>" when the run ended with an error event.
func (e *Executor) RunTerminal(ctx context.Context, command string) string {
	res := e.Run(ctx, command)
	if res.Err != nil {
		return "ERROR: " + res.Message
	}
	return res.Combined
}
