// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/resilience"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DefaultCodeTimeout bounds an execute_code evaluation when Deps sets none.
const DefaultCodeTimeout = 10 * time.Second

func executeCode(timeout time.Duration) capability.Capability {
	return capability.Capability{
		Name: "execute_code",
		Description: "Evaluate a Go snippet in a sandboxed interpreter and return what it prints. " +
			"Send plain statements, or imports plus a func main",
		Parameters: capability.Schema{
			"code": {Type: "string", Description: "Go statements, or a program with imports and func main"},
		},
		Handler: func(ctx context.Context, args capability.Args) (any, error) {
			code, err := stringArg(args, "code")
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(code) == "" {
				return errorText("no code given"), nil
			}
			return evalSnippet(ctx, code, timeout), nil
		},
	}
}

// evalSnippet runs code in a fresh interpreter. Failures come back as
// "Error: ..." text with whatever the snippet printed before failing.
func evalSnippet(ctx context.Context, code string, timeout time.Duration) string {
	var out bytes.Buffer
	i := interp.New(interp.Options{Stdout: &out, Stderr: &out})
	if err := i.Use(stdlib.Symbols); err != nil {
		return errorText("load stdlib: %v", err)
	}

	res, err := resilience.WithTimeout(ctx, timeout, func(ctx context.Context) (reflect.Value, error) {
		return i.EvalWithContext(ctx, code)
	})
	switch {
	case errors.HasCode(err, errors.CodeTimeout) || stderrors.Is(err, context.DeadlineExceeded):
		return errorText("execution exceeded %s", timeout)
	case ctx.Err() != nil:
		return errorText("execution interrupted: %v", ctx.Err())
	case err != nil:
		return withOutput(out.String(), errorText("%v", err))
	}

	text := out.String()
	if text == "" && res.IsValid() && res.Kind() != reflect.Func && res.CanInterface() {
		text = fmt.Sprint(res.Interface())
	}
	if text == "" {
		return "(no output)"
	}
	return text
}

func withOutput(printed, msg string) string {
	if printed == "" {
		return msg
	}
	return printed + "\n" + msg
}
