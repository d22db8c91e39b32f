// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package synth loads synthesized Go source into capability handlers using
// the yaegi interpreter. Loaded code runs in-process with full stdlib
// access; it is not sandboxed.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

var packageClause = regexp.MustCompile(`(?m)^\s*package\s+([A-Za-z_][A-Za-z0-9_]*)`)

// FallbackEntryPoints are tried, in order, after the capability name and
// its CamelCase form.
var FallbackEntryPoints = []string{"Run", "RunTool"}

// YaegiLoader interprets capability source and binds its entry point.
type YaegiLoader struct {
	// GoPath is passed to the interpreter for resolving non-stdlib imports.
	GoPath string
}

// NewYaegiLoader returns a loader with default options.
func NewYaegiLoader() *YaegiLoader {
	return &YaegiLoader{}
}

// Load implements capability.Loader. Each call uses a fresh interpreter,
// so reloading a capability never sees state from a previous version.
func (l *YaegiLoader) Load(_ context.Context, p capability.Pending) (capability.Handler, error) {
	i := interp.New(interp.Options{GoPath: l.GoPath})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, errors.New(errors.CodeLoadError, "load stdlib symbols", err)
	}

	pkg, src := wrapSource(p.Source)
	if _, err := evalSafe(i, src); err != nil {
		return nil, errors.New(errors.CodeLoadError, "evaluate source for "+p.Name, err).
			WithContext("capability", p.Name).
			WithContext("path", p.Path)
	}

	for _, entry := range EntryPoints(p.Name) {
		v, err := evalSafe(i, pkg+"."+entry)
		if err != nil || !v.IsValid() {
			continue
		}
		h, err := adapt(v.Interface())
		if err != nil {
			return nil, errors.New(errors.CodeLoadError, "entry point "+entry+" has unsupported signature", err).
				WithContext("capability", p.Name)
		}
		return h, nil
	}
	return nil, errors.New(errors.CodeEntryPointMissing, "no entry point found for "+p.Name, nil).
		WithContext("capability", p.Name).
		WithContext("candidates", EntryPoints(p.Name))
}

// EntryPoints lists the function names tried for a capability, in order.
func EntryPoints(name string) []string {
	candidates := []string{name}
	if camel := CamelCase(name); camel != name {
		candidates = append(candidates, camel)
	}
	return append(candidates, FallbackEntryPoints...)
}

// CamelCase converts snake_case to CamelCase: slugify_text -> SlugifyText.
func CamelCase(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// wrapSource returns the package name to resolve symbols in and the
// source to evaluate, adding a package clause when none is present.
func wrapSource(src string) (string, string) {
	if m := packageClause.FindStringSubmatch(src); m != nil {
		return m[1], src
	}
	return "main", "package main\n\n" + src
}

// evalSafe evaluates src, turning interpreter panics into errors.
func evalSafe(i *interp.Interpreter, src string) (v reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interpreter panic: %v", r)
		}
	}()
	return i.Eval(src)
}

// adapt converts a supported entry point signature into a Handler.
func adapt(fn any) (capability.Handler, error) {
	switch f := fn.(type) {
	case func(map[string]interface{}) (interface{}, error):
		return guard(func(_ context.Context, args capability.Args) (any, error) {
			return f(args)
		}), nil
	case func(map[string]interface{}) (string, error):
		return guard(func(_ context.Context, args capability.Args) (any, error) {
			return f(args)
		}), nil
	case func(context.Context, map[string]interface{}) (interface{}, error):
		return guard(func(ctx context.Context, args capability.Args) (any, error) {
			return f(ctx, args)
		}), nil
	case func(string) (string, error):
		return guard(func(_ context.Context, args capability.Args) (any, error) {
			input, err := json.Marshal(args)
			if err != nil {
				return nil, errors.New(errors.CodeInvalidInput, "encode arguments", err)
			}
			return f(string(input))
		}), nil
	default:
		return nil, fmt.Errorf("got %T", fn)
	}
}

// guard runs h in its own goroutine so a blocked or panicking interpreted
// function cannot hold the caller past ctx.
func guard(h capability.Handler) capability.Handler {
	return func(ctx context.Context, args capability.Args) (any, error) {
		type result struct {
			v   any
			err error
		}
		done := make(chan result, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- result{err: fmt.Errorf("synthesized capability panicked: %v", r)}
				}
			}()
			v, err := h(ctx, args)
			done <- result{v: v, err: err}
		}()
		select {
		case res := <-done:
			return res.v, res.err
		case <-ctx.Done():
			return nil, errors.New(errors.CodeTimeout, "synthesized capability interrupted", ctx.Err())
		}
	}
}
