// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability holds the registry of named operations the model can
// invoke. Capabilities may be registered at any time, including ones whose
// source is synthesized and loaded after the process started.
package capability

import (
	"context"
	"sort"
)

// Source values describe where a capability came from.
const (
	SourceBuiltin = "builtin"
	SourceSynth   = "synth"
	SourceSkill   = "skill"
	SourceHost    = "host"
	SourceMCP     = "mcp"
)

// Args are the keyword arguments passed to a handler, forwarded verbatim.
type Args = map[string]any

// Handler runs a capability. Handlers may block on I/O and must honor ctx.
type Handler func(ctx context.Context, args Args) (any, error)

// Param describes one named parameter. Optional is kept for tools imported
// over MCP so the MCP server can publish them as the remote declared them;
// model declarations ignore it.
type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

// Schema maps parameter names to their descriptions.
type Schema map[string]Param

// Keys returns the parameter names sorted.
func (s Schema) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JSONSchema renders the schema as an object schema in which every declared
// parameter is required.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s))
	required := s.Keys()
	for _, name := range required {
		p := s[name]
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		prop := map[string]any{"type": typ}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[name] = prop
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Capability is an immutable registry entry.
type Capability struct {
	Name        string
	Description string
	Parameters  Schema
	Handler     Handler
	Source      string
	// Code is the loaded source text of synthesized capabilities.
	Code string
}

// Declaration is the model-facing description of a capability.
type Declaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Declaration renders c for the model.
func (c Capability) Declaration() Declaration {
	return Declaration{
		Name:        c.Name,
		Description: c.Description,
		Parameters:  c.Parameters.JSONSchema(),
	}
}

// Pending is a synthesized capability whose source has been written but
// not yet loaded.
type Pending struct {
	Name        string
	Description string
	Source      string
	Parameters  Schema
	Path        string
}

// Loader turns pending source into a handler bound to its entry point.
type Loader interface {
	Load(ctx context.Context, p Pending) (Handler, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, p Pending) (Handler, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, p Pending) (Handler, error) {
	return f(ctx, p)
}
