// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/errors"
)

func createNewTool(reg *capability.Registry) capability.Capability {
	return capability.Capability{
		Name:        "create_new_tool",
		Description: "Write Go source for a new tool, load it and register it so it can be called right away",
		Parameters: capability.Schema{
			"name":        {Type: "string", Description: "Tool name (snake_case)"},
			"description": {Type: "string", Description: "What the tool does"},
			"code": {Type: "string", Description: "Go source defining a function named like the tool " +
				"(snake_case or CamelCase) or Run, taking map[string]any and returning (any, error) or string"},
			"parameters": {Type: "object", Description: "Parameter schema: name -> {type, description}, {} for none"},
		},
		Handler: func(ctx context.Context, args capability.Args) (any, error) {
			name, err := stringArg(args, "name")
			if err != nil {
				return nil, err
			}
			desc, err := stringArg(args, "description")
			if err != nil {
				return nil, err
			}
			code, err := stringArg(args, "code")
			if err != nil {
				return nil, err
			}
			schema, err := ParseSchema(args["parameters"])
			if err != nil {
				return nil, err
			}
			name = strings.TrimSpace(name)
			if err := reg.SynthesizeCapability(ctx, name, desc, code, schema); err != nil {
				return nil, err
			}
			return fmt.Sprintf("Tool '%s' created and registered", name), nil
		},
	}
}

// ParseSchema converts a model-supplied parameter description into a
// Schema. It accepts an object or its JSON text. Each entry is either
// {"type": ..., "description": ...} or a bare description string.
func ParseSchema(v any) (capability.Schema, error) {
	schema := capability.Schema{}
	switch raw := v.(type) {
	case nil:
		return schema, nil
	case string:
		if strings.TrimSpace(raw) == "" {
			return schema, nil
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "parameters must be a JSON object", err)
		}
		return ParseSchema(decoded)
	case map[string]any:
		// A full JSON schema object carries its parameters under properties.
		if props, ok := raw["properties"].(map[string]any); ok && raw["type"] == "object" {
			raw = props
		}
		for name, entry := range raw {
			switch e := entry.(type) {
			case string:
				schema[name] = capability.Param{Type: "string", Description: e}
			case map[string]any:
				typ, _ := e["type"].(string)
				desc, _ := e["description"].(string)
				schema[name] = capability.Param{Type: typ, Description: desc}
			default:
				return nil, errors.Newf(errors.CodeInvalidInput, "parameter %q must be an object or a string", name)
			}
		}
		return schema, nil
	default:
		return nil, errors.Newf(errors.CodeInvalidInput, "parameters must be an object, got %T", v)
	}
}
