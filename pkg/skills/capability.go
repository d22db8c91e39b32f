// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/errors"
)

// Actions accepted by a skill capability.
const (
	ActionActivate      = "activate"
	ActionLoadResource  = "load_resource"
	ActionListResources = "list_resources"
)

var resourceDirs = []string{"scripts", "references", "assets"}

// Response is returned when a skill is activated.
type Response struct {
	Name         string   `json:"name"`
	Instructions string   `json:"instructions"`
	Resources    []string `json:"resources,omitempty"`
}

// Schema is the parameter schema shared by every skill capability.
var Schema = capability.Schema{
	"action": {
		Type:        "string",
		Description: "activate to get the instructions, load_resource to read a bundled file, list_resources to see bundled files",
	},
	"resource": {
		Type:        "string",
		Description: "Resource path relative to the skill directory, empty unless action is load_resource",
	},
}

// Capability exposes s to the model. The model sees the description up
// front and receives the body only when it activates the skill.
func Capability(s Skill) capability.Capability {
	return capability.Capability{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  Schema,
		Source:      capability.SourceSkill,
		Handler: func(_ context.Context, args capability.Args) (any, error) {
			action, _ := args["action"].(string)
			switch strings.TrimSpace(action) {
			case "", ActionActivate:
				return Response{Name: s.Name, Instructions: s.Body, Resources: s.Resources()}, nil
			case ActionLoadResource:
				resource, _ := args["resource"].(string)
				return s.LoadResource(resource)
			case ActionListResources:
				return s.Resources(), nil
			default:
				return nil, errors.Newf(errors.CodeInvalidInput, "unknown skill action %q", action)
			}
		},
	}
}

// Register loads every skill under dir into reg and returns the skills
// registered.
func Register(ctx context.Context, reg *capability.Registry, dir string) ([]Skill, error) {
	loaded, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for i, s := range loaded {
		if err := reg.RegisterCapability(ctx, Capability(s)); err != nil {
			return loaded[:i], err
		}
	}
	return loaded, nil
}

// Prompt renders the instructions of all skills as a system prompt section.
func Prompt(list []Skill) string {
	if len(list) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("### Available skills\n")
	for _, s := range list {
		fmt.Fprintf(&b, "\n#### Skill: %s\n%s\n", s.Name, s.Body)
	}
	return b.String()
}

// Resources lists the files bundled with s.
func (s Skill) Resources() []string {
	var out []string
	for _, sub := range resourceDirs {
		entries, err := os.ReadDir(filepath.Join(s.Dir, sub))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				out = append(out, filepath.ToSlash(filepath.Join(sub, entry.Name())))
			}
		}
	}
	return out
}

// LoadResource reads a bundled file. Paths escaping the skill directory
// are rejected.
func (s Skill) LoadResource(resource string) (string, error) {
	if strings.TrimSpace(resource) == "" {
		return "", errors.New(errors.CodeInvalidInput, "resource path is required", nil)
	}
	clean := filepath.Clean(resource)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New(errors.CodeInvalidInput, "resource path outside skill directory", nil).
			WithContext("resource", resource)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, clean))
	if err != nil {
		return "", errors.New(errors.CodeNotFound, "load skill resource", err).WithContext("resource", resource)
	}
	return string(data), nil
}
