// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills loads SKILL.md instruction bundles and exposes each one as
// a capability the model can activate.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jllopis/ergon/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileName is the instruction file expected in every skill directory.
const FileName = "SKILL.md"

// Skill is a parsed SKILL.md.
type Skill struct {
	Name          string
	Description   string
	License       string
	Compatibility string
	Metadata      map[string]string
	AllowedTools  []string
	Body          string
	Path          string
	Dir           string
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
	maxCompatLen      = 500
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// LoadDir scans root for subdirectories holding a SKILL.md, sorted by
// directory name. A missing root yields no skills.
func LoadDir(root string) ([]Skill, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(errors.CodeLoadError, "read skills directory", err).WithContext("dir", root)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), FileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		skill, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, skill)
	}
	return out, nil
}

// LoadFile parses a single SKILL.md. Files without frontmatter are accepted
// and take their name from the directory.
func LoadFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, errors.New(errors.CodeLoadError, "read skill", err).WithContext("path", path)
	}
	dir := filepath.Dir(path)
	fm, body, ok := splitFrontmatter(string(data))
	if !ok {
		name := filepath.Base(dir)
		return Skill{
			Name:        name,
			Description: fmt.Sprintf("Instructions for %s.", name),
			Body:        strings.TrimSpace(string(data)),
			Path:        path,
			Dir:         dir,
		}, nil
	}

	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return Skill{}, errors.New(errors.CodeLoadError, "parse skill frontmatter", err).WithContext("path", path)
	}
	allowed, err := normalizeAllowedTools(parsed.AllowedTools)
	if err != nil {
		return Skill{}, errors.New(errors.CodeLoadError, err.Error(), nil).WithContext("path", path)
	}
	skill := Skill{
		Name:          strings.TrimSpace(parsed.Name),
		Description:   strings.TrimSpace(parsed.Description),
		License:       parsed.License,
		Compatibility: parsed.Compatibility,
		Metadata:      parsed.Metadata,
		AllowedTools:  allowed,
		Body:          body,
		Path:          path,
		Dir:           dir,
	}
	if err := validate(skill); err != nil {
		return Skill{}, errors.New(errors.CodeLoadError, err.Error(), nil).WithContext("path", path)
	}
	return skill, nil
}

type frontmatter struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	License       string            `yaml:"license"`
	Compatibility string            `yaml:"compatibility"`
	Metadata      map[string]string `yaml:"metadata"`
	AllowedTools  any               `yaml:"allowed-tools"`
}

func splitFrontmatter(content string) (string, string, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", false
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), true
}

func validate(s Skill) error {
	switch {
	case s.Name == "":
		return fmt.Errorf("name is required")
	case utf8.RuneCountInString(s.Name) > maxNameLen:
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	case !namePattern.MatchString(s.Name):
		return fmt.Errorf("name must match %s", namePattern.String())
	case filepath.Base(s.Dir) != s.Name:
		return fmt.Errorf("name must match directory name (%s)", filepath.Base(s.Dir))
	case s.Description == "":
		return fmt.Errorf("description is required")
	case utf8.RuneCountInString(s.Description) > maxDescriptionLen:
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	case utf8.RuneCountInString(strings.TrimSpace(s.Compatibility)) > maxCompatLen:
		return fmt.Errorf("compatibility exceeds %d characters", maxCompatLen)
	}
	return nil
}

func normalizeAllowedTools(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return dedupe(strings.Fields(sanitizeAllowed(v))), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("allowed-tools must be a string list")
			}
			out = append(out, sanitizeAllowed(str))
		}
		return dedupe(out), nil
	default:
		return nil, fmt.Errorf("allowed-tools must be a string or a list")
	}
}

var allowedReplacer = strings.NewReplacer("( ", "(", " )", ")", ": ", ":", " :", ":")

func sanitizeAllowed(input string) string {
	return allowedReplacer.Replace(strings.TrimSpace(input))
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
