// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package agents

import (
	"fmt"
	"sort"
	"strings"
)

// BuiltinRoles maps well-known role names to their system instructions.
var BuiltinRoles = map[string]string{
	"security": "You are a cybersecurity analyst specialized in code auditing and vulnerability " +
		"prevention (OWASP). Review the work you are given for security flaws and explain how to fix them.",
	"tester": "You are a QA and automated testing specialist. Focus on code coverage, edge cases " +
		"and stress testing.",
	"frontend": "You are a frontend engineer specialized in UI/UX and modern frameworks like React and Vue.",
	"database": "You are a DBA and data architect. Focus on query optimization and relational modeling.",
}

// Roles resolves role names to system instructions. Configured roles take
// precedence over BuiltinRoles.
type Roles struct {
	table map[string]string
}

// NewRoles merges custom into the built-in table. Keys are matched
// case-insensitively.
func NewRoles(custom map[string]string) Roles {
	table := make(map[string]string, len(BuiltinRoles)+len(custom))
	for k, v := range BuiltinRoles {
		table[k] = v
	}
	for k, v := range custom {
		k = normalizeRole(k)
		if k == "" || strings.TrimSpace(v) == "" {
			continue
		}
		table[k] = v
	}
	return Roles{table: table}
}

// Instruction returns the system instruction for role.
func (r Roles) Instruction(role string) string {
	if text, ok := r.table[normalizeRole(role)]; ok {
		return text
	}
	return fmt.Sprintf("You are a specialist in %s.", strings.TrimSpace(role))
}

// Known reports whether role has a dedicated instruction.
func (r Roles) Known(role string) bool {
	_, ok := r.table[normalizeRole(role)]
	return ok
}

// Names returns the known role names in order.
func (r Roles) Names() []string {
	names := make([]string, 0, len(r.table))
	for k := range r.table {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
