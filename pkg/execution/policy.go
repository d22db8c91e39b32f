// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package execution

import (
	"regexp"
	"strings"
)

// DefaultDenySubstrings are rejected wherever they appear in a command.
var DefaultDenySubstrings = []string{"rm -rf /", "format", "del /s /q", "rd /s /q"}

// DefaultDenyPatterns catch destructive commands the literal list misses.
var DefaultDenyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
	regexp.MustCompile(`\brm\s+-(?:[a-z]*r[a-z]*f|[a-z]*f[a-z]*r)[a-z]*\s+(?:--no-preserve-root\s+)?/\s*(?:$|[;&|*])`),
	regexp.MustCompile(`\bmkfs(?:\.[a-z0-9_-]+)?\b`),
	regexp.MustCompile(`\bdd\b[^\n]*\bof=/dev/`),
}

// Policy decides whether a command may be launched.
type Policy struct {
	substrings []string
	patterns   []*regexp.Regexp
}

// NewPolicy returns the default deny-list extended with extra substrings.
func NewPolicy(extra ...string) *Policy {
	p := &Policy{
		substrings: append([]string(nil), DefaultDenySubstrings...),
		patterns:   append([]*regexp.Regexp(nil), DefaultDenyPatterns...),
	}
	for _, s := range extra {
		if s = strings.TrimSpace(s); s != "" {
			p.substrings = append(p.substrings, s)
		}
	}
	return p
}

// AllowAll returns a policy that blocks nothing.
func AllowAll() *Policy {
	return &Policy{}
}

// Check returns the matched rule and true when command must be blocked.
func (p *Policy) Check(command string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, s := range p.substrings {
		if strings.Contains(command, s) {
			return s, true
		}
	}
	lower := strings.ToLower(command)
	for _, re := range p.patterns {
		if re.MatchString(lower) {
			return re.String(), true
		}
	}
	return "", false
}
