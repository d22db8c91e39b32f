// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"bufio"
	"regexp"
	"strings"
)

const (
	headerDescription = "//ergon:description"
	headerParam       = "//ergon:param"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidName reports whether name is usable as a synthesized capability
// name. Valid names are also safe file names.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// EncodeSource prefixes source with header comments carrying the
// description and parameter schema, so the file can be restored later.
// Existing header lines in source are replaced.
func EncodeSource(description string, schema Schema, source string) string {
	var b strings.Builder
	if description != "" {
		b.WriteString(headerDescription + " " + oneLine(description) + "\n")
	}
	for _, name := range schema.Keys() {
		p := schema[name]
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		b.WriteString(headerParam + " " + name + " " + typ)
		if p.Description != "" {
			b.WriteString(" " + oneLine(p.Description))
		}
		b.WriteString("\n")
	}
	b.WriteString(stripHeaders(source))
	return b.String()
}

// DecodeSource reads the header comments written by EncodeSource.
func DecodeSource(source string) (string, Schema) {
	var description string
	schema := Schema{}
	sc := bufio.NewScanner(strings.NewReader(source))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, headerDescription):
			description = strings.TrimSpace(strings.TrimPrefix(line, headerDescription))
		case strings.HasPrefix(line, headerParam):
			fields := strings.Fields(strings.TrimPrefix(line, headerParam))
			if len(fields) < 2 {
				continue
			}
			schema[fields[0]] = Param{
				Type:        fields[1],
				Description: strings.Join(fields[2:], " "),
			}
		}
	}
	return description, schema
}

func stripHeaders(source string) string {
	lines := strings.Split(source, "\n")
	out := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, headerDescription) || strings.HasPrefix(trimmed, headerParam) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
