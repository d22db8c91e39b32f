// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/jllopis/ergon/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ergon runs the CLI in dir with the offline provider and returns stdout,
// stderr and the command error.
func ergon(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()
	base := []string{
		"--log-level", "error",
		"--set", "llm.provider=mock",
		"--set", "capabilities.dynamic_dir=" + filepath.Join(dir, "tools"),
		"--set", "capabilities.skills_dir=" + filepath.Join(dir, "skills"),
	}
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&globalFlags{})
	root.SetArgs(append(base, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(""))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func requirePOSIX(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell commands")
	}
}

func TestToolsList(t *testing.T) {
	out, _, err := ergon(t, t.TempDir(), "tools", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "read_file")
	assert.Contains(t, out, "create_new_tool")
	assert.Contains(t, out, "agent_spawn")
}

func TestToolsListJSON(t *testing.T) {
	out, _, err := ergon(t, t.TempDir(), "--json", "tools", "list")
	require.NoError(t, err)

	var rows []toolRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
	}
	assert.Contains(t, names, "write_file")
}

func TestToolsCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	out, _, err := ergon(t, dir, "tools", "call", "read_file", "--args", `{"path":"`+filepath.ToSlash(path)+`"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestToolsCallErrors(t *testing.T) {
	_, _, err := ergon(t, t.TempDir(), "tools", "call", "missing")
	assert.True(t, errors.HasCode(err, errors.CodeUnknownCapability), "got %v", err)

	_, _, err = ergon(t, t.TempDir(), "tools", "call", "read_file", "--args", "not json")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput), "got %v", err)
}

func TestSynthPersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shout.go")
	require.NoError(t, os.WriteFile(src, []byte(`import "strings"

func Shout(args map[string]interface{}) (interface{}, error) {
	return strings.ToUpper(args["text"].(string)), nil
}
`), 0o644))

	out, _, err := ergon(t, dir, "synth", "--name", "shout", "--description", "Upper-case text",
		"--file", src, "--params", `{"text":{"type":"string","description":"Text to shout"}}`)
	require.NoError(t, err)
	assert.Equal(t, "Tool 'shout' created and registered\n", out)

	out, _, err = ergon(t, dir, "tools", "call", "shout", "--args", `{"text":"hey"}`)
	require.NoError(t, err)
	assert.Equal(t, "HEY\n", out)
}

func TestSynthMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, _, err := ergon(t, dir, "synth", "--name", "x", "--file", filepath.Join(dir, "absent.go"))
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput), "got %v", err)
}

func TestDelegate(t *testing.T) {
	out, _, err := ergon(t, t.TempDir(), "--json", "delegate", "--role", "tester", "write", "tests")
	require.NoError(t, err)

	var res delegateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "tester", res.Role)
	assert.Regexp(t, `^agent_[0-9a-f]{8}$`, res.AgentID)
	assert.Equal(t, "write tests", res.Answer)
}

func TestExec(t *testing.T) {
	requirePOSIX(t)
	out, _, err := ergon(t, t.TempDir(), "exec", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	_, _, err = ergon(t, t.TempDir(), "exec", "exit 3")
	var exit *exitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 3, exit.code)
}

func TestExecBlocked(t *testing.T) {
	_, _, err := ergon(t, t.TempDir(), "exec", "rm -rf /")
	assert.True(t, errors.HasCode(err, errors.CodeCommandBlocked), "got %v", err)
}

func TestExecJSON(t *testing.T) {
	requirePOSIX(t)
	out, _, err := ergon(t, t.TempDir(), "--json", "exec", "echo hi")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var first, last eventJSON
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	assert.Equal(t, eventJSON{Type: "stdout", Line: "hi"}, first)
	require.NotNil(t, last.Code)
	assert.Equal(t, 0, *last.Code)
}

func TestRunSuccess(t *testing.T) {
	requirePOSIX(t)
	out, _, err := ergon(t, t.TempDir(), "run", "echo done")
	require.NoError(t, err)
	assert.Contains(t, out, "Success (attempts: 1)")
	assert.Contains(t, out, "done")
}

func TestExplain(t *testing.T) {
	out, _, err := ergon(t, t.TempDir(), "--json", "explain")
	require.NoError(t, err)

	var res explainResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "mock", res.LLM.Provider)
	assert.Positive(t, res.Capabilities.BySource["builtin"])
	assert.Contains(t, res.Roles, "security")
	assert.Equal(t, "memory", res.Audit.Backend)
}

func TestMCPListWithoutServers(t *testing.T) {
	out, _, err := ergon(t, t.TempDir(), "--json", "mcp", "list")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestBadOverride(t *testing.T) {
	_, _, err := ergon(t, t.TempDir(), "--set", "novalue", "tools", "list")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput), "got %v", err)
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 7, report(&buf, &exitError{code: 7}, false))
	assert.Empty(t, buf.String())

	code := report(&buf, errors.New(errors.CodeUnknownCapability, "unknown capability \"x\"", nil), false)
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "Error [UNKNOWN_CAPABILITY]")
	assert.Contains(t, buf.String(), "ergon tools list")

	buf.Reset()
	report(&buf, NewInvalidArgumentError("--args", "bad"), true)
	var payload map[string]map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, "INVALID_INPUT", payload["error"]["code"])
	assert.Equal(t, "run 'ergon help' for usage information", payload["error"]["hint"])
}

func TestNormalizeCell(t *testing.T) {
	assert.Equal(t, "-", normalizeCell("  "))
	assert.Equal(t, "a b", normalizeCell(" a\n\tb "))
}
