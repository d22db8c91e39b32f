// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"testing"
	"time"

	"github.com/jllopis/ergon/pkg/audit"
	"github.com/jllopis/ergon/pkg/capability"
	"github.com/jllopis/ergon/pkg/config"
	"github.com/jllopis/ergon/pkg/core"
	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/execution"
	"github.com/jllopis/ergon/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadWith(config.Options{})
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Capabilities.DynamicDir = filepath.Join(dir, "tools")
	cfg.Capabilities.SkillsDir = filepath.Join(dir, "skills")
	cfg.Audit.SQLitePath = filepath.Join(dir, "audit.db")
	cfg.Telemetry.Enabled = false
	cfg.MCP.Servers = nil
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mockFactory(responses ...string) llm.Factory {
	provider := llm.NewScriptedMockProvider(responses...)
	return func() llm.Collaborator { return llm.NewCollaborator(provider) }
}

func newRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	rt, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return rt
}

func TestNewWithoutFactory(t *testing.T) {
	rt := newRuntime(t, testConfig(t))
	names := rt.Registry().Names()
	for _, want := range []string{"read_file", "write_file", "list_files", "create_directory", "execute_code", "terminal_run", "create_new_tool"} {
		assert.Contains(t, names, want)
	}
	assert.NotContains(t, names, "autonomous_terminal_run")
	assert.NotContains(t, names, "agent_spawn")
	assert.Nil(t, rt.Agents())
	assert.IsType(t, &audit.MemoryStore{}, rt.Audit())

	_, err := rt.Run(context.Background(), "true", "")
	assert.True(t, errors.HasCode(err, errors.CodeLLMError))
	_, _, err = rt.Delegate(context.Background(), "security", "audit")
	assert.True(t, errors.HasCode(err, errors.CodeLLMError))
}

func TestNewWithFactory(t *testing.T) {
	rt := newRuntime(t, testConfig(t), WithFactory(mockFactory("No injection found.")))
	names := rt.Registry().Names()
	for _, want := range []string{"autonomous_terminal_run", "agent_spawn", "agent_delegate", "agent_list"} {
		assert.Contains(t, names, want)
	}

	id, answer, err := rt.Delegate(context.Background(), "security", "review login.go")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "No injection found.", answer)
	assert.Equal(t, 1, rt.Agents().Len())
}

func TestNewNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestNewRestoresAndLoadsSkills(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Capabilities.DynamicDir, 0o755))
	src := capability.EncodeSource("Double a number", capability.Schema{"n": {Type: "number"}},
		"func Double(args map[string]interface{}) (interface{}, error) {\n\treturn args[\"n\"].(float64) * 2, nil\n}\n")
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Capabilities.DynamicDir, "double.go"), []byte(src), 0o644))

	skillDir := filepath.Join(cfg.Capabilities.SkillsDir, "release")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"),
		[]byte("---\nname: release\ndescription: Cut a release.\n---\nTag, then publish."), 0o644))

	rt := newRuntime(t, cfg)

	out, err := rt.Dispatch(context.Background(), "double", capability.Args{"n": 21.0})
	require.NoError(t, err)
	assert.Equal(t, 42.0, out)

	c, ok := rt.Registry().Get("release")
	require.True(t, ok)
	assert.Equal(t, capability.SourceSkill, c.Source)
	require.Len(t, rt.Skills(), 1)
	assert.Contains(t, rt.Registry().Names(), "skills")
}

func TestDispatchUnknown(t *testing.T) {
	rt := newRuntime(t, testConfig(t))
	_, err := rt.Dispatch(context.Background(), "nope", nil)
	assert.True(t, errors.HasCode(err, errors.CodeUnknownCapability))
}

func TestReloadUpdatesDenyList(t *testing.T) {
	rt := newRuntime(t, testConfig(t))

	cfg := testConfig(t)
	cfg.Execution.Deny = []string{"deploy-prod"}
	rt.Reload(cfg)

	res := execution.Collect(rt.Exec(context.Background(), "deploy-prod --now"))
	assert.False(t, res.Success())
	assert.True(t, errors.HasCode(res.Err, errors.CodeCommandBlocked))
}

func TestExecAndRun(t *testing.T) {
	if goruntime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	rt := newRuntime(t, testConfig(t), WithFactory(mockFactory()))

	res := execution.Collect(rt.Exec(context.Background(), "echo hello"))
	require.True(t, res.Success())
	assert.Contains(t, res.Stdout, "hello")

	out, err := rt.Run(context.Background(), "echo again", "")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
}

func TestAgentSweeper(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agents.IdleTTL = 20 * time.Millisecond
	rec := &core.RecordingEmitter{}
	rt := newRuntime(t, cfg, WithFactory(mockFactory()), WithSweepInterval(10*time.Millisecond), WithEmitter(rec))

	_, err := rt.Agents().Spawn(context.Background(), "tester", mockFactory())
	require.NoError(t, err)
	require.NoError(t, rt.Start(context.Background()))

	require.Eventually(t, func() bool { return rt.Agents().Len() == 0 }, time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, rec.Events(core.EventAgentEvicted))
	require.NoError(t, rt.Stop(context.Background()))
}

func TestSweepEvery(t *testing.T) {
	rt := &Runtime{}
	assert.Zero(t, rt.sweepEvery())

	rt = newRuntime(t, testConfig(t), WithFactory(mockFactory()))
	assert.Zero(t, rt.sweepEvery())
	rt.cfg.Agents.IdleTTL = 10 * time.Minute
	assert.Equal(t, 5*time.Minute, rt.sweepEvery())
	rt.cfg.Agents.IdleTTL = 100 * time.Millisecond
	assert.Equal(t, minSweepInterval, rt.sweepEvery())
}

func TestStartSkipsUnreachableMCPServers(t *testing.T) {
	cfg := testConfig(t)
	cfg.MCP.Servers = []config.MCPServerConfig{{Name: "broken"}}
	rt := newRuntime(t, cfg)
	require.NoError(t, rt.Start(context.Background()))
	assert.Empty(t, rt.remotes)

	_, err := connectRemote(context.Background(), cfg.MCP.Servers[0])
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestMCPServerIsShared(t *testing.T) {
	rt := newRuntime(t, testConfig(t))
	s := rt.MCPServer()
	assert.Same(t, s, rt.MCPServer())
}

func TestSQLiteAudit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Enabled = true
	rt := newRuntime(t, cfg)
	require.IsType(t, &audit.SQLiteStore{}, rt.Audit())

	events, err := rt.Audit().List(context.Background(), audit.Filter{Capability: "read_file"})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}
