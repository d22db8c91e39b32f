// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected default provider ollama, got %s", cfg.LLM.Provider)
	}
	if cfg.Execution.MaxRetries != 3 {
		t.Errorf("expected default max_retries 3, got %d", cfg.Execution.MaxRetries)
	}
	if cfg.Execution.PollInterval != 100*time.Millisecond {
		t.Errorf("expected 100ms poll interval, got %v", cfg.Execution.PollInterval)
	}
	if cfg.Capabilities.DynamicDir != filepath.Join(".ergon", "tools") {
		t.Errorf("unexpected dynamic dir %s", cfg.Capabilities.DynamicDir)
	}
	if cfg.Capabilities.CodeTimeout != 10*time.Second {
		t.Errorf("expected 10s code timeout, got %v", cfg.Capabilities.CodeTimeout)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("ERGON_LLM_PROVIDER", "openai")
	t.Setenv("ERGON_LLM_BASE_URL", "http://proxy:8080")
	t.Setenv("ERGON_EXECUTION_MAX_RETRIES", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("expected provider openai from env, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.BaseURL != "http://proxy:8080" {
		t.Errorf("expected base_url from env, got %s", cfg.LLM.BaseURL)
	}
	if cfg.Execution.MaxRetries != 5 {
		t.Errorf("expected max_retries 5 from env, got %d", cfg.Execution.MaxRetries)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
execution:
  poll_interval: 250ms
  deny: ["curl | sh"]
agents:
  max_agents: 4
  idle_ttl: 10m
  roles:
    reviewer: "You review pull requests."
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Execution.PollInterval != 250*time.Millisecond {
		t.Errorf("unexpected poll interval %v", cfg.Execution.PollInterval)
	}
	if len(cfg.Execution.Deny) != 1 || cfg.Execution.Deny[0] != "curl | sh" {
		t.Errorf("unexpected deny list %v", cfg.Execution.Deny)
	}
	if cfg.Agents.MaxAgents != 4 || cfg.Agents.IdleTTL != 10*time.Minute {
		t.Errorf("unexpected agents config %+v", cfg.Agents)
	}
	if cfg.Agents.Roles["reviewer"] != "You review pull requests." {
		t.Errorf("unexpected roles %v", cfg.Agents.Roles)
	}
}

func TestLoadMCPServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
mcp:
  http_addr: ":8090"
  servers:
    - name: fs
      command: mcp-fs
      args: ["--root", "/tmp"]
    - name: search
      url: http://localhost:9000/mcp
      prefix: web
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MCP.HTTPAddr != ":8090" {
		t.Errorf("unexpected http addr %q", cfg.MCP.HTTPAddr)
	}
	if len(cfg.MCP.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.MCP.Servers))
	}
	fs := cfg.MCP.Servers[0]
	if fs.Command != "mcp-fs" || len(fs.Args) != 2 || fs.ToolPrefix() != "fs" {
		t.Errorf("unexpected stdio server %+v", fs)
	}
	search := cfg.MCP.Servers[1]
	if search.URL != "http://localhost:9000/mcp" || search.ToolPrefix() != "web" {
		t.Errorf("unexpected http server %+v", search)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "config.yaml")
	writeFile(t, basePath, `
llm:
  provider: "ollama"
  model: "llama3.1"
log:
  level: "info"
`)
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), `
llm:
  provider: "mock"
log:
  level: "debug"
`)

	tests := []struct {
		name         string
		profile      string
		wantProvider string
		wantLevel    string
	}{
		{"no profile", "", "ollama", "info"},
		{"dev profile", "dev", "mock", "debug"},
		{"missing profile falls back to base", "staging", "ollama", "info"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithProfile(basePath, tc.profile)
			if err != nil {
				t.Fatalf("LoadWithProfile failed: %v", err)
			}
			if cfg.LLM.Provider != tc.wantProvider {
				t.Errorf("provider: got %s, want %s", cfg.LLM.Provider, tc.wantProvider)
			}
			if cfg.Log.Level != tc.wantLevel {
				t.Errorf("log level: got %s, want %s", cfg.Log.Level, tc.wantLevel)
			}
			if cfg.LLM.Model != "llama3.1" {
				t.Errorf("model should come from base, got %s", cfg.LLM.Model)
			}
		})
	}
}

func TestLoadWithOverrides(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "config.yaml")
	writeFile(t, basePath, "llm:\n  provider: ollama\n")
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), "llm:\n  provider: gemini\n")
	t.Setenv("ERGON_EXECUTION_MAX_RETRIES", "5")

	cfg, err := LoadWith(Options{
		Path:    basePath,
		Profile: "dev",
		Overrides: map[string]string{
			"llm.provider":             "mock",
			"execution.max_retries":    "7",
			"capabilities.dynamic_dir": "/tmp/tools",
			"execution.poll_interval":  "250ms",
		},
	})
	if err != nil {
		t.Fatalf("LoadWith failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Errorf("override should beat the profile, got %s", cfg.LLM.Provider)
	}
	if cfg.Execution.MaxRetries != 7 {
		t.Errorf("override should beat the environment, got %d", cfg.Execution.MaxRetries)
	}
	if cfg.Capabilities.DynamicDir != "/tmp/tools" {
		t.Errorf("unexpected dynamic dir %s", cfg.Capabilities.DynamicDir)
	}
	if cfg.Execution.PollInterval != 250*time.Millisecond {
		t.Errorf("unexpected poll interval %s", cfg.Execution.PollInterval)
	}
}

func TestParseOverride(t *testing.T) {
	overrides := map[string]string{}
	if err := ParseOverride(overrides, " log.level =debug"); err != nil {
		t.Fatalf("ParseOverride failed: %v", err)
	}
	if err := ParseOverride(overrides, "llm.base_url=http://h:1/?a=b"); err != nil {
		t.Fatalf("ParseOverride failed: %v", err)
	}
	if overrides["log.level"] != "debug" || overrides["llm.base_url"] != "http://h:1/?a=b" {
		t.Errorf("unexpected overrides %v", overrides)
	}
	for _, kv := range []string{"", "novalue", "=x"} {
		if err := ParseOverride(overrides, kv); err == nil {
			t.Errorf("expected error for %q", kv)
		}
	}
}

func TestProfilePath(t *testing.T) {
	if got := ProfilePath("/etc/ergon/config.yaml", "prod"); got != "/etc/ergon/config.prod.yaml" {
		t.Fatalf("unexpected profile path %s", got)
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "execution:\n  max_retries: 2\n")

	w, err := NewWatcher(Options{Path: path}, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Config().Execution.MaxRetries != 2 {
		t.Fatalf("unexpected initial config")
	}

	var (
		mu  sync.Mutex
		got *Config
	)
	w.OnChange(func(c *Config) {
		mu.Lock()
		got = c
		mu.Unlock()
	})
	w.Start(context.Background())
	defer w.Stop()

	writeFile(t, path, "execution:\n  max_retries: 9\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := got != nil && got.Execution.MaxRetries == 9
		mu.Unlock()
		if done {
			if w.Config().Execution.MaxRetries != 9 {
				t.Fatalf("expected Config() to reflect reload")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("watcher did not reload")
}

func TestWatcherListenerMayRegisterAnother(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "execution:\n  max_retries: 2\n")

	w, err := NewWatcher(Options{Path: path}, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	calls := make(chan int, 8)
	w.OnChange(func(c *Config) {
		calls <- c.Execution.MaxRetries
		w.OnChange(func(*Config) {})
	})
	w.OnChange(func(c *Config) { calls <- c.Execution.MaxRetries })

	writeFile(t, path, "execution:\n  max_retries: 4\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	w.reload()

	for i := 0; i < 2; i++ {
		select {
		case got := <-calls:
			if got != 4 {
				t.Fatalf("listener %d got max_retries %d", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("listener %d was not called", i)
		}
	}
	if n := len(w.listeners); n != 3 {
		t.Fatalf("expected 3 listeners after reload, got %d", n)
	}
}
