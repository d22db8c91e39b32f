// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Ergon configuration from defaults, a YAML file,
// an optional profile overlay, ERGON_* environment variables, and
// command-line overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "ERGON_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	LLM          LLMConfig          `koanf:"llm"`
	Execution    ExecutionConfig    `koanf:"execution"`
	Capabilities CapabilitiesConfig `koanf:"capabilities"`
	Agents       AgentsConfig       `koanf:"agents"`
	Audit        AuditConfig        `koanf:"audit"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	MCP          MCPConfig          `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // ollama, openai, gemini, anthropic, mock
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	// Retries is the number of attempts per provider call (1 disables retry).
	Retries int `koanf:"retries"`
	// BreakerThreshold opens the circuit after that many consecutive
	// failures; 0 disables the breaker.
	BreakerThreshold int `koanf:"breaker_threshold"`
}

type ExecutionConfig struct {
	// Shell overrides the interpreter ("sh -c" or "cmd /C" by default).
	Shell        string        `koanf:"shell"`
	WorkingDir   string        `koanf:"working_dir"`
	MaxRetries   int           `koanf:"max_retries"`
	PollInterval time.Duration `koanf:"poll_interval"`
	RetryDelay   time.Duration `koanf:"retry_delay"`
	// Timeout bounds a single command; 0 means no limit.
	Timeout time.Duration `koanf:"timeout"`
	// Deny adds substrings to the built-in deny-list.
	Deny []string `koanf:"deny"`
}

type CapabilitiesConfig struct {
	DynamicDir      string        `koanf:"dynamic_dir"`
	Watch           bool          `koanf:"watch"`
	SkillsDir       string        `koanf:"skills_dir"`
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`
	// CodeTimeout bounds a single execute_code evaluation.
	CodeTimeout time.Duration `koanf:"code_timeout"`
}

type AgentsConfig struct {
	// MaxAgents evicts the least recently used agent on spawn; 0 is unbounded.
	MaxAgents int           `koanf:"max_agents"`
	IdleTTL   time.Duration `koanf:"idle_ttl"`
	// Roles adds or overrides role instructions.
	Roles map[string]string `koanf:"roles"`
}

type AuditConfig struct {
	Enabled    bool   `koanf:"enabled"`
	SQLitePath string `koanf:"sqlite_path"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
	ServiceName  string `koanf:"service_name"`
}

type MCPConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
	// HTTPAddr serves streamable HTTP instead of stdio when set.
	HTTPAddr string `koanf:"http_addr"`
	// Servers are external MCP servers whose tools are imported as
	// capabilities at startup.
	Servers []MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig describes one external MCP server. Command starts a stdio
// server; URL connects to a streamable HTTP one.
type MCPServerConfig struct {
	Name    string   `koanf:"name"`
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Env     []string `koanf:"env"`
	URL     string   `koanf:"url"`
	// Prefix names imported tools prefix_tool; Name is used when empty.
	Prefix string `koanf:"prefix"`
}

// ToolPrefix returns the prefix for tools imported from s.
func (s MCPServerConfig) ToolPrefix() string {
	if s.Prefix != "" {
		return s.Prefix
	}
	return s.Name
}

var defaults = map[string]interface{}{
	"log.level":  "info",
	"log.format": "text",

	"llm.provider":          "ollama",
	"llm.model":             "qwen2.5-coder:7b-instruct-q5_K_M",
	"llm.temperature":       0.7,
	"llm.max_tokens":        2000,
	"llm.retries":           2,
	"llm.breaker_threshold": 5,

	"execution.max_retries":   3,
	"execution.poll_interval": 100 * time.Millisecond,
	"execution.retry_delay":   time.Duration(0),
	"execution.timeout":       time.Duration(0),

	"capabilities.dynamic_dir":  filepath.Join(".ergon", "tools"),
	"capabilities.watch":        false,
	"capabilities.skills_dir":   "skills",
	"capabilities.code_timeout": 10 * time.Second,

	"agents.max_agents": 0,
	"agents.idle_ttl":   time.Duration(0),

	"audit.enabled":     false,
	"audit.sqlite_path": filepath.Join(".ergon", "audit.db"),

	"telemetry.enabled":       false,
	"telemetry.exporter":      "stdout",
	"telemetry.otlp_insecure": true,
	"telemetry.service_name":  "ergon",

	"mcp.name":    "ergon",
	"mcp.version": "0.1.0",
}

// Options selects the sources merged by LoadWith.
type Options struct {
	Path      string
	Profile   string
	Overrides map[string]string
}

// Load reads defaults, the YAML file at path (if any), and the environment.
func Load(path string) (*Config, error) {
	return LoadWith(Options{Path: path})
}

// LoadWithProfile is Load plus the overlay <name>.<profile><ext> next to path.
// A missing overlay file is not an error.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadWith(Options{Path: path, Profile: profile})
}

// LoadWith merges every source in opts over the defaults.
func LoadWith(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.Path, err)
		}
		if opts.Profile != "" {
			overlay := ProfilePath(opts.Path, opts.Profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("load profile %s: %w", overlay, err)
				}
			}
		}
	}

	// ERGON_LLM_BASE_URL -> llm.base_url: only the first underscore separates
	// the section, so multi-word keys survive.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for key, value := range opts.Overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

// ProfilePath returns the overlay file path for profile next to path.
func ProfilePath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// ParseOverride adds one key=value pair to overrides.
func ParseOverride(overrides map[string]string, kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("invalid override %q, expected key=value", kv)
	}
	overrides[key] = value
	return nil
}
