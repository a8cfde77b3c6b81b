// Copyright 2025 Pipelex Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config owns process-level orchestrator settings: state
// directory layout, default TTLs, and the tool-loop iteration cap. It is
// intentionally small — the on-disk command/agent/prompt document format
// is the DocumentLoader collaborator's concern (pkg/document), not this
// package's.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the process-level configuration for a pipelex run.
type Config struct {
	// ProjectRoot is the working directory commands execute relative to.
	ProjectRoot string `yaml:"project_root" mapstructure:"project_root"`

	// StateDir holds the idempotency store; defaults to
	// "<project>/.orchestrator-state".
	StateDir string `yaml:"state_dir" mapstructure:"state_dir"`

	// ToolLoopMaxIterations records the tool-use loop cap (default: 20).
	// The stage executor does not read it; its loop cap is fixed at 20.
	ToolLoopMaxIterations int `yaml:"tool_loop_max_iterations" mapstructure:"tool_loop_max_iterations"`

	// HookTimeout bounds a single hook invocation (spec default: 10s).
	HookTimeout time.Duration `yaml:"hook_timeout" mapstructure:"hook_timeout"`

	// TerminalCmdTimeout records the run_terminal_cmd timeout (default:
	// 30s). The tool does not read it; it uses a fixed 30s default that a
	// call's timeout_ms argument overrides.
	TerminalCmdTimeout time.Duration `yaml:"terminal_cmd_timeout" mapstructure:"terminal_cmd_timeout"`

	// DryRunCacheTTL records the dry-run cache entry lifetime (default:
	// 5m). dryrun.New takes no settings and does not read it.
	DryRunCacheTTL time.Duration `yaml:"dry_run_cache_ttl" mapstructure:"dry_run_cache_ttl"`

	// MaxReadBytes records the read size limit (default: 1MiB). read_file
	// does not read it; it enforces the constant tool.MaxReadBytes (1 MiB).
	// web_search results are not size-bounded.
	MaxReadBytes int64 `yaml:"max_read_bytes" mapstructure:"max_read_bytes"`

	// EscalationConfidenceThreshold is the default confidence threshold
	// below which escalation is required (spec default: 75).
	EscalationConfidenceThreshold int `yaml:"escalation_confidence_threshold" mapstructure:"escalation_confidence_threshold"`

	// StageCacheDSN optionally backs the Stage Output Cache with a
	// database/sql store (sqlite://, postgres://, mysql://). Empty means
	// the in-memory store is used.
	StageCacheDSN string `yaml:"stage_cache_dsn" mapstructure:"stage_cache_dsn"`

	// ProtectedFiles names files the Tool Router refuses to overwrite
	// unless already read in the current command (lock files, env
	// dotfiles, manifests).
	ProtectedFiles []string `yaml:"protected_files" mapstructure:"protected_files"`

	// ConfirmAtEndDirs names directories whose writes are queued for
	// end-of-pipeline user approval instead of applied immediately.
	ConfirmAtEndDirs []string `yaml:"confirm_at_end_dirs" mapstructure:"confirm_at_end_dirs"`

	// Observability controls Prometheus metrics and OpenTelemetry tracing
	// for the engine itself (stage duration, cache hit rate, tool-call
	// latency, escalation count).
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// ObservabilityConfig mirrors observability.Config's shape so it can be
// YAML-decoded alongside the rest of Config without an import cycle
// (pkg/observability does not depend on pkg/config).
type ObservabilityConfig struct {
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	Namespace    string  `yaml:"namespace" mapstructure:"namespace"`
	ServiceName  string  `yaml:"service_name" mapstructure:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate" mapstructure:"sampling_rate"`
}

// Default returns the built-in configuration used when no file is
// supplied, mirroring the spec's stated defaults throughout §4 and §5.
func Default() *Config {
	return &Config{
		ProjectRoot:                   ".",
		StateDir:                      filepath.Join(".", ".orchestrator-state"),
		ToolLoopMaxIterations:         20,
		HookTimeout:                   10 * time.Second,
		TerminalCmdTimeout:            30 * time.Second,
		DryRunCacheTTL:                5 * time.Minute,
		MaxReadBytes:                  1 << 20,
		EscalationConfidenceThreshold: 75,
		ProtectedFiles:                []string{"go.sum", ".env", "package-lock.json", "Cargo.lock"},
		ConfirmAtEndDirs:              []string{"docs"},
		Observability: ObservabilityConfig{
			Enabled:      false,
			Namespace:    "pipelex",
			ServiceName:  "pipelex",
			SamplingRate: 1.0,
		},
	}
}

// Load reads a YAML config file and merges it over Default(), the way
// the reference codebase's config loader layers a two-pass
// yaml.Unmarshal + mapstructure.Decode (loose types from YAML, strict
// target struct from mapstructure).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg.ProjectRoot = ExpandEnv(cfg.ProjectRoot)
	cfg.StateDir = ExpandEnv(cfg.StateDir)
	return cfg, nil
}

// IdempotencyDir returns "<state-dir>/idempotency".
func (c *Config) IdempotencyDir() string {
	return filepath.Join(c.StateDir, "idempotency")
}
