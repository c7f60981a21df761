// Copyright 2025 Tom Barlow
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

// Package config loads and validates engine configuration from a YAML file
// layered with environment variable overrides, following the same XDG base
// directory conventions the rest of the ambient stack uses.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Inkotake/ojo-agent/internal/tracing"
	ojoerrors "github.com/Inkotake/ojo-agent/pkg/ojoerrors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete engine configuration.
type Config struct {
	// Version indicates the config format version (1 = initial release).
	Version int `yaml:"version,omitempty"`

	Log     LogConfig      `yaml:"log"`
	Gates   GateConfig     `yaml:"gates"`
	Stage   StageConfig    `yaml:"stage"`
	Store   StoreConfig    `yaml:"store"`
	Tracing tracing.Config `yaml:"tracing"`

	// WorkspaceRoot is the filesystem root under which per-user,
	// per-problem workspace directories are created.
	WorkspaceRoot string `yaml:"workspace_root,omitempty"`

	// Providers is the system-wide ProviderSpec seed list.
	Providers []ProviderSpec `yaml:"providers,omitempty"`
}

// LogConfig configures structured logging behavior.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	// Environment: OJO_LOG_LEVEL
	Level string `yaml:"level"`

	// Format is the output format (json, text).
	// Environment: OJO_LOG_FORMAT
	Format string `yaml:"format"`

	// AddSource adds source file and line information to log records.
	AddSource bool `yaml:"add_source"`

	// Trace enables a custom trace-level slog.Level below debug for
	// logging LLM prompt/response bodies.
	Trace bool `yaml:"trace"`
}

// GateConfig is the named counting-gate table from the concurrency model.
// Every field maps one-to-one to a gate name understood by internal/gate.
type GateConfig struct {
	// GlobalTasks bounds the number of Problems in F..S simultaneously.
	GlobalTasks int `yaml:"global_tasks"`

	// PerUser bounds concurrently admitted Problems per owning user id.
	PerUser int `yaml:"per_user"`

	// StageFetch bounds concurrent Fetch executions.
	StageFetch int `yaml:"stage_fetch"`

	// StageUpload bounds concurrent Upload executions.
	StageUpload int `yaml:"stage_upload"`

	// StageSolve bounds concurrent Solve executions (compile+run included).
	StageSolve int `yaml:"stage_solve"`

	// LLMTotal bounds concurrent LLM calls across all providers.
	LLMTotal int `yaml:"llm_total"`

	// LLMPerProvider bounds concurrent LLM calls for a single provider.
	// Applied per-provider-name at gate construction time.
	LLMPerProvider int `yaml:"llm_per_provider"`

	// Queue bounds the number of pending admissions.
	Queue int `yaml:"queue"`

	// TaskTimeout is the wall-clock budget per Problem.
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// StageConfig holds per-stage retry policy.
type StageConfig struct {
	// RetryCap is the maximum number of attempts per stage (default 3).
	RetryCap int `yaml:"retry_cap"`

	// RetryBaseDelay is the base delay for exponential backoff with jitter.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`

	// SolveCompileTimeout bounds the compile step of the Solve stage.
	SolveCompileTimeout time.Duration `yaml:"solve_compile_timeout"`

	// SolveRunTimeout bounds the run step of the Solve stage.
	SolveRunTimeout time.Duration `yaml:"solve_run_timeout"`

	// SolveCompiler names the compiler/interpreter invoked by Solve
	// (e.g. "g++", "python3"). Kept as configuration rather than a
	// hardcoded assumption.
	SolveCompiler string `yaml:"solve_compiler"`

	// PartialSuccessFloor is an expr-lang/expr predicate over `k` (cases
	// that succeeded) and `n` (cases requested) deciding whether Generate
	// reports partial success instead of failure (e.g. "k >= n/2").
	PartialSuccessFloor string `yaml:"partial_success_floor"`

	// GenTestCaseCount is N, the number of test cases Generate asks the
	// generator script to produce.
	GenTestCaseCount int `yaml:"gen_test_case_count"`

	// GenSubprocessTimeout bounds one execution of the generator script.
	GenSubprocessTimeout time.Duration `yaml:"gen_subprocess_timeout"`

	// SolvePollInterval is the base delay between judge_status polls.
	SolvePollInterval time.Duration `yaml:"solve_poll_interval"`

	// SolveStageTimeout bounds the overall Solve stage, including polling.
	SolveStageTimeout time.Duration `yaml:"solve_stage_timeout"`

	// StatementProjectExpr is a gojq expression applied to a raw-fetch
	// adapter's JSON payload before it is mapped onto Statement{...},
	// e.g. ".problem | {title, body: .statement}". Empty means no
	// projection is needed: the raw payload's top-level fields already
	// match Statement's field names.
	StatementProjectExpr string `yaml:"statement_project_expr,omitempty"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	// Driver selects the backend: "memory" or "sqlite".
	Driver string `yaml:"driver"`

	// DSN is the sqlite data source (path), ignored for memory.
	DSN string `yaml:"dsn,omitempty"`
}

// ProviderSpec is a system-wide record describing one LLM provider.
// It is read-only at runtime: the sole source of truth for client
// construction in internal/llmpool.
type ProviderSpec struct {
	// Name is the unique provider identifier (e.g. "anthropic", "local").
	Name string `yaml:"name"`

	// DisplayName is human-readable.
	DisplayName string `yaml:"display_name"`

	// Capabilities lists what this provider supports: any of
	// "generation", "solution", "ocr", "summary".
	Capabilities []string `yaml:"capabilities"`

	// APIURL is the provider's endpoint. Empty means provider default.
	APIURL string `yaml:"api_url,omitempty"`

	// DefaultModel is used when a request doesn't specify a tier/model.
	DefaultModel string `yaml:"default_model,omitempty"`

	// CredentialField names the credential value expected for this
	// provider (e.g. "api_key", "base_url") without carrying the value
	// itself; the value is resolved through internal/secrets.
	CredentialField string `yaml:"credential_field,omitempty"`

	// CredentialRef is a secret reference (env:VAR, file:/path,
	// keychain:name) resolved at provider-construction time.
	CredentialRef string `yaml:"credential_ref,omitempty"`

	// UserSelectable indicates whether callers may pick this provider
	// explicitly (vs. it only being used as a tier fallback).
	UserSelectable bool `yaml:"user_selectable"`
}

// HasCapability reports whether the provider declares the given capability.
func (p ProviderSpec) HasCapability(cap string) bool {
	for _, c := range p.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Default returns a Config with sensible defaults matching the gate
// table and retry policy described in the concurrency model.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Gates: GateConfig{
			GlobalTasks:    50,
			PerUser:        10,
			StageFetch:     10,
			StageUpload:    5,
			StageSolve:     5,
			LLMTotal:       8,
			LLMPerProvider: 4,
			Queue:          500,
			TaskTimeout:    600 * time.Second,
		},
		Stage: StageConfig{
			RetryCap:            3,
			RetryBaseDelay:      500 * time.Millisecond,
			RetryMaxDelay:       30 * time.Second,
			SolveCompileTimeout: 30 * time.Second,
			SolveRunTimeout:     10 * time.Second,
			SolveCompiler:        "g++",
			PartialSuccessFloor:  "k >= n/2",
			GenTestCaseCount:     20,
			GenSubprocessTimeout: 10 * time.Second,
			SolvePollInterval:    2 * time.Second,
			SolveStageTimeout:    2 * time.Minute,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Tracing:       tracing.DefaultConfig(),
		WorkspaceRoot: filepath.Join(defaultDataDir(), "workspaces"),
	}
}

// Load loads configuration from a YAML file layered with environment
// variable overrides. Environment variables take precedence. If
// configPath is empty, the default XDG config file is used when present.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if defaultPath, err := ConfigPath(); err == nil {
			if _, statErr := os.Stat(defaultPath); statErr == nil {
				configPath = defaultPath
			}
		}
	}

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &ojoerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &ojoerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Gates.GlobalTasks == 0 {
		c.Gates.GlobalTasks = d.Gates.GlobalTasks
	}
	if c.Gates.PerUser == 0 {
		c.Gates.PerUser = d.Gates.PerUser
	}
	if c.Gates.StageFetch == 0 {
		c.Gates.StageFetch = d.Gates.StageFetch
	}
	if c.Gates.StageUpload == 0 {
		c.Gates.StageUpload = d.Gates.StageUpload
	}
	if c.Gates.StageSolve == 0 {
		c.Gates.StageSolve = d.Gates.StageSolve
	}
	if c.Gates.LLMTotal == 0 {
		c.Gates.LLMTotal = d.Gates.LLMTotal
	}
	if c.Gates.LLMPerProvider == 0 {
		c.Gates.LLMPerProvider = d.Gates.LLMPerProvider
	}
	if c.Gates.Queue == 0 {
		c.Gates.Queue = d.Gates.Queue
	}
	if c.Gates.TaskTimeout == 0 {
		c.Gates.TaskTimeout = d.Gates.TaskTimeout
	}
	if c.Stage.RetryCap == 0 {
		c.Stage.RetryCap = d.Stage.RetryCap
	}
	if c.Stage.RetryBaseDelay == 0 {
		c.Stage.RetryBaseDelay = d.Stage.RetryBaseDelay
	}
	if c.Stage.RetryMaxDelay == 0 {
		c.Stage.RetryMaxDelay = d.Stage.RetryMaxDelay
	}
	if c.Stage.SolveCompileTimeout == 0 {
		c.Stage.SolveCompileTimeout = d.Stage.SolveCompileTimeout
	}
	if c.Stage.SolveRunTimeout == 0 {
		c.Stage.SolveRunTimeout = d.Stage.SolveRunTimeout
	}
	if c.Stage.SolveCompiler == "" {
		c.Stage.SolveCompiler = d.Stage.SolveCompiler
	}
	if c.Stage.PartialSuccessFloor == "" {
		c.Stage.PartialSuccessFloor = d.Stage.PartialSuccessFloor
	}
	if c.Stage.GenTestCaseCount == 0 {
		c.Stage.GenTestCaseCount = d.Stage.GenTestCaseCount
	}
	if c.Stage.GenSubprocessTimeout == 0 {
		c.Stage.GenSubprocessTimeout = d.Stage.GenSubprocessTimeout
	}
	if c.Stage.SolvePollInterval == 0 {
		c.Stage.SolvePollInterval = d.Stage.SolvePollInterval
	}
	if c.Stage.SolveStageTimeout == 0 {
		c.Stage.SolveStageTimeout = d.Stage.SolveStageTimeout
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}
	if c.Tracing.ServiceVersion == "" {
		c.Tracing.ServiceVersion = d.Tracing.ServiceVersion
	}
	if c.Tracing.Sampling.Rate == 0 {
		c.Tracing.Sampling.Rate = d.Tracing.Sampling.Rate
	}
	if c.Tracing.BatchSize == 0 {
		c.Tracing.BatchSize = d.Tracing.BatchSize
	}
	if c.Tracing.BatchInterval == 0 {
		c.Tracing.BatchInterval = d.Tracing.BatchInterval
	}
	if c.Tracing.Redaction.Level == "" {
		c.Tracing.Redaction.Level = d.Tracing.Redaction.Level
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = d.WorkspaceRoot
	}
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("OJO_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("OJO_LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("OJO_LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("OJO_WORKSPACE_ROOT"); val != "" {
		c.WorkspaceRoot = val
	}
	if val := os.Getenv("OJO_STORE_DRIVER"); val != "" {
		c.Store.Driver = val
	}
	if val := os.Getenv("OJO_STORE_DSN"); val != "" {
		c.Store.DSN = val
	}
	if val := os.Getenv("OJO_TRACING_ENABLED"); val != "" {
		c.Tracing.Enabled = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("OJO_TRACING_EXPORTER_ENDPOINT"); val != "" && len(c.Tracing.Exporters) > 0 {
		c.Tracing.Exporters[0].Endpoint = val
	}
	if val := os.Getenv("OJO_GATE_GLOBAL_TASKS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Gates.GlobalTasks = n
		}
	}
	if val := os.Getenv("OJO_GATE_PER_USER"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Gates.PerUser = n
		}
	}
	if val := os.Getenv("OJO_TASK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Gates.TaskTimeout = d
		}
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	for _, gate := range []struct {
		name string
		val  int
	}{
		{"gates.global_tasks", c.Gates.GlobalTasks},
		{"gates.per_user", c.Gates.PerUser},
		{"gates.stage_fetch", c.Gates.StageFetch},
		{"gates.stage_upload", c.Gates.StageUpload},
		{"gates.stage_solve", c.Gates.StageSolve},
		{"gates.llm_total", c.Gates.LLMTotal},
		{"gates.llm_per_provider", c.Gates.LLMPerProvider},
		{"gates.queue", c.Gates.Queue},
	} {
		if gate.val <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %d", gate.name, gate.val))
		}
	}
	if c.Gates.TaskTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("gates.task_timeout must be positive, got %v", c.Gates.TaskTimeout))
	}

	if c.Stage.RetryCap <= 0 {
		errs = append(errs, fmt.Sprintf("stage.retry_cap must be positive, got %d", c.Stage.RetryCap))
	}

	validDrivers := map[string]bool{"memory": true, "sqlite": true}
	if !validDrivers[c.Store.Driver] {
		errs = append(errs, fmt.Sprintf("store.driver must be one of [memory, sqlite], got %q", c.Store.Driver))
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required when store.driver is \"sqlite\"")
	}

	names := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, "providers[]: name is required")
			continue
		}
		if names[p.Name] {
			errs = append(errs, fmt.Sprintf("providers: duplicate provider name %q", p.Name))
		}
		names[p.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProviderByName returns the ProviderSpec with the given name, if present.
func (c *Config) ProviderByName(name string) (ProviderSpec, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderSpec{}, false
}

// ProvidersWithCapability returns all providers declaring the given
// capability, preserving configuration order.
func (c *Config) ProvidersWithCapability(cap string) []ProviderSpec {
	var out []ProviderSpec
	for _, p := range c.Providers {
		if p.HasCapability(cap) {
			out = append(out, p)
		}
	}
	return out
}
