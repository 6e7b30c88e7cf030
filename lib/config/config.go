// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Conveyor
// components.
//
// Configuration is loaded from a single file specified by:
//   - CONVEYOR_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// The only expansion performed inside values is ${VAR} and
// ${VAR:-default} substitution, for path portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Listen configures the control socket and webhook listener.
	Listen ListenConfig `yaml:"listen"`

	// Engine configures execution behavior.
	Engine EngineConfig `yaml:"engine"`

	// Upload configures the artifact upload target.
	Upload UploadConfig `yaml:"upload"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for Conveyor data.
	Root string `yaml:"root"`

	// Workflows is the directory containing workflow definition
	// files (.yaml, .yml, .json, .jsonc). Loaded at startup.
	Workflows string `yaml:"workflows"`

	// Runs is where per-run working directories and step logs are
	// created.
	Runs string `yaml:"runs"`

	// Artifacts is the content-addressed artifact staging store.
	Artifacts string `yaml:"artifacts"`

	// Database is the SQLite database file for run history.
	Database string `yaml:"database"`
}

// ListenConfig configures the control socket and webhook listener.
type ListenConfig struct {
	// Socket is the Unix socket path for the control protocol.
	// Default: /run/conveyor/engine.sock
	Socket string `yaml:"socket"`

	// HTTP is the listen address for webhook ingestion, e.g.
	// "127.0.0.1:8667". Empty disables the HTTP listener.
	HTTP string `yaml:"http"`

	// WebhookSecretEnv names the environment variable holding the
	// HMAC secret for webhook signature verification. Empty disables
	// verification (local development only).
	WebhookSecretEnv string `yaml:"webhook_secret_env"`
}

// EngineConfig configures execution behavior.
type EngineConfig struct {
	// Workers is the number of concurrent job executors.
	// Default: 4.
	Workers int `yaml:"workers"`

	// DefaultBranch is the branch schedule-triggered runs execute
	// against. Default: main.
	DefaultBranch string `yaml:"default_branch"`

	// StepTimeout is the default per-step timeout for steps that do
	// not set their own. Default: 30m.
	StepTimeout string `yaml:"step_timeout"`

	// GracePeriod is the default SIGTERM-to-SIGKILL grace for
	// cancelled steps. Default: 10s.
	GracePeriod string `yaml:"grace_period"`
}

// UploadConfig configures the artifact upload target.
type UploadConfig struct {
	// Endpoint is the HTTP endpoint artifacts are posted to after a
	// run completes. Empty disables uploading.
	Endpoint string `yaml:"endpoint"`

	// TokenEnv names the environment variable holding the bearer
	// token for the upload endpoint.
	TokenEnv string `yaml:"token_env"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	// Default: info.
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults are a
// base layer under the loaded file, not a substitute for one.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "conveyor")

	return &Config{
		Paths: PathsConfig{
			Root:      defaultRoot,
			Workflows: filepath.Join(defaultRoot, "workflows"),
			Runs:      filepath.Join(defaultRoot, "runs"),
			Artifacts: filepath.Join(defaultRoot, "artifacts"),
			Database:  filepath.Join(defaultRoot, "conveyor.db"),
		},
		Listen: ListenConfig{
			Socket: "/run/conveyor/engine.sock",
		},
		Engine: EngineConfig{
			Workers:       4,
			DefaultBranch: "main",
			StepTimeout:   "30m",
			GracePeriod:   "10s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the CONVEYOR_CONFIG environment
// variable. There is no fallback path: if the variable is unset,
// Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("CONVEYOR_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CONVEYOR_CONFIG environment variable not set; " +
			"set it to the path of your conveyor.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, layered
// over Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// every path-valued field. CONVEYOR_ROOT resolves to paths.root so
// dependent paths can be written relative to it.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"CONVEYOR_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["CONVEYOR_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Workflows = expandVars(c.Paths.Workflows, vars)
	c.Paths.Runs = expandVars(c.Paths.Runs, vars)
	c.Paths.Artifacts = expandVars(c.Paths.Artifacts, vars)
	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Listen.Socket = expandVars(c.Listen.Socket, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided
// vars win over the process environment; an unset variable resolves
// to the default (or empty).
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// logLevels is the set of accepted log.level values.
var logLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}
	if c.Listen.Socket == "" {
		errs = append(errs, fmt.Errorf("listen.socket is required"))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers))
	}
	if c.Engine.DefaultBranch == "" {
		errs = append(errs, fmt.Errorf("engine.default_branch is required"))
	}
	if _, err := time.ParseDuration(c.Engine.StepTimeout); err != nil {
		errs = append(errs, fmt.Errorf("engine.step_timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Engine.GracePeriod); err != nil {
		errs = append(errs, fmt.Errorf("engine.grace_period: %w", err))
	}
	if !logLevels[c.Log.Level] {
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level))
	}
	if c.Upload.Endpoint != "" && c.Upload.TokenEnv == "" {
		errs = append(errs, fmt.Errorf("upload.token_env is required when upload.endpoint is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StepTimeoutDuration returns the parsed engine.step_timeout. Call
// Validate first.
func (c *Config) StepTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Engine.StepTimeout)
	return d
}

// GracePeriodDuration returns the parsed engine.grace_period. Call
// Validate first.
func (c *Config) GracePeriodDuration() time.Duration {
	d, _ := time.ParseDuration(c.Engine.GracePeriod)
	return d
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Workflows,
		c.Paths.Runs,
		c.Paths.Artifacts,
		filepath.Dir(c.Paths.Database),
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
