// Copyright 2025 Casey Haldane
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

// Package config loads stepflow configuration from a YAML file with
// environment variable overrides. Environment variables take precedence
// over file values; file values take precedence over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haldane/stepflow/pkg/engine"
	"github.com/haldane/stepflow/pkg/errors"
	"github.com/haldane/stepflow/pkg/workflow"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the complete stepflow configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: STEPFLOW_LOG_LEVEL
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: STEPFLOW_LOG_FORMAT
	Format string `yaml:"format"`
}

// EngineConfig configures execution defaults. A workflow definition may
// override mode and error policy per run.
type EngineConfig struct {
	// Mode is the default execution mode (sequential, parallel, hybrid).
	// Environment: STEPFLOW_MODE
	Mode string `yaml:"mode"`

	// ErrorPolicy is the default failure handling (stop, continue).
	// Environment: STEPFLOW_ERROR_POLICY
	ErrorPolicy string `yaml:"error_policy"`

	// MaxParallel bounds concurrent node executions.
	// Environment: STEPFLOW_MAX_PARALLEL
	MaxParallel int `yaml:"max_parallel"`

	// NodeTimeout is the default per-node timeout. Zero disables it.
	// Environment: STEPFLOW_NODE_TIMEOUT
	NodeTimeout time.Duration `yaml:"node_timeout,omitempty"`
}

// CacheConfig configures the node output cache.
type CacheConfig struct {
	// MemoryItemLimit is the item count above which an output goes to
	// the durable tier instead of memory.
	// Environment: STEPFLOW_CACHE_MEMORY_ITEM_LIMIT
	MemoryItemLimit int `yaml:"memory_item_limit"`

	// MaxEntries caps in-memory entries per execution.
	// Environment: STEPFLOW_CACHE_MAX_ENTRIES
	MaxEntries int `yaml:"max_entries"`
}

// StoreConfig configures execution record persistence.
type StoreConfig struct {
	// Driver selects the store backend (memory, sqlite).
	// Environment: STEPFLOW_STORE_DRIVER
	Driver string `yaml:"driver"`

	// Path is the SQLite database path. Required for the sqlite driver.
	// Environment: STEPFLOW_STORE_PATH
	Path string `yaml:"path,omitempty"`

	// EncryptionEnabled encrypts stored record payloads. Requires
	// STEPFLOW_SNAPSHOT_KEY.
	// Environment: STEPFLOW_STORE_ENCRYPTION
	EncryptionEnabled bool `yaml:"encryption_enabled"`
}

// TelemetryConfig configures tracing and metrics.
type TelemetryConfig struct {
	// TracesEnabled turns on span export to stdout.
	// Environment: STEPFLOW_TRACES_ENABLED
	TracesEnabled bool `yaml:"traces_enabled"`

	// MetricsAddr serves Prometheus metrics when set (e.g. ":9090").
	// Environment: STEPFLOW_METRICS_ADDR
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			Mode:        string(workflow.ModeSequential),
			ErrorPolicy: string(workflow.ErrorPolicyStop),
			MaxParallel: engine.DefaultMaxParallel,
		},
		Cache: CacheConfig{
			MemoryItemLimit: engine.DefaultMemoryItemLimit,
			MaxEntries:      engine.DefaultMaxEntries,
		},
		Store: StoreConfig{
			Driver: DriverMemory,
		},
	}
}

// Load reads configuration from an optional YAML file, applies defaults
// for unset fields, overlays environment variables, and validates the
// result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", path),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads a YAML config file over the receiver.
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

// applyDefaults fills zero values so minimal config files work.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Engine.Mode == "" {
		c.Engine.Mode = defaults.Engine.Mode
	}
	if c.Engine.ErrorPolicy == "" {
		c.Engine.ErrorPolicy = defaults.Engine.ErrorPolicy
	}
	if c.Engine.MaxParallel == 0 {
		c.Engine.MaxParallel = defaults.Engine.MaxParallel
	}
	if c.Cache.MemoryItemLimit == 0 {
		c.Cache.MemoryItemLimit = defaults.Cache.MemoryItemLimit
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = defaults.Cache.MaxEntries
	}
	if c.Store.Driver == "" {
		c.Store.Driver = defaults.Store.Driver
	}
}

// applyEnv overlays STEPFLOW_* environment variables.
func (c *Config) applyEnv() {
	if val := os.Getenv("STEPFLOW_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("STEPFLOW_LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("STEPFLOW_MODE"); val != "" {
		c.Engine.Mode = strings.ToLower(val)
	}
	if val := os.Getenv("STEPFLOW_ERROR_POLICY"); val != "" {
		c.Engine.ErrorPolicy = strings.ToLower(val)
	}
	if val := os.Getenv("STEPFLOW_MAX_PARALLEL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Engine.MaxParallel = n
		}
	}
	if val := os.Getenv("STEPFLOW_NODE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Engine.NodeTimeout = d
		}
	}
	if val := os.Getenv("STEPFLOW_CACHE_MEMORY_ITEM_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MemoryItemLimit = n
		}
	}
	if val := os.Getenv("STEPFLOW_CACHE_MAX_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if val := os.Getenv("STEPFLOW_STORE_DRIVER"); val != "" {
		c.Store.Driver = strings.ToLower(val)
	}
	if val := os.Getenv("STEPFLOW_STORE_PATH"); val != "" {
		c.Store.Path = val
	}
	if val := os.Getenv("STEPFLOW_STORE_ENCRYPTION"); val != "" {
		c.Store.EncryptionEnabled = val == "true" || val == "1"
	}
	if val := os.Getenv("STEPFLOW_TRACES_ENABLED"); val != "" {
		c.Telemetry.TracesEnabled = val == "true" || val == "1"
	}
	if val := os.Getenv("STEPFLOW_METRICS_ADDR"); val != "" {
		c.Telemetry.MetricsAddr = val
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return &errors.ConfigError{
			Key:    "log.level",
			Reason: fmt.Sprintf("unknown level %q (use trace, debug, info, warn, or error)", c.Log.Level),
		}
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return &errors.ConfigError{
			Key:    "log.format",
			Reason: fmt.Sprintf("unknown format %q (use json or text)", c.Log.Format),
		}
	}

	if !workflow.ExecutionMode(c.Engine.Mode).IsValid() {
		return &errors.ConfigError{
			Key:    "engine.mode",
			Reason: fmt.Sprintf("unknown mode %q (use sequential, parallel, or hybrid)", c.Engine.Mode),
		}
	}
	if !workflow.ErrorPolicy(c.Engine.ErrorPolicy).IsValid() {
		return &errors.ConfigError{
			Key:    "engine.error_policy",
			Reason: fmt.Sprintf("unknown policy %q (use stop or continue)", c.Engine.ErrorPolicy),
		}
	}
	if c.Engine.MaxParallel < 1 {
		return &errors.ConfigError{
			Key:    "engine.max_parallel",
			Reason: "must be at least 1",
		}
	}
	if c.Engine.NodeTimeout < 0 {
		return &errors.ConfigError{
			Key:    "engine.node_timeout",
			Reason: "must not be negative",
		}
	}

	if c.Cache.MemoryItemLimit < 0 {
		return &errors.ConfigError{
			Key:    "cache.memory_item_limit",
			Reason: "must not be negative",
		}
	}
	if c.Cache.MaxEntries < 1 {
		return &errors.ConfigError{
			Key:    "cache.max_entries",
			Reason: "must be at least 1",
		}
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return &errors.ConfigError{
				Key:    "store.path",
				Reason: "sqlite driver requires a database path",
			}
		}
	default:
		return &errors.ConfigError{
			Key:    "store.driver",
			Reason: fmt.Sprintf("unknown driver %q (use memory or sqlite)", c.Store.Driver),
		}
	}

	return nil
}
