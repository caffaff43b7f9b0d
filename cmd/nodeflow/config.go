package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/nodes"
)

// Config holds all nodeflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	MaxNodeExecutions int    `json:"max_node_executions"`
	NodeTimeout       string `json:"node_timeout"`
	RunTimeout        string `json:"run_timeout"`
	HTTPTimeout       string `json:"http_timeout"`
	SchedulerInterval string `json:"scheduler_interval"`
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(nodeflowDir(), "nodeflow.db"),
		LogLevel:          "info",
		MaxNodeExecutions: engine.DefaultMaxNodeExecutions,
		HTTPTimeout:       "30s",
		SchedulerInterval: "1m",
	}
}

func nodeflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeflow"
	}
	return filepath.Join(home, ".nodeflow")
}

func settingsPath() string {
	return filepath.Join(nodeflowDir(), "settings.json")
}

func loadConfig() (Config, error) {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

// loadConfigFrom layers settings.json and NODEFLOW_* env vars over the
// defaults. A missing settings file is fine; a malformed one is an error.
func loadConfigFrom(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json.
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("invalid settings file %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return Config{}, fmt.Errorf("read settings file %s: %w", path, err)
	}

	// Layer 3: env vars override.
	if v := getenv("NODEFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("NODEFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("NODEFLOW_MAX_NODE_EXECUTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid NODEFLOW_MAX_NODE_EXECUTIONS %q: %w", v, err)
		}
		cfg.MaxNodeExecutions = n
	}
	if v := getenv("NODEFLOW_NODE_TIMEOUT"); v != "" {
		cfg.NodeTimeout = v
	}
	if v := getenv("NODEFLOW_RUN_TIMEOUT"); v != "" {
		cfg.RunTimeout = v
	}
	if v := getenv("NODEFLOW_HTTP_TIMEOUT"); v != "" {
		cfg.HTTPTimeout = v
	}
	if v := getenv("NODEFLOW_SCHEDULER_INTERVAL"); v != "" {
		cfg.SchedulerInterval = v
	}

	if cfg.MaxNodeExecutions < 0 {
		return Config{}, fmt.Errorf("invalid max_node_executions %d: must not be negative", cfg.MaxNodeExecutions)
	}
	return cfg, nil
}

// executorConfig converts the duration strings into engine limits.
func (c Config) executorConfig() (engine.Config, error) {
	if c.MaxNodeExecutions < 0 {
		return engine.Config{}, fmt.Errorf("invalid max_node_executions %d: must not be negative", c.MaxNodeExecutions)
	}
	nodeTimeout, err := parseDuration("node_timeout", c.NodeTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	runTimeout, err := parseDuration("run_timeout", c.RunTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		MaxNodeExecutions: c.MaxNodeExecutions,
		NodeTimeout:       nodeTimeout,
		RunTimeout:        runTimeout,
	}, nil
}

func (c Config) builtinConfig() (nodes.BuiltinConfig, error) {
	httpTimeout, err := parseDuration("http_timeout", c.HTTPTimeout)
	if err != nil {
		return nodes.BuiltinConfig{}, err
	}
	return nodes.BuiltinConfig{HTTP: nodes.HTTPConfig{DefaultTimeout: httpTimeout}}, nil
}

func (c Config) schedulerInterval() (time.Duration, error) {
	return parseDuration("scheduler_interval", c.SchedulerInterval)
}

// parseDuration treats an empty value as zero.
func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, v)
	}
	return d, nil
}
