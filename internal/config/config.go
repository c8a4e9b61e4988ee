// Package config provides unified configuration loading for simrun.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config contains all simrun configuration settings.
type Config struct {
	// Gem5Bin is the gem5 binary to launch, relative to the repo root
	// unless absolute.
	Gem5Bin string `json:"gem5_bin" yaml:"gem5_bin"`

	// RepoRoot anchors relative artifact and config paths. Empty means
	// the current working directory.
	RepoRoot string `json:"repo_root,omitempty" yaml:"repo_root,omitempty"`

	// ResultsRoot is where per-run manifest directories are created.
	ResultsRoot string `json:"results_root" yaml:"results_root"`

	// LogsRoot is where per-run gem5 output directories are created.
	LogsRoot string `json:"logs_root" yaml:"logs_root"`

	// CPUType is the default gem5 CPU model.
	CPUType string `json:"cpu_type" yaml:"cpu_type"`

	// MaxTicksSimple and MaxTicksComplex are the per-mode tick budgets
	// passed to the platform config scripts.
	MaxTicksSimple  int64 `json:"max_ticks_simple" yaml:"max_ticks_simple"`
	MaxTicksComplex int64 `json:"max_ticks_complex" yaml:"max_ticks_complex"`

	// TimeoutSec bounds each supervised run in wall-clock seconds.
	TimeoutSec int `json:"timeout_sec" yaml:"timeout_sec"`

	// PollIntervalSec is the sleep between marker re-checks.
	PollIntervalSec int `json:"poll_interval_sec" yaml:"poll_interval_sec"`

	// GracePeriodSec is the wait between graceful terminate and kill.
	GracePeriodSec int `json:"grace_period_sec" yaml:"grace_period_sec"`

	// History configures the run history database.
	History HistoryConfig `json:"history" yaml:"history"`

	// Server configures the dashboard API.
	Server ServerConfig `json:"server" yaml:"server"`

	// Logging configures harness log verbosity.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// HistoryConfig configures the sqlite run history.
type HistoryConfig struct {
	// Path is the database file. Empty disables history recording.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ServerConfig configures the dashboard HTTP server.
type ServerConfig struct {
	// Addr is the listen address for `simrun serve`.
	Addr string `json:"addr" yaml:"addr"`
}

// LoggingConfig configures simrun's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	Level string `json:"level" yaml:"level"`
}

// Default returns a Config with sensible defaults matching the repo's
// conventional build layout.
func Default() *Config {
	return &Config{
		Gem5Bin:         "sources/gem5/build/RISCV/gem5.opt",
		ResultsRoot:     filepath.Join("workloads", "results"),
		LogsRoot:        filepath.Join("build", "logs"),
		CPUType:         "TimingSimpleCPU",
		MaxTicksSimple:  200_000_000,
		MaxTicksComplex: 2_000_000_000,
		TimeoutSec:      1800,
		PollIntervalSec: 2,
		GracePeriodSec:  10,
		History: HistoryConfig{
			Path: filepath.Join("build", "simrun-history.db"),
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8501",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ./simrun.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	configPath := "simrun.yaml"
	if _, statErr := os.Stat(configPath); statErr == nil {
		fileConfig, loadErr := LoadFromFile(configPath)
		if loadErr != nil {
			return nil, fmt.Errorf("loading config file: %w", loadErr)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(config)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Gem5Bin == "" {
		return fmt.Errorf("gem5_bin must be set")
	}
	if c.ResultsRoot == "" || c.LogsRoot == "" {
		return fmt.Errorf("results_root and logs_root must be set")
	}
	if c.MaxTicksSimple <= 0 || c.MaxTicksComplex <= 0 {
		return fmt.Errorf("tick budgets must be positive, got simple=%d complex=%d",
			c.MaxTicksSimple, c.MaxTicksComplex)
	}
	if c.TimeoutSec <= 0 {
		return fmt.Errorf("timeout_sec must be positive, got %d", c.TimeoutSec)
	}
	if c.PollIntervalSec <= 0 || c.GracePeriodSec <= 0 {
		return fmt.Errorf("poll_interval_sec and grace_period_sec must be positive")
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SIMRUN_GEM5_BIN"); v != "" {
		config.Gem5Bin = v
	}

	if v := os.Getenv("SIMRUN_REPO_ROOT"); v != "" {
		config.RepoRoot = v
	}

	if v := os.Getenv("SIMRUN_RESULTS_ROOT"); v != "" {
		config.ResultsRoot = v
	}

	if v := os.Getenv("SIMRUN_LOGS_ROOT"); v != "" {
		config.LogsRoot = v
	}

	if v := os.Getenv("SIMRUN_CPU_TYPE"); v != "" {
		config.CPUType = v
	}

	if v := os.Getenv("SIMRUN_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.TimeoutSec = n
		}
	}

	if v := os.Getenv("SIMRUN_MAX_TICKS_SIMPLE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.MaxTicksSimple = n
		}
	}

	if v := os.Getenv("SIMRUN_MAX_TICKS_COMPLEX"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.MaxTicksComplex = n
		}
	}

	if v := os.Getenv("SIMRUN_HISTORY_PATH"); v != "" {
		config.History.Path = v
	}

	if v := os.Getenv("SIMRUN_SERVER_ADDR"); v != "" {
		config.Server.Addr = v
	}

	if v := os.Getenv("SIMRUN_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}
