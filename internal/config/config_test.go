package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.CheckInterval != 60*time.Second {
		t.Errorf("CheckInterval = %v, want 60s", cfg.CheckInterval)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.AutoDeploy {
		t.Error("AutoDeploy should default to false")
	}
	if !cfg.SecurityScanEnabled {
		t.Error("SecurityScanEnabled should default to true")
	}
	if cfg.ParallelAgentLimit != 4 {
		t.Errorf("ParallelAgentLimit = %d, want 4", cfg.ParallelAgentLimit)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.StateDBPath != ".autopilot/state.db" {
		t.Errorf("StateDBPath = %q, want %q", cfg.StateDBPath, ".autopilot/state.db")
	}
	if len(cfg.Commands.Tests) == 0 {
		t.Error("default test command must not be empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate, got: %v", err)
	}
}

// TestLoadConfigValidFile tests loading a valid YAML config file
func TestLoadConfigValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `check_interval_seconds: 300
max_retries: 5
auto_deploy: true
security_scan_enabled: false
retry_base_delay: 2s
task_timeout: 10m
coverage_threshold: 80
remote: upstream
branch: release
commands:
  tests: ["make", "test"]
  deploy: ["make", "deploy"]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.CheckInterval != 300*time.Second {
		t.Errorf("CheckInterval = %v, want 5m", cfg.CheckInterval)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if !cfg.AutoDeploy {
		t.Error("AutoDeploy = false, want true")
	}
	if cfg.SecurityScanEnabled {
		t.Error("SecurityScanEnabled = true, want false")
	}
	if cfg.RetryBaseDelay != 2*time.Second {
		t.Errorf("RetryBaseDelay = %v, want 2s", cfg.RetryBaseDelay)
	}
	if cfg.TaskTimeout != 10*time.Minute {
		t.Errorf("TaskTimeout = %v, want 10m", cfg.TaskTimeout)
	}
	if cfg.CoverageThreshold != 80 {
		t.Errorf("CoverageThreshold = %v, want 80", cfg.CoverageThreshold)
	}
	if cfg.Remote != "upstream" || cfg.Branch != "release" {
		t.Errorf("Remote/Branch = %q/%q, want upstream/release", cfg.Remote, cfg.Branch)
	}
	if got := cfg.Commands.Tests; len(got) != 2 || got[0] != "make" || got[1] != "test" {
		t.Errorf("Commands.Tests = %v, want [make test]", got)
	}
	// Unset command vectors keep their defaults.
	if len(cfg.Commands.Build) == 0 {
		t.Error("Commands.Build default was lost in merge")
	}
}

// TestLoadConfigFileNotExists tests fallback to defaults when file doesn't exist
func TestLoadConfigFileNotExists(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() should not error on missing file, got: %v", err)
	}
	if cfg.CheckInterval != 60*time.Second {
		t.Errorf("CheckInterval = %v, want default 60s", cfg.CheckInterval)
	}
}

// TestLoadConfigMalformedYAML tests error handling for bad YAML
func TestLoadConfigMalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("check_interval_seconds: [not a number"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Error("LoadConfig() should error on malformed YAML")
	}
}

// TestLoadConfigBadDuration tests error handling for invalid duration strings
func TestLoadConfigBadDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("retry_base_delay: sometime\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Error("LoadConfig() should error on invalid duration")
	}
}

// TestApplyEnvOverrides tests the environment variable overrides inherited
// from the deploy loop
func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("AUTOPILOT_INTERVAL", "120")
	t.Setenv("AUTOPILOT_REMOTE", "backup")
	t.Setenv("AUTOPILOT_BRANCH", "develop")

	cfg, err := LoadConfig("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.CheckInterval != 120*time.Second {
		t.Errorf("CheckInterval = %v, want 2m", cfg.CheckInterval)
	}
	if cfg.Remote != "backup" {
		t.Errorf("Remote = %q, want backup", cfg.Remote)
	}
	if cfg.Branch != "develop" {
		t.Errorf("Branch = %q, want develop", cfg.Branch)
	}
}

// TestMergeWithFlags tests CLI flag overrides
func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()

	interval := 5 * time.Minute
	maxRetries := 1
	autoDeploy := true
	cfg.MergeWithFlags(&interval, &maxRetries, &autoDeploy, nil, nil)

	if cfg.CheckInterval != 5*time.Minute {
		t.Errorf("CheckInterval = %v, want 5m", cfg.CheckInterval)
	}
	if cfg.MaxRetries != 1 {
		t.Errorf("MaxRetries = %d, want 1", cfg.MaxRetries)
	}
	if !cfg.AutoDeploy {
		t.Error("AutoDeploy = false, want true")
	}
	// Unset flags leave config values alone.
	if cfg.ParallelAgentLimit != 4 {
		t.Errorf("ParallelAgentLimit = %d, want default 4", cfg.ParallelAgentLimit)
	}
}

// TestValidate tests configuration validation rules
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero interval", func(c *Config) { c.CheckInterval = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"negative parallel limit", func(c *Config) { c.ParallelAgentLimit = -2 }},
		{"backoff factor below one", func(c *Config) { c.DegradedBackoffFactor = 0.5 }},
		{"zero task timeout", func(c *Config) { c.TaskTimeout = 0 }},
		{"coverage over 100", func(c *Config) { c.CoverageThreshold = 150 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"empty db path", func(c *Config) { c.StateDBPath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}
