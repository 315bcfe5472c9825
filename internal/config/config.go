// Package config loads and validates autopilot configuration.
//
// Configuration is read once at startup from .autopilot/config.yaml, merged
// over built-in defaults, then overridden by environment variables and CLI
// flags in that order. The resulting Config is immutable for the lifetime
// of the orchestrator loop. Unknown YAML keys are ignored.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Commands holds the external command lines the agents invoke. Each entry is
// an argv vector; an empty vector disables the corresponding step.
type Commands struct {
	SecurityScan   []string `yaml:"security_scan"`
	DependencyScan []string `yaml:"dependency_scan"`
	Benchmark      []string `yaml:"benchmark"`
	Tests          []string `yaml:"tests"`
	Docs           []string `yaml:"docs"`
	Build          []string `yaml:"build"`
	Deploy         []string `yaml:"deploy"`
	Rollback       []string `yaml:"rollback"`
}

// Config represents autopilot configuration options.
type Config struct {
	// CheckInterval is the idle wait between pipeline cycles.
	CheckInterval time.Duration

	// MaxRetries is the per-agent retry ceiling before a Failure is accepted.
	MaxRetries int

	// AutoDeploy gates the deploy step of the build-deploy stage.
	AutoDeploy bool

	// SecurityScanEnabled enables the security agent.
	SecurityScanEnabled bool

	// ParallelAgentLimit caps concurrently running agents (0 = unlimited).
	ParallelAgentLimit int

	// RetryBaseDelay is the base unit of the linear retry backoff
	// (sleep attempt * RetryBaseDelay between attempts).
	RetryBaseDelay time.Duration

	// DefectCooldown is the fixed wait after a controller defect before the
	// next cycle starts.
	DefectCooldown time.Duration

	// DegradedBackoffFactor multiplies the check interval while the loop is
	// in degraded polling mode.
	DegradedBackoffFactor float64

	// TaskTimeout is the default timeout applied to each external command.
	TaskTimeout time.Duration

	// CoverageThreshold marks the test run Degraded when coverage drops
	// below this percentage. 0 disables the coverage gate.
	CoverageThreshold float64

	// WebhookURL is the escalation notification endpoint. Empty disables
	// webhook delivery (alerts are still logged locally).
	WebhookURL string

	// NotifyTimeout bounds how long a single escalation may block the loop.
	NotifyTimeout time.Duration

	// Remote and Branch identify the deployment source, as in the original
	// deploy loop.
	Remote string
	Branch string

	// LogLevel sets console verbosity (trace, debug, info, warn, error).
	LogLevel string

	// LogDir is the directory where file logs are written.
	LogDir string

	// StateDBPath is the SQLite database holding agent records and cycle
	// history.
	StateDBPath string

	// Commands configures the external tool invocations.
	Commands Commands
}

// DefaultConfig returns a Config with sensible default values. The build,
// test and deploy defaults mirror the production deploy pipeline this loop
// replaced.
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:         60 * time.Second,
		MaxRetries:            3,
		AutoDeploy:            false,
		SecurityScanEnabled:   true,
		ParallelAgentLimit:    4,
		RetryBaseDelay:        5 * time.Second,
		DefectCooldown:        10 * time.Second,
		DegradedBackoffFactor: 2.0,
		TaskTimeout:           30 * time.Minute,
		CoverageThreshold:     0,
		NotifyTimeout:         15 * time.Second,
		Remote:                "origin",
		Branch:                "main",
		LogLevel:              "info",
		LogDir:                ".autopilot/logs",
		StateDBPath:           ".autopilot/state.db",
		Commands: Commands{
			SecurityScan:   []string{"govulncheck", "./..."},
			DependencyScan: []string{"trivy", "fs", "--severity", "HIGH,CRITICAL", "."},
			Benchmark:      []string{"go", "test", "-bench", ".", "-benchtime", "1x", "-run", "^$", "./..."},
			Tests:          []string{"go", "test", "-cover", "./..."},
			Docs:           []string{"make", "docs"},
			Build:          []string{"docker", "build", "--tag", "autopilot:prod", "."},
			Deploy:         []string{"firebase", "deploy", "--only", "hosting"},
			Rollback:       []string{"firebase", "hosting:rollback"},
		},
	}
}

// yamlConfig mirrors Config for unmarshalling. Pointer fields distinguish
// "absent" from zero values so file settings merge cleanly over defaults.
type yamlConfig struct {
	CheckIntervalSeconds  *int      `yaml:"check_interval_seconds"`
	MaxRetries            *int      `yaml:"max_retries"`
	AutoDeploy            *bool     `yaml:"auto_deploy"`
	SecurityScanEnabled   *bool     `yaml:"security_scan_enabled"`
	ParallelAgentLimit    *int      `yaml:"parallel_agent_limit"`
	RetryBaseDelay        *string   `yaml:"retry_base_delay"`
	DefectCooldown        *string   `yaml:"defect_cooldown"`
	DegradedBackoffFactor *float64  `yaml:"degraded_backoff_factor"`
	TaskTimeout           *string   `yaml:"task_timeout"`
	CoverageThreshold     *float64  `yaml:"coverage_threshold"`
	WebhookURL            *string   `yaml:"webhook_url"`
	NotifyTimeout         *string   `yaml:"notify_timeout"`
	Remote                *string   `yaml:"remote"`
	Branch                *string   `yaml:"branch"`
	LogLevel              *string   `yaml:"log_level"`
	LogDir                *string   `yaml:"log_dir"`
	StateDBPath           *string   `yaml:"state_db_path"`
	Commands              *Commands `yaml:"commands"`
}

// LoadConfig loads configuration from the specified file path.
// If the file doesn't exist, returns default configuration without error.
// If the file exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		applyEnv(cfg)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if yc.CheckIntervalSeconds != nil {
		cfg.CheckInterval = time.Duration(*yc.CheckIntervalSeconds) * time.Second
	}
	if yc.MaxRetries != nil {
		cfg.MaxRetries = *yc.MaxRetries
	}
	if yc.AutoDeploy != nil {
		cfg.AutoDeploy = *yc.AutoDeploy
	}
	if yc.SecurityScanEnabled != nil {
		cfg.SecurityScanEnabled = *yc.SecurityScanEnabled
	}
	if yc.ParallelAgentLimit != nil {
		cfg.ParallelAgentLimit = *yc.ParallelAgentLimit
	}
	if yc.DegradedBackoffFactor != nil {
		cfg.DegradedBackoffFactor = *yc.DegradedBackoffFactor
	}
	if yc.CoverageThreshold != nil {
		cfg.CoverageThreshold = *yc.CoverageThreshold
	}
	if yc.WebhookURL != nil {
		cfg.WebhookURL = *yc.WebhookURL
	}
	if yc.Remote != nil {
		cfg.Remote = *yc.Remote
	}
	if yc.Branch != nil {
		cfg.Branch = *yc.Branch
	}
	if yc.LogLevel != nil {
		cfg.LogLevel = *yc.LogLevel
	}
	if yc.LogDir != nil {
		cfg.LogDir = *yc.LogDir
	}
	if yc.StateDBPath != nil {
		cfg.StateDBPath = *yc.StateDBPath
	}

	durations := []struct {
		raw  *string
		dst  *time.Duration
		name string
	}{
		{yc.RetryBaseDelay, &cfg.RetryBaseDelay, "retry_base_delay"},
		{yc.DefectCooldown, &cfg.DefectCooldown, "defect_cooldown"},
		{yc.TaskTimeout, &cfg.TaskTimeout, "task_timeout"},
		{yc.NotifyTimeout, &cfg.NotifyTimeout, "notify_timeout"},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, *d.raw, err)
		}
		*d.dst = parsed
	}

	if yc.Commands != nil {
		mergeCommands(&cfg.Commands, yc.Commands)
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadConfigFromDir loads configuration from .autopilot/config.yaml in the
// specified directory, falling back to defaults when absent.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".autopilot", "config.yaml"))
}

// mergeCommands overlays non-empty command vectors from src onto dst.
func mergeCommands(dst, src *Commands) {
	if len(src.SecurityScan) > 0 {
		dst.SecurityScan = src.SecurityScan
	}
	if len(src.DependencyScan) > 0 {
		dst.DependencyScan = src.DependencyScan
	}
	if len(src.Benchmark) > 0 {
		dst.Benchmark = src.Benchmark
	}
	if len(src.Tests) > 0 {
		dst.Tests = src.Tests
	}
	if len(src.Docs) > 0 {
		dst.Docs = src.Docs
	}
	if len(src.Build) > 0 {
		dst.Build = src.Build
	}
	if len(src.Deploy) > 0 {
		dst.Deploy = src.Deploy
	}
	if len(src.Rollback) > 0 {
		dst.Rollback = src.Rollback
	}
}

// applyEnv overrides loop options from the environment. The variable names
// carry over from the deploy loop this orchestrator replaced.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AUTOPILOT_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.CheckInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("AUTOPILOT_REMOTE"); v != "" {
		cfg.Remote = v
	}
	if v := os.Getenv("AUTOPILOT_BRANCH"); v != "" {
		cfg.Branch = v
	}
}

// MergeWithFlags merges CLI flags into the configuration. Non-nil flag
// values override configuration values.
func (c *Config) MergeWithFlags(interval *time.Duration, maxRetries *int, autoDeploy *bool, parallelLimit *int, logDir *string) {
	if interval != nil {
		c.CheckInterval = *interval
	}
	if maxRetries != nil {
		c.MaxRetries = *maxRetries
	}
	if autoDeploy != nil {
		c.AutoDeploy = *autoDeploy
	}
	if parallelLimit != nil {
		c.ParallelAgentLimit = *parallelLimit
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
}

// Validate validates the configuration values.
func (c *Config) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval_seconds must be > 0, got %v", c.CheckInterval)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.ParallelAgentLimit < 0 {
		return fmt.Errorf("parallel_agent_limit must be >= 0, got %d", c.ParallelAgentLimit)
	}
	if c.DegradedBackoffFactor < 1 {
		return fmt.Errorf("degraded_backoff_factor must be >= 1, got %v", c.DegradedBackoffFactor)
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("retry_base_delay must be >= 0, got %v", c.RetryBaseDelay)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be > 0, got %v", c.TaskTimeout)
	}
	if c.NotifyTimeout <= 0 {
		return fmt.Errorf("notify_timeout must be > 0, got %v", c.NotifyTimeout)
	}
	if c.CoverageThreshold < 0 || c.CoverageThreshold > 100 {
		return fmt.Errorf("coverage_threshold must be within [0, 100], got %v", c.CoverageThreshold)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	if c.StateDBPath == "" {
		return fmt.Errorf("state_db_path cannot be empty")
	}
	return nil
}
