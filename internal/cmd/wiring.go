package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseguzman1337/autopilot/internal/agent"
	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/cycle"
	"github.com/joseguzman1337/autopilot/internal/escalate"
	"github.com/joseguzman1337/autopilot/internal/filelock"
	"github.com/joseguzman1337/autopilot/internal/logger"
	"github.com/joseguzman1337/autopilot/internal/loop"
	"github.com/joseguzman1337/autopilot/internal/store"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// stateDir is where autopilot keeps its working state relative to the
// piloted tree.
const stateDir = ".autopilot"

// loadConfig resolves the --config flag (or the default location), merges
// flag overrides, and validates. All errors are configuration errors.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	var intervalPtr *time.Duration
	if cmd.Flags().Changed("interval") {
		interval, _ := cmd.Flags().GetDuration("interval")
		intervalPtr = &interval
	}
	var maxRetriesPtr *int
	if cmd.Flags().Changed("max-retries") {
		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		maxRetriesPtr = &maxRetries
	}
	var autoDeployPtr *bool
	if cmd.Flags().Changed("auto-deploy") {
		autoDeploy, _ := cmd.Flags().GetBool("auto-deploy")
		autoDeployPtr = &autoDeploy
	}
	var parallelPtr *int
	if cmd.Flags().Changed("parallel-agents") {
		parallel, _ := cmd.Flags().GetInt("parallel-agents")
		parallelPtr = &parallel
	}
	var logDirPtr *string
	if cmd.Flags().Changed("log-dir") {
		logDir, _ := cmd.Flags().GetString("log-dir")
		logDirPtr = &logDir
	}
	cfg.MergeWithFlags(intervalPtr, maxRetriesPtr, autoDeployPtr, parallelPtr, logDirPtr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return cfg, nil
}

// addLoopFlags registers the flags shared by start and force-deploy.
func addLoopFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to config file (default: .autopilot/config.yaml)")
	cmd.Flags().Duration("interval", 0, "Time between pipeline cycles (e.g. 60s, 5m)")
	cmd.Flags().Int("max-retries", -1, "Per-agent retry ceiling before escalation")
	cmd.Flags().Bool("auto-deploy", false, "Enable the deploy step of the build-deploy stage")
	cmd.Flags().Int("parallel-agents", -1, "Maximum concurrently running agents (0 = unlimited)")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().Bool("verbose", false, "Show detailed execution information")
}

// runtime bundles everything a loop-running command needs.
type runtime struct {
	cfg          *config.Config
	store        *store.Store
	orchestrator *loop.Orchestrator
	logger       logger.Logger
	fileLog      *logger.FileLogger
}

// close releases runtime resources.
func (rt *runtime) close() {
	if rt.fileLog != nil {
		rt.fileLog.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}

// buildRuntime wires the full orchestrator stack from config. Failures here
// are unrecoverable startup failures.
func buildRuntime(cmd *cobra.Command, cfg *config.Config) (*runtime, error) {
	logLevel := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logLevel = "debug"
	}
	console := logger.NewConsoleLogger(os.Stdout, logLevel)

	fileLog, err := logger.NewFileLogger(cfg.LogDir, logLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	log := logger.NewMultiLogger(console, fileLog)

	st, err := store.NewStore(cfg.StateDBPath)
	if err != nil {
		fileLog.Close()
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}

	runner := task.NewRunner(cfg.TaskTimeout)
	registry := agent.NewRegistry(runner, st, cfg)
	controller := cycle.NewController(registry, st, cfg, log)

	var notifier escalate.Notifier
	if cfg.WebhookURL != "" {
		notifier = escalate.NewWebhookNotifier(cfg.WebhookURL, &http.Client{Timeout: cfg.NotifyTimeout})
	}
	escalator := escalate.NewEscalator(notifier, runner, cfg.Commands.Rollback,
		cfg.NotifyTimeout, cfg.AutoDeploy, log)

	lock := filelock.NewInstanceLock(filepath.Join(stateDir, "autopilot.lock"))
	pidPath := filepath.Join(stateDir, "autopilot.pid")

	orchestrator := loop.NewOrchestrator(cfg, controller, escalator, st, lock, pidPath, log)

	return &runtime{
		cfg:          cfg,
		store:        st,
		orchestrator: orchestrator,
		logger:       log,
		fileLog:      fileLog,
	}, nil
}

// wrapStartup tags loop startup errors (lock contention, pidfile) with the
// startup exit class.
func wrapStartup(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStartup, err)
}

// openStore opens just the state database, for the read/write-only
// commands (status, stop).
func openStore(cmd *cobra.Command) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewStore(cfg.StateDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	return cfg, st, nil
}
