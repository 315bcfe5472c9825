// Package cmd implements the autopilot command-line interface.
package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// ErrConfig marks configuration errors; the process exits with code 1.
var ErrConfig = errors.New("configuration error")

// ErrStartup marks unrecoverable startup failures; the process exits with
// code 2.
var ErrStartup = errors.New("startup failure")

// NewRootCommand creates and returns the root cobra command for autopilot.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Autonomous pipeline orchestrator",
		Long: `Autopilot runs a continuous pipeline control loop: it sequences
security scanning, benchmarking, testing, documentation and deployment
agents, retries transient failures, and escalates unrecoverable ones.

State (configuration, cycle history, logs) lives under .autopilot/ in the
working tree being piloted.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewStartCommand())
	cmd.AddCommand(NewStopCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewForceDeployCommand())
	cmd.AddCommand(NewEmergencyStopCommand())

	return cmd
}
