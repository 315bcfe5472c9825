package cmd

import (
	"github.com/spf13/cobra"
)

// NewStartCommand creates the start command.
func NewStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Enter the orchestrator loop",
		Long: `Start the autonomous pipeline loop. Each cycle runs the analysis and
validation agents (security, performance, testing, documentation) in
parallel, then build/deploy when validation allows it, then monitoring.
The loop runs until an emergency stop (signal or the emergency-stop
command).

At most one loop may run per working tree; a second start exits with a
startup failure.

Examples:
  autopilot start
  autopilot start --interval 5m --auto-deploy
  autopilot start --config custom.yaml --verbose`,
		Args: cobra.NoArgs,
		RunE: runStart,
	}

	addLoopFlags(cmd)
	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cmd, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.orchestrator.Run(cmd.Context()); err != nil {
		return wrapStartup(err)
	}
	return nil
}
