package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseguzman1337/autopilot/internal/logger"
)

// NewForceDeployCommand creates the force-deploy command.
func NewForceDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "force-deploy",
		Short: "Run a single cycle with the deploy step enabled",
		Long: `Run one pipeline cycle outside the loop, with the deploy step gated on
validation only. The auto_deploy setting is ignored for this cycle, but a
validation failure still blocks the deploy.`,
		Args: cobra.NoArgs,
		RunE: runForceDeploy,
	}

	addLoopFlags(cmd)
	return cmd
}

func runForceDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cmd, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	rec, err := rt.orchestrator.RunOnce(cmd.Context())
	if err != nil {
		return wrapStartup(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "cycle %s: %s\n", rec.ID, logger.ColorizeOutcome(rec.Overall))
	if rec.FailedStage != "" {
		fmt.Fprintf(out, "failed stage: %s\n", rec.FailedStage)
	}
	if !rec.DeployAttempted {
		fmt.Fprintln(out, "deploy was not attempted")
	}
	return nil
}
