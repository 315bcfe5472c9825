package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseguzman1337/autopilot/internal/agent"
)

// knownAgents is the fixed agent set accepted by stop.
var knownAgents = map[string]bool{
	agent.NameSecurity:      true,
	agent.NamePerformance:   true,
	agent.NameTesting:       true,
	agent.NameDocumentation: true,
	agent.NameDeployment:    true,
}

// NewStopCommand creates the stop command.
func NewStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <agent-name>",
		Short: "Disable one agent for subsequent cycles",
		Long: `Disable a single agent without stopping the loop. The running
orchestrator picks the change up at the start of its next cycle.

Agent names: security, performance, testing, documentation, deployment.`,
		Args: cobra.ExactArgs(1),
		RunE: runStop,
	}
	cmd.Flags().String("config", "", "Path to config file (default: .autopilot/config.yaml)")
	cmd.Flags().Bool("enable", false, "Re-enable the agent instead of disabling it")
	return cmd
}

func runStop(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !knownAgents[name] {
		return fmt.Errorf("%w: unknown agent %q", ErrConfig, name)
	}

	_, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	enable, _ := cmd.Flags().GetBool("enable")
	if err := st.SetAgentEnabled(cmd.Context(), name, enable); err != nil {
		return wrapStartup(err)
	}

	if enable {
		fmt.Fprintf(cmd.OutOrStdout(), "agent %s enabled\n", name)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "agent %s disabled for subsequent cycles\n", name)
	}
	return nil
}
