package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseguzman1337/autopilot/internal/logger"
	"github.com/joseguzman1337/autopilot/internal/models"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the latest cycle summary",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
	cmd.Flags().String("config", "", "Path to config file (default: .autopilot/config.yaml)")
	cmd.Flags().Int("history", 1, "Number of recent cycles to show")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	limit, _ := cmd.Flags().GetInt("history")
	if limit < 1 {
		limit = 1
	}
	cycles, err := st.RecentCycles(ctx, limit)
	if err != nil {
		return wrapStartup(err)
	}
	if len(cycles) == 0 {
		fmt.Fprintln(out, "no cycles recorded yet")
		return nil
	}

	for i, rec := range cycles {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printCycle(out, rec)
	}

	records, err := st.ListAgentRecords(ctx)
	if err != nil {
		return wrapStartup(err)
	}
	if len(records) > 0 {
		fmt.Fprintln(out, "\nAgents:")
		for _, r := range records {
			state := "enabled"
			if !r.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(out, "  %-14s %-9s last=%s failures=%d\n",
				r.Name, state, logger.ColorizeOutcome(r.LastOutcome), r.ConsecutiveFailures)
		}
	}
	return nil
}

func printCycle(out io.Writer, rec *models.CycleRecord) {
	fmt.Fprintf(out, "Cycle %s\n", rec.ID)
	fmt.Fprintf(out, "  Started:  %s\n", rec.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "  Duration: %s\n", rec.Duration().Round(time.Second))
	fmt.Fprintf(out, "  Overall:  %s\n", logger.ColorizeOutcome(rec.Overall))
	if rec.FailedStage != "" {
		fmt.Fprintf(out, "  Failed stage: %s\n", rec.FailedStage)
	}
	fmt.Fprintf(out, "  Deploy attempted: %v\n", rec.DeployAttempted)
	for _, stage := range models.Stages() {
		if outcome, ok := rec.StageOutcomes[stage]; ok {
			fmt.Fprintf(out, "  %-13s %s\n", string(stage)+":", logger.ColorizeOutcome(outcome))
		}
	}
}
