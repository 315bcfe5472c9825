package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseguzman1337/autopilot/internal/filelock"
)

// NewEmergencyStopCommand creates the emergency-stop command.
func NewEmergencyStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "emergency-stop",
		Short: "Signal the running loop to halt",
		Long: `Send the emergency-stop signal to the orchestrator loop running against
this working tree. The loop cancels in-flight agents, records the current
cycle as failed with reason "cancelled", and exits without starting a new
cycle.`,
		Args: cobra.NoArgs,
		RunE: runEmergencyStop,
	}
}

func runEmergencyStop(cmd *cobra.Command, args []string) error {
	pidPath := filepath.Join(stateDir, "autopilot.pid")

	pid, err := filelock.ReadPID(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: no autopilot loop is running here (no pidfile at %s)", ErrStartup, pidPath)
		}
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: find process %d: %v", ErrStartup, pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("%w: signal process %d: %v", ErrStartup, pid, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "emergency stop signalled to pid %d\n", pid)
	return nil
}
