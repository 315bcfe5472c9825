package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joseguzman1337/autopilot/internal/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		switch {
		case errors.Is(err, cmd.ErrStartup):
			os.Exit(2)
		default:
			os.Exit(1)
		}
	}
}
