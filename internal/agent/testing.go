package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// coveragePattern matches the per-package coverage lines of the test tool.
var coveragePattern = regexp.MustCompile(`coverage:\s+(\d+(?:\.\d+)?)%`)

// TestingAgent runs the test suite. Any non-zero exit is Failure; with the
// coverage gate enabled, coverage below the threshold is Degraded.
type TestingAgent struct {
	runner            task.Runner
	command           []string
	coverageThreshold float64
}

// NewTestingAgent builds a TestingAgent from the configured test command
// and coverage threshold (0 disables the coverage gate).
func NewTestingAgent(runner task.Runner, cmds config.Commands, coverageThreshold float64) *TestingAgent {
	return &TestingAgent{
		runner:            runner,
		command:           cmds.Tests,
		coverageThreshold: coverageThreshold,
	}
}

// Name returns the agent name.
func (a *TestingAgent) Name() string { return NameTesting }

// Run executes the test suite and applies the coverage gate.
func (a *TestingAgent) Run(ctx context.Context) Result {
	if len(a.command) == 0 {
		return Result{Outcome: models.Degraded("no test command configured")}
	}

	res := a.runner.Run(ctx, task.Command{Program: a.command[0], Args: a.command[1:]})
	result := Result{Tasks: []task.Result{res}}

	switch {
	case cancelled(res):
		result.Outcome = res.Outcome
	case res.NotFound():
		// A test suite that cannot run at all is a hard failure, not an
		// optional tool.
		result.Outcome = models.Failure(fmt.Sprintf("%s %s", a.command[0], task.ReasonNotFound))
	case res.Outcome.IsFailure():
		result.Outcome = models.Failure("test suite failed: " + summarize(res))
	default:
		result.Outcome = a.applyCoverageGate(res)
	}

	return result
}

// applyCoverageGate checks the lowest reported package coverage against the
// configured threshold. Absent coverage output passes the gate.
func (a *TestingAgent) applyCoverageGate(res task.Result) models.Outcome {
	if a.coverageThreshold <= 0 {
		return models.Success()
	}

	matches := coveragePattern.FindAllStringSubmatch(res.Stdout, -1)
	if len(matches) == 0 {
		return models.Success()
	}

	lowest := 100.0
	for _, m := range matches {
		pct, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if pct < lowest {
			lowest = pct
		}
	}

	if lowest < a.coverageThreshold {
		return models.Degraded(fmt.Sprintf("coverage %.1f%% below threshold %.1f%%", lowest, a.coverageThreshold))
	}
	return models.Success()
}
