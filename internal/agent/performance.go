package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// PerformanceAgent runs the benchmark suite for trend data. It applies no
// pass/fail gate: a completed run reports Success with the captured metrics
// attached, even when individual benchmarks regress. Only a missing tool
// (Degraded) or cancellation (Failure) changes the outcome.
type PerformanceAgent struct {
	runner  task.Runner
	command []string
}

// NewPerformanceAgent builds a PerformanceAgent from the configured
// benchmark command.
func NewPerformanceAgent(runner task.Runner, cmds config.Commands) *PerformanceAgent {
	return &PerformanceAgent{runner: runner, command: cmds.Benchmark}
}

// Name returns the agent name.
func (a *PerformanceAgent) Name() string { return NamePerformance }

// Run executes the benchmark command and attaches its metrics output.
func (a *PerformanceAgent) Run(ctx context.Context) Result {
	if len(a.command) == 0 {
		return Result{Outcome: models.Success(), Details: "no benchmark command configured"}
	}

	res := a.runner.Run(ctx, task.Command{Program: a.command[0], Args: a.command[1:]})
	result := Result{Tasks: []task.Result{res}}

	switch {
	case cancelled(res):
		result.Outcome = res.Outcome
	case res.NotFound():
		result.Outcome = models.Degraded(fmt.Sprintf("%s %s", a.command[0], task.ReasonNotFound))
	default:
		// Metrics feed trend analysis, not gating. A benchmark that exits
		// non-zero still counts as a completed measurement run.
		result.Outcome = models.Success()
		result.Details = strings.TrimSpace(res.Stdout)
	}

	return result
}
