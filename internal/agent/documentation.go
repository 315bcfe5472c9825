package agent

import (
	"context"
	"fmt"

	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// DocumentationAgent regenerates project documentation. Doc generation is
// non-blocking: a failed run is Degraded, never Failure, except under
// cancellation.
type DocumentationAgent struct {
	runner  task.Runner
	command []string
}

// NewDocumentationAgent builds a DocumentationAgent from the configured
// docs command.
func NewDocumentationAgent(runner task.Runner, cmds config.Commands) *DocumentationAgent {
	return &DocumentationAgent{runner: runner, command: cmds.Docs}
}

// Name returns the agent name.
func (a *DocumentationAgent) Name() string { return NameDocumentation }

// Run regenerates the docs.
func (a *DocumentationAgent) Run(ctx context.Context) Result {
	if len(a.command) == 0 {
		return Result{Outcome: models.Success(), Details: "no docs command configured"}
	}

	res := a.runner.Run(ctx, task.Command{Program: a.command[0], Args: a.command[1:]})
	result := Result{Tasks: []task.Result{res}}

	switch {
	case cancelled(res):
		result.Outcome = res.Outcome
	case res.NotFound():
		result.Outcome = models.Degraded(fmt.Sprintf("%s %s", a.command[0], task.ReasonNotFound))
	case res.Outcome.IsFailure():
		result.Outcome = models.Degraded("doc generation failed: " + summarize(res))
	default:
		result.Outcome = models.Success()
	}

	return result
}
