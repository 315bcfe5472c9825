// Package agent implements the five named pipeline agents. Each agent
// performs one category of work by invoking external tools through the task
// runner and classifying the raw results into a three-tier Outcome. Agents
// hold no shared mutable state and never talk to each other; all
// coordination happens in the cycle controller.
package agent

import (
	"context"
	"strings"

	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// Agent names, fixed for the life of the process.
const (
	NameSecurity      = "security"
	NamePerformance   = "performance"
	NameTesting       = "testing"
	NameDocumentation = "documentation"
	NameDeployment    = "deployment"
)

// Result is what an agent reports back to the cycle controller. Details
// carries human-readable diagnostics (scan findings, benchmark metrics);
// Tasks holds the raw command results for logging.
type Result struct {
	Outcome models.Outcome
	Details string
	Tasks   []task.Result

	// DeployAttempted is set by the deployment agent when the deploy step
	// actually ran (as opposed to being gated off or short-circuited).
	DeployAttempted bool
}

// Agent is a named, independently schedulable unit of pipeline work.
type Agent interface {
	Name() string
	Run(ctx context.Context) Result
}

// Classifier maps one raw tool result to an Outcome. Each agent supplies
// its own rule; the core never parses domain-specific report formats beyond
// what the rule extracts.
type Classifier func(task.Result) models.Outcome

// cancelled reports whether a task result failed due to context
// cancellation. Cancellation always surfaces as a hard Failure regardless
// of the agent's own classification rule.
func cancelled(res task.Result) bool {
	return res.Outcome.IsFailure() && res.Outcome.Reason == task.ReasonCancelled
}

// containsAny reports whether s contains any of the markers,
// case-insensitively.
func containsAny(s string, markers []string) bool {
	lower := strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// summarize trims tool output down to a short single-line diagnostic.
func summarize(res task.Result) string {
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		out = strings.TrimSpace(res.Stderr)
	}
	if idx := strings.IndexByte(out, '\n'); idx >= 0 {
		out = out[:idx]
	}
	const maxLen = 160
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
