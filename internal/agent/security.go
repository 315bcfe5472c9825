package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// defaultCriticalMarkers are the substrings that promote a scan finding to
// a critical, cycle-failing severity. They cover the output of the default
// scanners (govulncheck, trivy).
var defaultCriticalMarkers = []string{
	"CRITICAL",
	"severity: critical",
}

// SecurityAgent runs the vulnerability and dependency scans. A finding of
// critical severity yields Failure, lesser findings yield Degraded, a clean
// scan yields Success. A missing scanner downgrades the run to Degraded
// rather than passing silently.
type SecurityAgent struct {
	runner   task.Runner
	commands [][]string
	classify Classifier
}

// NewSecurityAgent builds a SecurityAgent from the configured scan
// commands. Empty command vectors are skipped.
func NewSecurityAgent(runner task.Runner, cmds config.Commands) *SecurityAgent {
	a := &SecurityAgent{runner: runner}
	for _, cmd := range [][]string{cmds.SecurityScan, cmds.DependencyScan} {
		if len(cmd) > 0 {
			a.commands = append(a.commands, cmd)
		}
	}
	a.classify = a.classifyScan
	return a
}

// SetClassifier replaces the default severity rule. Intended for wiring a
// substituted scanner whose report format differs from the defaults.
func (a *SecurityAgent) SetClassifier(c Classifier) {
	if c != nil {
		a.classify = c
	}
}

// Name returns the agent name.
func (a *SecurityAgent) Name() string { return NameSecurity }

// Run executes the scan commands in sequence and aggregates the worst
// outcome.
func (a *SecurityAgent) Run(ctx context.Context) Result {
	result := Result{Outcome: models.Success()}
	var details []string

	for _, argv := range a.commands {
		res := a.runner.Run(ctx, task.Command{Program: argv[0], Args: argv[1:]})
		result.Tasks = append(result.Tasks, res)

		outcome := a.classify(res)
		if !outcome.IsSuccess() {
			details = append(details, fmt.Sprintf("%s: %s", argv[0], outcome.Reason))
		}
		result.Outcome = result.Outcome.Worse(outcome)

		if outcome.IsFailure() {
			break
		}
	}

	result.Details = strings.Join(details, "; ")
	return result
}

// classifyScan is the default severity rule for the stock scanners:
// critical markers in the output fail the cycle, any other non-zero exit or
// finding degrades it, a clean zero exit passes.
func (a *SecurityAgent) classifyScan(res task.Result) models.Outcome {
	if cancelled(res) {
		return res.Outcome
	}
	if res.NotFound() {
		return models.Degraded(fmt.Sprintf("%s %s", res.Command.Program, task.ReasonNotFound))
	}

	output := res.Stdout + "\n" + res.Stderr
	if containsAny(output, defaultCriticalMarkers) {
		return models.Failure("critical finding: " + summarize(res))
	}
	if res.Outcome.IsFailure() {
		return models.Degraded("scan reported findings: " + summarize(res))
	}
	return models.Success()
}
