package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// DeployState persists the last successfully deployed commit hash so the
// agent can short-circuit when nothing changed since the previous cycle.
type DeployState interface {
	LastDeployedHash(ctx context.Context) (string, error)
	SetLastDeployedHash(ctx context.Context, hash string) error
}

// DeploymentAgent drives the build/deploy pipeline: sync from the remote,
// detect pending changes, build the release image, tag it, and deploy.
// The deploy step itself is gated by the cycle controller; the agent only
// executes it when told to.
type DeploymentAgent struct {
	runner task.Runner
	state  DeployState
	remote string
	branch string
	build  []string
	deploy []string
	clock  func() time.Time
}

// NewDeploymentAgent builds a DeploymentAgent.
func NewDeploymentAgent(runner task.Runner, state DeployState, cfg *config.Config) *DeploymentAgent {
	return &DeploymentAgent{
		runner: runner,
		state:  state,
		remote: cfg.Remote,
		branch: cfg.Branch,
		build:  cfg.Commands.Build,
		deploy: cfg.Commands.Deploy,
		clock:  time.Now,
	}
}

// SetClock overrides the clock used for release tag names.
func (a *DeploymentAgent) SetClock(clock func() time.Time) {
	if clock != nil {
		a.clock = clock
	}
}

// Name returns the agent name.
func (a *DeploymentAgent) Name() string { return NameDeployment }

// Run satisfies the Agent interface with the deploy step disabled.
func (a *DeploymentAgent) Run(ctx context.Context) Result {
	return a.RunWithDeploy(ctx, false)
}

// RunWithDeploy runs the pipeline. When allowDeploy is false the agent
// stops after a successful build and reports Success with the deploy step
// skipped.
func (a *DeploymentAgent) RunWithDeploy(ctx context.Context, allowDeploy bool) Result {
	result := Result{Outcome: models.Success()}

	head, syncOutcome := a.syncAndResolveHead(ctx, &result)
	if !syncOutcome.IsSuccess() {
		result.Outcome = syncOutcome
		return result
	}

	last, err := a.state.LastDeployedHash(ctx)
	if err != nil {
		result.Outcome = models.Failure("read deploy state: " + err.Error())
		return result
	}
	if head == last {
		result.Details = "no pending changes"
		return result
	}

	if outcome := a.runRequired(ctx, &result, a.build, "build"); !outcome.IsSuccess() {
		result.Outcome = outcome
		return result
	}

	if !allowDeploy {
		result.Details = fmt.Sprintf("built %s, deploy gate closed", shortHash(head))
		return result
	}

	tag := a.releaseTag(head)
	if res := a.git(ctx, "tag", tag); res.Outcome.IsFailure() {
		// Tagging is bookkeeping; a failed tag must not block the release.
		result.Tasks = append(result.Tasks, res)
		result.Outcome = result.Outcome.Worse(models.Degraded("tag failed: " + summarize(res)))
	}

	result.DeployAttempted = true
	if outcome := a.runRequired(ctx, &result, a.deploy, "deploy"); !outcome.IsSuccess() {
		result.Outcome = outcome
		return result
	}

	if err := a.state.SetLastDeployedHash(ctx, head); err != nil {
		result.Outcome = result.Outcome.Worse(models.Degraded("record deploy state: " + err.Error()))
	}
	result.Details = fmt.Sprintf("deployed %s as %s", shortHash(head), tag)
	return result
}

// syncAndResolveHead fetches and merges from the remote when one is
// configured, then resolves the current HEAD hash. A missing remote is
// tolerated and noted, matching the original deploy loop.
func (a *DeploymentAgent) syncAndResolveHead(ctx context.Context, result *Result) (string, models.Outcome) {
	remoteRes := a.git(ctx, "remote", "get-url", a.remote)
	result.Tasks = append(result.Tasks, remoteRes)
	if cancelled(remoteRes) {
		return "", remoteRes.Outcome
	}

	if remoteRes.Outcome.IsSuccess() {
		for _, args := range [][]string{
			{"fetch", a.remote},
			{"merge", "--ff-only", a.remote + "/" + a.branch},
		} {
			res := a.git(ctx, args...)
			result.Tasks = append(result.Tasks, res)
			if res.Outcome.IsFailure() {
				if cancelled(res) {
					return "", res.Outcome
				}
				return "", models.Failure(fmt.Sprintf("git %s: %s", args[0], summarize(res)))
			}
		}
	} else {
		result.Details = fmt.Sprintf("remote %q not configured, skipping fetch", a.remote)
	}

	headRes := a.git(ctx, "rev-parse", "HEAD")
	result.Tasks = append(result.Tasks, headRes)
	if headRes.Outcome.IsFailure() {
		if cancelled(headRes) {
			return "", headRes.Outcome
		}
		return "", models.Failure("resolve HEAD: " + summarize(headRes))
	}

	return strings.TrimSpace(headRes.Stdout), models.Success()
}

// runRequired executes a mandatory pipeline step. Unlike optional tools, a
// missing build or deploy binary is a hard failure.
func (a *DeploymentAgent) runRequired(ctx context.Context, result *Result, argv []string, step string) models.Outcome {
	if len(argv) == 0 {
		return models.Failure("no " + step + " command configured")
	}

	res := a.runner.Run(ctx, task.Command{Program: argv[0], Args: argv[1:]})
	result.Tasks = append(result.Tasks, res)

	if res.Outcome.IsFailure() {
		if cancelled(res) {
			return res.Outcome
		}
		return models.Failure(fmt.Sprintf("%s failed: %s", step, summarize(res)))
	}
	return models.Success()
}

func (a *DeploymentAgent) git(ctx context.Context, args ...string) task.Result {
	return a.runner.Run(ctx, task.Command{Program: "git", Args: args})
}

// releaseTag builds the production tag name, e.g. prod-20260115-093045-a1b2c3d.
func (a *DeploymentAgent) releaseTag(hash string) string {
	return fmt.Sprintf("prod-%s-%s", a.clock().UTC().Format("20060102-150405"), shortHash(hash))
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
