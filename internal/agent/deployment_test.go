package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// fakeDeployState is an in-memory DeployState.
type fakeDeployState struct {
	mu      sync.Mutex
	hash    string
	readErr error
	saveErr error
}

func (f *fakeDeployState) LastDeployedHash(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hash, f.readErr
}

func (f *fakeDeployState) SetLastDeployedHash(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.hash = hash
	return nil
}

const testHead = "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4e5f6a1b2"

// gitRunner scripts the standard happy-path git interaction and lets tests
// override individual steps.
func gitRunner(overrides map[string]task.Result) *fakeRunner {
	return &fakeRunner{respond: func(cmd task.Command) task.Result {
		key := cmd.Program
		if len(cmd.Args) > 0 {
			key = cmd.Program + " " + cmd.Args[0]
		}
		if res, ok := overrides[key]; ok {
			res.Command = cmd
			return res
		}
		switch key {
		case "git rev-parse":
			return okResult(cmd, testHead+"\n")
		default:
			return okResult(cmd, "")
		}
	}}
}

func deployConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Commands.Build = []string{"makebuild"}
	cfg.Commands.Deploy = []string{"makedeploy"}
	return cfg
}

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 1, 15, 9, 30, 45, 0, time.UTC)
	}
}

func TestDeploymentAgentFullDeploy(t *testing.T) {
	state := &fakeDeployState{}
	runner := gitRunner(nil)
	a := NewDeploymentAgent(runner, state, deployConfig())
	a.SetClock(fixedClock())

	result := a.RunWithDeploy(context.Background(), true)

	require.Equal(t, models.StatusSuccess, result.Outcome.Status, "details: %s", result.Details)
	assert.True(t, result.DeployAttempted)
	assert.Equal(t, testHead, state.hash, "deployed hash must be recorded")
	assert.Contains(t, result.Details, "prod-20260115-093045-a1b2c3d")

	var programs []string
	for _, c := range runner.calls {
		programs = append(programs, c.Program)
	}
	assert.Contains(t, programs, "makebuild")
	assert.Contains(t, programs, "makedeploy")
}

func TestDeploymentAgentShortCircuitsWhenNothingChanged(t *testing.T) {
	state := &fakeDeployState{hash: testHead}
	runner := gitRunner(nil)
	a := NewDeploymentAgent(runner, state, deployConfig())

	result := a.RunWithDeploy(context.Background(), true)

	assert.Equal(t, models.StatusSuccess, result.Outcome.Status)
	assert.False(t, result.DeployAttempted)
	assert.Equal(t, "no pending changes", result.Details)
	for _, c := range runner.calls {
		assert.NotEqual(t, "makebuild", c.Program, "build must not run without pending changes")
	}
}

func TestDeploymentAgentGateClosedBuildsOnly(t *testing.T) {
	state := &fakeDeployState{}
	runner := gitRunner(nil)
	a := NewDeploymentAgent(runner, state, deployConfig())

	result := a.RunWithDeploy(context.Background(), false)

	assert.Equal(t, models.StatusSuccess, result.Outcome.Status)
	assert.False(t, result.DeployAttempted)
	assert.Contains(t, result.Details, "deploy gate closed")
	assert.Empty(t, state.hash, "gated run must not record a deploy")
	for _, c := range runner.calls {
		assert.NotEqual(t, "makedeploy", c.Program)
	}
}

func TestDeploymentAgentToleratesMissingRemote(t *testing.T) {
	runner := gitRunner(map[string]task.Result{
		"git remote": {Outcome: models.Failure("exit status 2"), ExitCode: 2},
	})
	a := NewDeploymentAgent(runner, &fakeDeployState{}, deployConfig())

	result := a.RunWithDeploy(context.Background(), false)

	assert.Equal(t, models.StatusSuccess, result.Outcome.Status)
	for _, c := range runner.calls {
		if c.Program == "git" && len(c.Args) > 0 {
			assert.NotEqual(t, "fetch", c.Args[0], "no fetch without a remote")
		}
	}
}

func TestDeploymentAgentMergeFailureFails(t *testing.T) {
	runner := gitRunner(map[string]task.Result{
		"git merge": {Outcome: models.Failure("exit status 1"), Stderr: "fatal: not possible to fast-forward", ExitCode: 1},
	})
	a := NewDeploymentAgent(runner, &fakeDeployState{}, deployConfig())

	result := a.RunWithDeploy(context.Background(), true)

	require.True(t, result.Outcome.IsFailure())
	assert.Contains(t, result.Outcome.Reason, "git merge")
}

func TestDeploymentAgentMissingBuildBinaryFails(t *testing.T) {
	runner := gitRunner(map[string]task.Result{
		"makebuild": {Outcome: models.Failure(task.ReasonNotFound), ExitCode: -1},
	})
	a := NewDeploymentAgent(runner, &fakeDeployState{}, deployConfig())

	result := a.RunWithDeploy(context.Background(), true)

	// Unlike the optional scanners, a missing build tool is a hard failure.
	require.True(t, result.Outcome.IsFailure())
	assert.Contains(t, result.Outcome.Reason, "build failed")
}

func TestDeploymentAgentTagFailureDegradesOnly(t *testing.T) {
	state := &fakeDeployState{}
	runner := gitRunner(map[string]task.Result{
		"git tag": {Outcome: models.Failure("exit status 128"), Stderr: "tag already exists", ExitCode: 128},
	})
	a := NewDeploymentAgent(runner, state, deployConfig())

	result := a.RunWithDeploy(context.Background(), true)

	assert.Equal(t, models.StatusDegraded, result.Outcome.Status)
	assert.True(t, result.DeployAttempted, "deploy proceeds past a failed tag")
	assert.Equal(t, testHead, state.hash)
}

func TestDeploymentAgentStateReadErrorFails(t *testing.T) {
	state := &fakeDeployState{readErr: errors.New("db locked")}
	a := NewDeploymentAgent(gitRunner(nil), state, deployConfig())

	result := a.RunWithDeploy(context.Background(), true)

	require.True(t, result.Outcome.IsFailure())
	assert.Contains(t, result.Outcome.Reason, "read deploy state")
}

func TestDeploymentAgentStateSaveErrorDegrades(t *testing.T) {
	state := &fakeDeployState{saveErr: errors.New("disk full")}
	a := NewDeploymentAgent(gitRunner(nil), state, deployConfig())

	result := a.RunWithDeploy(context.Background(), true)

	assert.Equal(t, models.StatusDegraded, result.Outcome.Status)
	assert.True(t, result.DeployAttempted)
}

func TestReleaseTagFormat(t *testing.T) {
	a := NewDeploymentAgent(&fakeRunner{}, &fakeDeployState{}, deployConfig())
	a.SetClock(fixedClock())

	tag := a.releaseTag(testHead)

	assert.Equal(t, "prod-20260115-093045-a1b2c3d", tag)
	assert.True(t, strings.HasPrefix(tag, "prod-"))
}
