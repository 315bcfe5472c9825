package cycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseguzman1337/autopilot/internal/agent"
	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// scriptedRunner fakes the task runner, mapping each program name to a
// scripted result and counting invocations.
type scriptedRunner struct {
	mu      sync.Mutex
	scripts map[string]func(call int) task.Result
	counts  map[string]int
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		scripts: make(map[string]func(call int) task.Result),
		counts:  make(map[string]int),
	}
}

func (r *scriptedRunner) Run(ctx context.Context, cmd task.Command) task.Result {
	r.mu.Lock()
	call := r.counts[cmd.Program]
	r.counts[cmd.Program]++
	script := r.scripts[cmd.Program]
	r.mu.Unlock()

	if ctx.Err() != nil {
		return task.Result{Command: cmd, Outcome: models.Failure(task.ReasonCancelled), ExitCode: -1}
	}
	if script != nil {
		res := script(call)
		res.Command = cmd
		return res
	}
	if cmd.Program == "git" && len(cmd.Args) > 0 && cmd.Args[0] == "rev-parse" {
		return task.Result{Command: cmd, Outcome: models.Success(), Stdout: "feedc0de00\n"}
	}
	return task.Result{Command: cmd, Outcome: models.Success()}
}

func (r *scriptedRunner) script(program string, fn func(call int) task.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[program] = fn
}

func (r *scriptedRunner) count(program string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[program]
}

func alwaysFail(reason string) func(int) task.Result {
	return func(int) task.Result {
		return task.Result{Outcome: models.Failure(reason), ExitCode: 1}
	}
}

// fakeStore is an in-memory RecordStore plus DeployState.
type fakeStore struct {
	mu         sync.Mutex
	records    map[string]*models.AgentRecord
	cycles     []*models.CycleRecord
	deployHash string

	panicOnGet bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*models.AgentRecord)}
}

func (s *fakeStore) GetAgentRecord(ctx context.Context, name string) (*models.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnGet {
		panic("corrupted record state")
	}
	if rec, ok := s.records[name]; ok {
		copied := *rec
		return &copied, nil
	}
	return &models.AgentRecord{Name: name, Enabled: true}, nil
}

func (s *fakeStore) SaveAgentRecord(ctx context.Context, rec *models.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *rec
	s.records[rec.Name] = &copied
	return nil
}

func (s *fakeStore) AppendCycle(ctx context.Context, rec *models.CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles = append(s.cycles, rec)
	return nil
}

func (s *fakeStore) LastDeployedHash(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deployHash, nil
}

func (s *fakeStore) SetLastDeployedHash(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployHash = hash
	return nil
}

func (s *fakeStore) setEnabled(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = &models.AgentRecord{Name: name, Enabled: enabled}
}

func (s *fakeStore) cycleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cycles)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 0
	cfg.Commands = config.Commands{
		SecurityScan: []string{"scanner"},
		Benchmark:    []string{"bench"},
		Tests:        []string{"gotest"},
		Docs:         []string{"mkdocs"},
		Build:        []string{"makebuild"},
		Deploy:       []string{"makedeploy"},
	}
	return cfg
}

func newTestController(runner *scriptedRunner, store *fakeStore, cfg *config.Config) *Controller {
	registry := agent.NewRegistry(runner, store, cfg)
	c := NewController(registry, store, cfg, nil)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestRunCycleAllGreen(t *testing.T) {
	runner := newScriptedRunner()
	store := newFakeStore()
	c := newTestController(runner, store, testConfig())

	rec, err := c.RunCycle(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, rec.Overall.Status)
	assert.Empty(t, string(rec.FailedStage))

	for _, stage := range models.Stages() {
		_, ok := rec.StageOutcomes[stage]
		assert.True(t, ok, "stage %s must be recorded", stage)
	}
	for _, name := range []string{agent.NameSecurity, agent.NamePerformance, agent.NameTesting, agent.NameDocumentation, agent.NameDeployment} {
		_, ok := rec.AgentOutcomes[name]
		assert.True(t, ok, "agent %s outcome must be recorded", name)
	}

	// AutoDeploy off: build runs, deploy does not.
	assert.Equal(t, 1, runner.count("makebuild"))
	assert.Zero(t, runner.count("makedeploy"))
	assert.False(t, rec.DeployAttempted)

	assert.Equal(t, 1, store.cycleCount(), "history must be appended")
}

func TestRunCycleSecurityCriticalBlocksDeploy(t *testing.T) {
	runner := newScriptedRunner()
	runner.script("scanner", func(int) task.Result {
		return task.Result{
			Outcome:  models.Failure("exit status 3"),
			Stdout:   "CVE-2026-1234 severity: critical",
			ExitCode: 3,
		}
	})
	store := newFakeStore()
	cfg := testConfig()
	cfg.AutoDeploy = true
	c := newTestController(runner, store, cfg)

	rec, err := c.RunCycle(context.Background(), false)

	require.NoError(t, err)
	assert.True(t, rec.Overall.IsFailure())
	assert.Equal(t, models.StageAnalysis, rec.FailedStage)
	assert.Zero(t, runner.count("makebuild"), "build-deploy must be skipped on a critical finding")
	assert.Zero(t, runner.count("makedeploy"))
	assert.False(t, rec.DeployAttempted)
}

func TestRunCycleRetriesTransientFailure(t *testing.T) {
	runner := newScriptedRunner()
	runner.script("gotest", func(call int) task.Result {
		if call < 2 {
			return task.Result{Outcome: models.Failure("exit status 1"), Stdout: "--- FAIL", ExitCode: 1}
		}
		return task.Result{Outcome: models.Success(), Stdout: "ok"}
	})
	store := newFakeStore()
	cfg := testConfig()
	cfg.AutoDeploy = true
	c := newTestController(runner, store, cfg)

	rec, err := c.RunCycle(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 3, runner.count("gotest"), "two failures then a pass")
	assert.Equal(t, models.StatusSuccess, rec.StageOutcomes[models.StageValidation].Status)
	assert.Equal(t, models.StatusSuccess, rec.Overall.Status)
	assert.Equal(t, 1, runner.count("makedeploy"), "deploy proceeds after the eventual pass")
}

func TestRunCycleRetryCeiling(t *testing.T) {
	runner := newScriptedRunner()
	runner.script("gotest", alwaysFail("exit status 1"))
	store := newFakeStore()
	cfg := testConfig()
	cfg.MaxRetries = 2
	c := newTestController(runner, store, cfg)

	rec, err := c.RunCycle(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 3, runner.count("gotest"), "initial attempt plus two retries")
	assert.True(t, rec.Overall.IsFailure())
	assert.Equal(t, models.StageValidation, rec.FailedStage)

	// The failure lands in the agent's persistent record.
	saved, err := store.GetAgentRecord(context.Background(), agent.NameTesting)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.ConsecutiveFailures)
}

func TestRunCycleDegradedNotRetried(t *testing.T) {
	runner := newScriptedRunner()
	runner.script("scanner", func(int) task.Result {
		return task.Result{Outcome: models.Failure(task.ReasonNotFound), ExitCode: -1}
	})
	store := newFakeStore()
	c := newTestController(runner, store, testConfig())

	rec, err := c.RunCycle(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, runner.count("scanner"), "degraded outcomes are accepted as-is")
	assert.Equal(t, models.StatusDegraded, rec.Overall.Status)
	// A degraded gate still lets the build run.
	assert.Equal(t, 1, runner.count("makebuild"))
}

func TestRunCyclePersistedDisableSkipsAgent(t *testing.T) {
	runner := newScriptedRunner()
	store := newFakeStore()
	store.setEnabled(agent.NameTesting, false)
	c := newTestController(runner, store, testConfig())

	rec, err := c.RunCycle(context.Background(), false)

	require.NoError(t, err)
	assert.Zero(t, runner.count("gotest"), "disabled agent must not run")
	_, ok := rec.AgentOutcomes[agent.NameTesting]
	assert.False(t, ok)
	assert.Equal(t, models.StatusSuccess, rec.Overall.Status)
}

func TestRunCycleForceDeployOverridesAutoDeploy(t *testing.T) {
	runner := newScriptedRunner()
	store := newFakeStore()
	cfg := testConfig()
	cfg.AutoDeploy = false
	c := newTestController(runner, store, cfg)

	rec, err := c.RunCycle(context.Background(), true)

	require.NoError(t, err)
	assert.Equal(t, 1, runner.count("makedeploy"))
	assert.True(t, rec.DeployAttempted)
	assert.Equal(t, "feedc0de00", store.deployHash)
}

func TestRunCycleAutoDeploy(t *testing.T) {
	runner := newScriptedRunner()
	store := newFakeStore()
	cfg := testConfig()
	cfg.AutoDeploy = true
	c := newTestController(runner, store, cfg)

	rec, err := c.RunCycle(context.Background(), false)

	require.NoError(t, err)
	assert.Equal(t, 1, runner.count("makedeploy"))
	assert.True(t, rec.DeployAttempted)
	assert.Equal(t, models.StatusSuccess, rec.Overall.Status)
}

func TestRunCycleCancellation(t *testing.T) {
	runner := newScriptedRunner()
	store := newFakeStore()
	c := newTestController(runner, store, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, err := c.RunCycle(ctx, false)

	require.NoError(t, err)
	assert.True(t, rec.Overall.IsFailure())
	assert.Equal(t, task.ReasonCancelled, rec.Overall.Reason)
	assert.Equal(t, 1, store.cycleCount(), "cancelled cycles are still recorded")
}

func TestRunCycleDefectRecovered(t *testing.T) {
	runner := newScriptedRunner()
	store := newFakeStore()
	store.panicOnGet = true
	c := newTestController(runner, store, testConfig())

	rec, err := c.RunCycle(context.Background(), false)

	var defect *DefectError
	require.ErrorAs(t, err, &defect)
	assert.Contains(t, defect.Error(), "corrupted record state")
	require.NotNil(t, rec)
	assert.True(t, rec.Overall.IsFailure())
}

func TestRunCycleMonitorAlwaysRuns(t *testing.T) {
	runner := newScriptedRunner()
	runner.script("gotest", alwaysFail("exit status 1"))
	store := newFakeStore()
	c := newTestController(runner, store, testConfig())

	rec, err := c.RunCycle(context.Background(), false)

	require.NoError(t, err)
	_, ok := rec.StageOutcomes[models.StageMonitor]
	assert.True(t, ok, "monitor stage must run after a validation failure")
}

func TestRunCycleParallelLimitRespected(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0

	runner := newScriptedRunner()
	slow := func(int) task.Result {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return task.Result{Outcome: models.Success()}
	}
	for _, program := range []string{"scanner", "bench", "gotest", "mkdocs"} {
		runner.script(program, slow)
	}

	store := newFakeStore()
	cfg := testConfig()
	cfg.ParallelAgentLimit = 1
	c := newTestController(runner, store, cfg)

	_, err := c.RunCycle(context.Background(), false)

	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, peak, "at most one agent command in flight")
}
