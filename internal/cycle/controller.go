// Package cycle implements the pipeline cycle controller: one full pass
// through analysis, validation, feature work, build/deploy and monitoring,
// with bounded-parallel agent dispatch and a per-agent retry policy.
package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseguzman1337/autopilot/internal/agent"
	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/logger"
	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// RecordStore persists agent records and cycle history. Implemented by the
// store package; faked in tests.
type RecordStore interface {
	GetAgentRecord(ctx context.Context, name string) (*models.AgentRecord, error)
	SaveAgentRecord(ctx context.Context, rec *models.AgentRecord) error
	AppendCycle(ctx context.Context, rec *models.CycleRecord) error
}

// DefectError wraps a panic recovered inside the controller. It marks an
// internal defect rather than an agent failure: the loop logs it, cools
// down, and continues.
type DefectError struct {
	Value any
}

// Error implements the error interface.
func (e *DefectError) Error() string {
	return fmt.Sprintf("controller defect: %v", e.Value)
}

// Controller runs one pipeline cycle at a time. All shared state (agent
// records, cycle history) is mutated here and only here; agents communicate
// exclusively through return values.
type Controller struct {
	registry *agent.Registry
	store    RecordStore
	cfg      *config.Config
	logger   logger.Logger

	clock func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a Controller. logger may be nil to disable logging.
func NewController(registry *agent.Registry, store RecordStore, cfg *config.Config, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Controller{
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   log,
		clock:    time.Now,
		newID:    func() string { return uuid.NewString() },
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// agentRun carries one agent's final result back to the join point.
type agentRun struct {
	name    string
	result  agent.Result
	retries int
}

// RunCycle executes one full pipeline pass and returns its finalized
// record. forceDeploy gates the deploy step on validation only, ignoring
// the autoDeploy setting. A non-nil error is always a *DefectError; agent
// failures surface through the record's outcomes instead.
func (c *Controller) RunCycle(ctx context.Context, forceDeploy bool) (rec *models.CycleRecord, err error) {
	rec = models.NewCycleRecord(c.newID(), c.clock())

	defer func() {
		if r := recover(); r != nil {
			err = &DefectError{Value: r}
			rec.SetStageOutcome(models.StageMonitor, models.Failure("controller defect"))
			rec.Finalize(c.clock())
		}
	}()

	c.logger.Infof("cycle %s starting", rec.ID)

	// Analysis + validation agents form one concurrently dispatched pool;
	// their outcomes are recorded under their respective stages and the
	// combined worst-of is the gate for build/deploy.
	runs := c.runValidationPool(ctx, rec)

	analysisAgents := map[string]bool{agent.NameSecurity: true, agent.NamePerformance: true}
	var analysisOutcomes, validationOutcomes []models.Outcome
	for _, run := range runs {
		rec.SetAgentOutcome(run.name, run.result.Outcome)
		if analysisAgents[run.name] {
			analysisOutcomes = append(analysisOutcomes, run.result.Outcome)
		} else {
			validationOutcomes = append(validationOutcomes, run.result.Outcome)
		}
	}
	rec.SetStageOutcome(models.StageAnalysis, models.WorstOf(analysisOutcomes...))
	rec.SetStageOutcome(models.StageValidation, models.WorstOf(validationOutcomes...))

	// No agents are bound to feature work in the fixed five-agent set; the
	// stage passes through so the record shows the full stage sequence.
	rec.SetStageOutcome(models.StageFeatureWork, models.Success())

	gate := models.WorstOf(append(analysisOutcomes, validationOutcomes...)...)

	c.runBuildDeploy(ctx, rec, gate, forceDeploy)
	c.runMonitor(ctx, rec)

	rec.Finalize(c.clock())

	// Cancellation mid-cycle always yields Failure("cancelled"), whatever
	// the individual stages reported.
	if ctx.Err() != nil {
		rec.Overall = models.Failure(task.ReasonCancelled)
	}

	// History is appended even for a cancelled cycle.
	if err := c.store.AppendCycle(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Warnf("cycle %s: persist history: %v", rec.ID, err)
	}

	c.logger.Infof("cycle %s finished in %s: %s", rec.ID, rec.Duration().Round(time.Second), rec.Overall)
	return rec, nil
}

// runValidationPool dispatches the enabled analysis/validation agents
// concurrently, bounded by parallelAgentLimit, and joins before returning.
func (c *Controller) runValidationPool(ctx context.Context, rec *models.CycleRecord) []agentRun {
	agents := c.registry.ValidationAgents()

	var mu sync.Mutex
	var runs []agentRun

	g, gctx := errgroup.WithContext(ctx)
	if limit := c.cfg.ParallelAgentLimit; limit > 0 {
		g.SetLimit(limit)
	}

	for _, a := range agents {
		a := a // per-iteration copy; the go directive predates Go 1.22 loop scoping
		enabled, err := c.agentEnabled(ctx, a.Name())
		if err != nil {
			c.logger.Warnf("agent %s: read record: %v", a.Name(), err)
		}
		if !enabled {
			c.logger.Debugf("agent %s disabled, skipping", a.Name())
			continue
		}

		g.Go(func() error {
			run := c.runAgentWithRetry(gctx, a)
			mu.Lock()
			runs = append(runs, run)
			mu.Unlock()
			return nil
		})
	}

	// Join point: the cycle never advances past validation with agents
	// still in flight.
	_ = g.Wait()

	for _, run := range runs {
		c.recordAgentOutcome(ctx, run)
	}
	return runs
}

// agentEnabled consults the persisted enabled flag so `autopilot stop`
// issued from another process takes effect on the next cycle.
func (c *Controller) agentEnabled(ctx context.Context, name string) (bool, error) {
	if !c.registry.Enabled(name) {
		return false, nil
	}
	rec, err := c.store.GetAgentRecord(ctx, name)
	if err != nil {
		return true, err
	}
	return rec.Enabled, nil
}

// runAgentWithRetry applies the per-agent retry policy: a Failure outcome
// is re-invoked up to maxRetries times with linear backoff; Degraded is
// accepted as-is and never retried.
func (c *Controller) runAgentWithRetry(ctx context.Context, a agent.Agent) agentRun {
	run := agentRun{name: a.Name()}

	for attempt := 0; ; attempt++ {
		c.logger.Debugf("agent %s: attempt %d", a.Name(), attempt+1)
		run.result = a.Run(ctx)
		run.retries = attempt

		if !run.result.Outcome.IsFailure() {
			break
		}
		if ctx.Err() != nil || run.result.Outcome.Reason == task.ReasonCancelled {
			break
		}
		if attempt >= c.cfg.MaxRetries {
			c.logger.Warnf("agent %s: failure accepted after %d retries: %s",
				a.Name(), attempt, run.result.Outcome.Reason)
			break
		}

		backoff := time.Duration(attempt+1) * c.cfg.RetryBaseDelay
		c.logger.Infof("agent %s failed (%s), retrying in %s",
			a.Name(), run.result.Outcome.Reason, backoff)
		if err := c.sleep(ctx, backoff); err != nil {
			break
		}
	}

	return run
}

// recordAgentOutcome folds one agent run into its persistent record. The
// record is written even when the cycle context was cancelled, so failure
// counters survive an emergency stop.
func (c *Controller) recordAgentOutcome(ctx context.Context, run agentRun) {
	ctx = context.WithoutCancel(ctx)
	rec, err := c.store.GetAgentRecord(ctx, run.name)
	if err != nil {
		c.logger.Warnf("agent %s: read record: %v", run.name, err)
		rec = &models.AgentRecord{Name: run.name, Enabled: true}
	}
	rec.RecordOutcome(c.clock(), run.result.Outcome)
	if err := c.store.SaveAgentRecord(ctx, rec); err != nil {
		c.logger.Warnf("agent %s: save record: %v", run.name, err)
	}

	c.logger.Infof("agent %s: %s", run.name, run.result.Outcome)
	if run.result.Details != "" {
		c.logger.Debugf("agent %s: %s", run.name, run.result.Details)
	}
}

// runBuildDeploy runs the deployment agent when the validation gate allows
// it. The deploy step itself additionally requires autoDeploy (or a forced
// cycle); it is never attempted after a validation Failure.
func (c *Controller) runBuildDeploy(ctx context.Context, rec *models.CycleRecord, gate models.Outcome, forceDeploy bool) {
	if gate.IsFailure() {
		c.logger.Warnf("build-deploy skipped: validation gate failed (%s)", gate.Reason)
		return
	}

	deployAgent := c.registry.Deployment()
	if deployAgent == nil {
		return
	}
	enabled, err := c.agentEnabled(ctx, agent.NameDeployment)
	if err != nil {
		c.logger.Warnf("agent %s: read record: %v", agent.NameDeployment, err)
	}
	if !enabled {
		c.logger.Debugf("agent %s disabled, skipping", agent.NameDeployment)
		return
	}

	allowDeploy := c.cfg.AutoDeploy || forceDeploy
	if !allowDeploy {
		c.logger.Infof("auto-deploy disabled, running build only")
	}

	run := c.runDeployWithRetry(ctx, deployAgent, allowDeploy)
	rec.SetAgentOutcome(run.name, run.result.Outcome)
	rec.SetStageOutcome(models.StageBuildDeploy, run.result.Outcome)
	rec.DeployAttempted = run.result.DeployAttempted
	c.recordAgentOutcome(ctx, run)
}

// runDeployWithRetry mirrors runAgentWithRetry for the deployment agent,
// which takes the deploy gate as an argument.
func (c *Controller) runDeployWithRetry(ctx context.Context, a *agent.DeploymentAgent, allowDeploy bool) agentRun {
	run := agentRun{name: a.Name()}

	for attempt := 0; ; attempt++ {
		run.result = a.RunWithDeploy(ctx, allowDeploy)
		run.retries = attempt

		if !run.result.Outcome.IsFailure() {
			break
		}
		if ctx.Err() != nil || run.result.Outcome.Reason == task.ReasonCancelled {
			break
		}
		if attempt >= c.cfg.MaxRetries {
			break
		}

		backoff := time.Duration(attempt+1) * c.cfg.RetryBaseDelay
		c.logger.Infof("agent %s failed (%s), retrying in %s",
			a.Name(), run.result.Outcome.Reason, backoff)
		if err := c.sleep(ctx, backoff); err != nil {
			break
		}
	}

	return run
}

// runMonitor records cycle health. It runs unconditionally after
// build/deploy, including after failures, so the history always carries a
// health snapshot.
func (c *Controller) runMonitor(ctx context.Context, rec *models.CycleRecord) {
	for name, agentOutcome := range rec.AgentOutcomes {
		c.logger.Debugf("monitor: %s=%s", name, agentOutcome.Status)
	}
	for _, stage := range []models.Stage{models.StageAnalysis, models.StageValidation, models.StageBuildDeploy} {
		if so, ok := rec.StageOutcomes[stage]; ok && so.IsFailure() {
			c.logger.Warnf("monitor: %s stage failed: %s", stage, so.Reason)
		}
	}

	outcome := models.Success()
	// The snapshot must survive an emergency stop, so persistence below
	// runs detached from the cycle context.
	saveCtx := context.WithoutCancel(ctx)
	records, err := c.listAgentRecords(saveCtx)
	if err != nil {
		c.logger.Warnf("monitor: read agent records: %v", err)
		outcome = models.Degraded("health snapshot incomplete: " + err.Error())
	} else {
		for _, r := range records {
			if r.ConsecutiveFailures > 0 {
				c.logger.Warnf("monitor: agent %s has %d consecutive failures",
					r.Name, r.ConsecutiveFailures)
			}
		}
	}

	rec.SetStageOutcome(models.StageMonitor, outcome)
}

// listAgentRecords loads the persistent records for the fixed agent set.
func (c *Controller) listAgentRecords(ctx context.Context) ([]*models.AgentRecord, error) {
	var records []*models.AgentRecord
	for _, name := range c.registry.Names() {
		rec, err := c.store.GetAgentRecord(ctx, name)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
