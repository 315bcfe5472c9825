// Package escalate converts a fatal cycle outcome into an operator alert
// and, where configured, a rollback. The notification channel is an
// injected collaborator; its failures are logged locally and never
// propagate to the orchestrator loop.
package escalate

import (
	"context"
	"time"

	"github.com/joseguzman1337/autopilot/internal/logger"
	"github.com/joseguzman1337/autopilot/internal/models"
	"github.com/joseguzman1337/autopilot/internal/task"
)

// Notifier delivers one alert. Implementations must honor the context
// deadline.
type Notifier interface {
	Notify(ctx context.Context, subject, htmlBody string) error
}

// Escalator sends structured alerts for fatal cycle failures and triggers
// rollback when an auto-deployed build/deploy stage was the culprit.
type Escalator struct {
	notifier   Notifier
	runner     task.Runner
	rollback   []string
	timeout    time.Duration
	autoDeploy bool
	logger     logger.Logger
}

// NewEscalator creates an Escalator. notifier may be nil, in which case
// alerts are only logged. timeout bounds how long one escalation may block
// the loop.
func NewEscalator(notifier Notifier, runner task.Runner, rollback []string, timeout time.Duration, autoDeploy bool, log logger.Logger) *Escalator {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Escalator{
		notifier:   notifier,
		runner:     runner,
		rollback:   rollback,
		timeout:    timeout,
		autoDeploy: autoDeploy,
		logger:     log,
	}
}

// Escalate sends the alert for the failed cycle and runs rollback when the
// failing stage was build/deploy under auto-deploy. Notification failure is
// never fatal: it is logged and the loop proceeds.
func (e *Escalator) Escalate(ctx context.Context, rec *models.CycleRecord, consecutiveFailures int) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	report := BuildReport(rec, consecutiveFailures)
	e.logger.Errorf("escalating cycle %s after %d consecutive failures (%s)",
		rec.ID, consecutiveFailures, rec.Overall.Reason)

	if e.notifier != nil {
		subject := "autopilot: pipeline failing (" + rec.Overall.Reason + ")"
		if err := e.notifier.Notify(ctx, subject, RenderHTML(report)); err != nil {
			e.logger.Warnf("escalation notification failed: %v", err)
		}
	}

	if e.shouldRollback(rec) {
		e.performRollback(ctx)
	}
}

// shouldRollback applies the rollback rule: only when the deploy step was
// live (autoDeploy) and the failure originated in the build/deploy stage.
func (e *Escalator) shouldRollback(rec *models.CycleRecord) bool {
	return e.autoDeploy &&
		rec.FailedStage == models.StageBuildDeploy &&
		len(e.rollback) > 0 &&
		e.runner != nil
}

func (e *Escalator) performRollback(ctx context.Context) {
	e.logger.Warnf("initiating rollback: %v", e.rollback)
	res := e.runner.Run(ctx, task.Command{Program: e.rollback[0], Args: e.rollback[1:]})
	if res.Outcome.IsFailure() {
		e.logger.Errorf("rollback failed: %s", res.Outcome.Reason)
		return
	}
	e.logger.Infof("rollback completed")
}
