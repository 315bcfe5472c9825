// Package loop implements the top-level orchestrator: an indefinitely
// running control loop that drives pipeline cycles on a fixed interval,
// survives controller defects, and escalates repeated failures.
package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseguzman1337/autopilot/internal/config"
	"github.com/joseguzman1337/autopilot/internal/cycle"
	"github.com/joseguzman1337/autopilot/internal/filelock"
	"github.com/joseguzman1337/autopilot/internal/logger"
	"github.com/joseguzman1337/autopilot/internal/models"
)

// escalationThreshold is the number of consecutive cycle-level failures
// that triggers escalation and degraded polling.
const escalationThreshold = 3

// maxDegradedInterval caps the degraded polling interval so a long outage
// still gets probed regularly.
const maxDegradedInterval = time.Hour

// ErrAlreadyRunning reports that another orchestrator holds the instance
// lock for this working tree.
var ErrAlreadyRunning = errors.New("another autopilot instance is already running")

// CycleRunner runs one pipeline cycle. Implemented by cycle.Controller.
type CycleRunner interface {
	RunCycle(ctx context.Context, forceDeploy bool) (*models.CycleRecord, error)
}

// Escalator handles fatal cycle outcomes. Implemented by
// escalate.Escalator.
type Escalator interface {
	Escalate(ctx context.Context, rec *models.CycleRecord, consecutiveFailures int)
}

// HistoryStore exposes the persisted failure streak so a restart resumes
// escalation accounting instead of starting clean.
type HistoryStore interface {
	ConsecutiveCycleFailures(ctx context.Context) (int, error)
}

// Orchestrator owns the control loop state: config, the cycle controller,
// escalation, and the single-instance lock. It is constructed once at
// startup and is the only component that decides when cycles run.
type Orchestrator struct {
	cfg        *config.Config
	controller CycleRunner
	escalator  Escalator
	history    HistoryStore
	logger     logger.Logger

	lock    *filelock.InstanceLock
	pidPath string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires the loop together. lock and pidPath may be zero
// values in tests.
func NewOrchestrator(cfg *config.Config, controller CycleRunner, escalator Escalator, history HistoryStore, lock *filelock.InstanceLock, pidPath string, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Orchestrator{
		cfg:        cfg,
		controller: controller,
		escalator:  escalator,
		history:    history,
		logger:     log,
		lock:       lock,
		pidPath:    pidPath,
		sleep:      sleepCtx,
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

// acquire takes the instance lock and writes the pidfile. Returns
// ErrAlreadyRunning when a second orchestrator targets the same tree.
func (o *Orchestrator) acquire() error {
	if o.lock != nil {
		ok, err := o.lock.TryLock()
		if err != nil {
			return fmt.Errorf("instance lock: %w", err)
		}
		if !ok {
			return ErrAlreadyRunning
		}
	}
	if o.pidPath != "" {
		if err := filelock.WritePID(o.pidPath); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) release() {
	if o.pidPath != "" {
		if err := filelock.RemovePID(o.pidPath); err != nil {
			o.logger.Warnf("%v", err)
		}
	}
	if o.lock != nil {
		if err := o.lock.Unlock(); err != nil {
			o.logger.Warnf("%v", err)
		}
	}
}

// Run enters the orchestrator loop and blocks until the context is
// cancelled or an emergency-stop signal arrives. A single bad cycle never
// terminates the loop; only cancellation does.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.acquire(); err != nil {
		return err
	}
	defer o.release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// SIGINT/SIGTERM are the emergency stop: cancel in-flight work, let
	// the current cycle record Failure("cancelled"), start no new cycle.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			o.logger.Warnf("received %s, emergency stop", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Resume the failure streak from persisted history so a process
	// restart does not reset escalation accounting.
	streak := 0
	if o.history != nil {
		persisted, err := o.history.ConsecutiveCycleFailures(ctx)
		if err != nil {
			o.logger.Warnf("resume failure streak: %v", err)
		} else {
			streak = persisted
			if streak > 0 {
				o.logger.Infof("resuming with %d consecutive cycle failures", streak)
			}
		}
	}
	escalated := streak >= escalationThreshold
	interval := o.cfg.CheckInterval

	o.logger.Infof("orchestrator loop started (interval %s)", o.cfg.CheckInterval)

	for {
		if ctx.Err() != nil {
			o.logger.Infof("orchestrator loop stopped")
			return nil
		}

		rec, err := o.controller.RunCycle(ctx, false)

		var defect *cycle.DefectError
		switch {
		case errors.As(err, &defect):
			// Internal defect, not an agent failure: log, cool down,
			// carry on. Defects do not advance the escalation streak.
			o.logger.Errorf("cycle aborted: %v", defect)
			_ = o.sleep(ctx, o.cfg.DefectCooldown)
			continue
		case err != nil:
			o.logger.Errorf("cycle error: %v", err)
		}

		if rec != nil {
			if rec.Overall.IsFailure() {
				streak++
			} else {
				if streak > 0 {
					o.logger.Infof("cycle recovered, resetting failure streak")
				}
				streak = 0
				escalated = false
				interval = o.cfg.CheckInterval
			}

			// Exactly one escalation per failure streak, issued before the
			// next cycle starts.
			if streak >= escalationThreshold && !escalated {
				o.escalator.Escalate(ctx, rec, streak)
				escalated = true
			}

			if escalated {
				interval = o.degradedInterval(interval)
				o.logger.Warnf("degraded polling, next cycle in %s", interval)
			}
		}

		if ctx.Err() != nil {
			// Emergency stop during the cycle: halt without a new cycle.
			o.logger.Infof("orchestrator loop stopped")
			return nil
		}

		if err := o.sleep(ctx, interval); err != nil {
			o.logger.Infof("orchestrator loop stopped")
			return nil
		}
	}
}

// degradedInterval applies the degraded polling backoff to the current
// interval, bounded by maxDegradedInterval.
func (o *Orchestrator) degradedInterval(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * o.cfg.DegradedBackoffFactor)
	if next > maxDegradedInterval {
		return maxDegradedInterval
	}
	if next < o.cfg.CheckInterval {
		return o.cfg.CheckInterval
	}
	return next
}

// RunOnce executes a single cycle outside the loop, used by force-deploy.
// The deploy step is gated on validation only, regardless of autoDeploy.
func (o *Orchestrator) RunOnce(ctx context.Context) (*models.CycleRecord, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}
	defer o.release()

	return o.controller.RunCycle(ctx, true)
}
