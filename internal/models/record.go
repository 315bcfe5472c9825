package models

import "time"

// AgentRecord is the persistent per-agent state: whether the agent is
// enabled, its last outcome, and its consecutive-failure counter.
type AgentRecord struct {
	Name                string
	Enabled             bool
	LastRun             time.Time
	LastOutcome         Outcome
	ConsecutiveFailures int
}

// RecordOutcome folds one run into the record. Success resets the
// consecutive-failure counter, Failure increments it, Degraded leaves it
// untouched.
func (r *AgentRecord) RecordOutcome(now time.Time, o Outcome) {
	r.LastRun = now
	r.LastOutcome = o
	switch o.Status {
	case StatusSuccess:
		r.ConsecutiveFailures = 0
	case StatusFailure:
		r.ConsecutiveFailures++
	}
}

// CycleRecord is the append-only history entry for one pipeline cycle.
type CycleRecord struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	Overall         Outcome
	FailedStage     Stage
	DeployAttempted bool
	AgentOutcomes   map[string]Outcome
	StageOutcomes   map[Stage]Outcome
}

// NewCycleRecord creates an in-progress cycle record.
func NewCycleRecord(id string, startedAt time.Time) *CycleRecord {
	return &CycleRecord{
		ID:            id,
		StartedAt:     startedAt,
		AgentOutcomes: make(map[string]Outcome),
		StageOutcomes: make(map[Stage]Outcome),
	}
}

// SetAgentOutcome records one agent's final outcome for this cycle.
func (r *CycleRecord) SetAgentOutcome(name string, o Outcome) {
	r.AgentOutcomes[name] = o
}

// SetStageOutcome records one stage's aggregate outcome.
func (r *CycleRecord) SetStageOutcome(stage Stage, o Outcome) {
	r.StageOutcomes[stage] = o
}

// Finalize stamps the finish time, derives the overall outcome as the
// worst of all stage outcomes, and blames the first failing stage in
// pipeline order.
func (r *CycleRecord) Finalize(now time.Time) {
	r.FinishedAt = now

	outcomes := make([]Outcome, 0, len(r.StageOutcomes))
	for _, stage := range Stages() {
		o, ok := r.StageOutcomes[stage]
		if !ok {
			continue
		}
		outcomes = append(outcomes, o)
		if o.IsFailure() && r.FailedStage == "" {
			r.FailedStage = stage
		}
	}
	r.Overall = WorstOf(outcomes...)
}

// Duration returns the cycle wall time, or the zero duration while the
// cycle is still running.
func (r *CycleRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
