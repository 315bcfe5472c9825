// Package models defines the shared domain types: the three-tier outcome,
// the pipeline stages, and the persistent agent and cycle records.
package models

// Status is the severity tier of an outcome.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusDegraded Status = "degraded"
	StatusFailure  Status = "failure"
)

// severityRank orders statuses for worst-of composition. Higher is worse.
var severityRank = map[Status]int{
	StatusSuccess:  0,
	StatusDegraded: 1,
	StatusFailure:  2,
}

// Outcome is the result of an agent run, a stage, or a whole cycle. Reason
// is empty for Success and mandatory for the other tiers.
type Outcome struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Success returns a success outcome.
func Success() Outcome {
	return Outcome{Status: StatusSuccess}
}

// Degraded returns a degraded outcome with the given reason.
func Degraded(reason string) Outcome {
	return Outcome{Status: StatusDegraded, Reason: reason}
}

// Failure returns a failure outcome with the given reason.
func Failure(reason string) Outcome {
	return Outcome{Status: StatusFailure, Reason: reason}
}

// IsSuccess reports whether the outcome is the success tier.
func (o Outcome) IsSuccess() bool {
	return o.Status == StatusSuccess
}

// IsFailure reports whether the outcome is the failure tier.
func (o Outcome) IsFailure() bool {
	return o.Status == StatusFailure
}

// Worse returns the more severe of o and other. On equal severity o wins,
// so the first reason recorded at a tier is the one reported.
func (o Outcome) Worse(other Outcome) Outcome {
	if severityRank[other.Status] > severityRank[o.Status] {
		return other
	}
	return o
}

// WorstOf folds outcomes into their most severe member. No outcomes at all
// is Success: an empty stage has nothing to complain about.
func WorstOf(outcomes ...Outcome) Outcome {
	worst := Success()
	for _, o := range outcomes {
		worst = worst.Worse(o)
	}
	return worst
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Status)
	}
	return string(o.Status) + " (" + o.Reason + ")"
}
