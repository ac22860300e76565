// Package tracker drives independent asynchronous units of work and
// aggregates their state. Upload, deploy and test stages each own one
// Tracker instance.
package tracker

import "time"

// Status values for task units
const (
	// StatusPending means not yet started
	StatusPending Status = "pending"

	// StatusRunning means currently in progress
	StatusRunning Status = "running"

	// StatusCompleted means successfully finished
	StatusCompleted Status = "completed"

	// StatusFailed means execution failed
	StatusFailed Status = "failed"
)

// Status is the shared lifecycle of every unit
type Status string

// Terminal reports whether the status ends an attempt
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Outcome marks the terminal event of a progress stream
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Unit is one independently trackable piece of work
type Unit struct {
	ID           string `json:"id" yaml:"id"`
	Kind         string `json:"kind" yaml:"kind"`
	OwnerIFlowID string `json:"ownerIflowId" yaml:"ownerIflowId"`
	Name         string `json:"name" yaml:"name"`
	// Phase is the kind-specific sub-state, e.g. deploying or started
	Phase       string    `json:"phase,omitempty" yaml:"phase,omitempty"`
	Status      Status    `json:"status" yaml:"status"`
	Progress    int       `json:"progress" yaml:"progress"`
	ErrorReason string    `json:"errorReason,omitempty" yaml:"errorReason,omitempty"`
	Attempts    int       `json:"attempts" yaml:"attempts"`
	StartedAt   time.Time `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	FinishedAt  time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// Event is one step of a unit's progress stream
type Event struct {
	Phase    string
	Progress int
	Outcome  Outcome
	Reason   string
	Message  string
}

// Stats aggregates unit states. Pending+Running+Completed+Failed == Total.
type Stats struct {
	Total     int     `json:"total" yaml:"total"`
	Pending   int     `json:"pending" yaml:"pending"`
	Running   int     `json:"running" yaml:"running"`
	Completed int     `json:"completed" yaml:"completed"`
	Failed    int     `json:"failed" yaml:"failed"`
	Progress  float64 `json:"progress" yaml:"progress"`
}

// Settled reports whether every unit is terminal
func (s Stats) Settled() bool {
	return s.Pending == 0 && s.Running == 0
}

// Group is the aggregate of the units owned by one iFlow
type Group struct {
	OwnerIFlowID string `json:"ownerIflowId" yaml:"ownerIflowId"`
	Stats        Stats  `json:"stats" yaml:"stats"`
}

// Summary is the accumulator payload of one tracker
type Summary struct {
	Kind   string  `json:"kind" yaml:"kind"`
	Stats  Stats   `json:"stats" yaml:"stats"`
	Groups []Group `json:"groups" yaml:"groups"`
	Units  []Unit  `json:"units" yaml:"units"`
}

// Transition is delivered to observers after every unit change
type Transition struct {
	Unit  Unit
	Stats Stats
}

// Observer receives transitions; calls are serialized
type Observer func(Transition)

// Aggregate computes stats over units
func Aggregate(units []Unit) Stats {
	s := Stats{Total: len(units)}
	sum := 0
	for _, u := range units {
		switch u.Status {
		case StatusPending:
			s.Pending++
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
		sum += u.Progress
	}
	if s.Total == 0 {
		s.Progress = 100
	} else {
		s.Progress = float64(sum) / float64(s.Total*100) * 100
	}
	return s
}
