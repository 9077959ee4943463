package models

import (
	"time"
)

// Outcome is how a branch ended.
type Outcome string

const (
	OutcomeWritten Outcome = "written"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// BranchResult is the result of one source branch within a run.
type BranchResult struct {
	Source       SourceKind
	Container    string
	Healthy      bool
	Outcome      Outcome
	Stage        string // stage reached, or the stage that failed
	Key          string
	Confirmation string
	Flags        []string
	Err          error
	Duration     time.Duration
}

// RunReport summarizes one pipeline run.
type RunReport struct {
	ID          string
	Address     string
	Timestamp   RunTimestamp
	Attempt     int
	StartedAt   time.Time
	FinishedAt  time.Time
	Coordinates Coordinates
	Branches    []BranchResult
	Err         error
}

func (r *RunReport) Success() bool {
	return r.Err == nil
}

// Written counts branches that produced an object.
func (r *RunReport) Written() int {
	n := 0
	for _, b := range r.Branches {
		if b.Outcome == OutcomeWritten {
			n++
		}
	}
	return n
}
