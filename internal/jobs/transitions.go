package jobs

import (
	"fmt"
	"time"
)

// ErrTransition is returned for any lifecycle move outside the machine:
//
//	PENDING -> RUNNING
//	RETRY   -> RUNNING
//	RUNNING -> SUCCESS | RETRY | FAILED
//
// SUCCESS and FAILED are terminal.
type ErrTransition struct {
	From, To Status
}

func (e *ErrTransition) Error() string {
	return fmt.Sprintf("illegal job transition %s -> %s", e.From, e.To)
}

var legal = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRetry:   {StatusRunning},
	StatusRunning: {StatusSuccess, StatusRetry, StatusFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the job to status to, refusing anything the machine
// does not allow. UpdatedAt is the caller's clock so tests stay
// deterministic.
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return &ErrTransition{From: j.Status, To: to}
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}
