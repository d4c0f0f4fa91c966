package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/gym-scheduler/internal/gym"
	"github.com/example/gym-scheduler/internal/jobs"
	"github.com/example/gym-scheduler/internal/retry"
)

// Canceler reports whether a job was removed while its attempt was in
// flight; a canceled attempt's outcome is discarded, never persisted.
type Canceler interface {
	Canceled(jobID string) bool
}

// Sessions is the slice of the session manager the executor needs.
type Sessions interface {
	Renew(ctx context.Context, account string) error
	RenewStale(ctx context.Context) error
	Invalidate(ctx context.Context, account string)
}

// Executor runs one job attempt and drives the job through the state
// machine based on the outcome.
type Executor struct {
	Store    jobs.Store
	Client   gym.Client
	Sessions Sessions
	Policy   retry.Policy
	Cancel   Canceler
	Clock    func() time.Time
	Log      *slog.Logger
}

func (e *Executor) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// Run executes one attempt for a RUNNING job. sess is the account session
// acquired at promotion time; RENEW jobs ignore it.
func (e *Executor) Run(ctx context.Context, j *jobs.Job, sess gym.Session) {
	msg, err := e.attempt(ctx, j, sess)

	if e.Cancel != nil && e.Cancel.Canceled(j.ID) {
		e.Log.Info("job removed mid-attempt, outcome discarded", "job", j.ID)
		return
	}

	if err == nil {
		e.Settle(ctx, j, jobs.NewResult(true, msg, e.now()))
		return
	}
	if gym.IsAuth(err) && j.Account != "" {
		e.Sessions.Invalidate(ctx, j.Account)
	}
	e.Settle(ctx, j, jobs.NewResult(false, err.Error(), e.now()))
}

// attempt performs the job's external action and returns a human-readable
// success message or the classified error.
func (e *Executor) attempt(ctx context.Context, j *jobs.Job, sess gym.Session) (string, error) {
	switch j.Type {
	case jobs.TypeBook:
		order, err := e.Client.Book(ctx, sess, *j.Area)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("booked order %s at %s", order.OrderID, order.CreateDate), nil

	case jobs.TypeBookAndPay:
		order, err := e.Client.Book(ctx, sess, *j.Area)
		if err != nil {
			return "", err
		}
		if err := e.Client.Pay(ctx, sess, order); err != nil {
			// The reservation exists but is unpaid. Surface the order id
			// so the caller can reconcile by hand; the attempt still
			// counts as failed.
			return "", fmt.Errorf("booked order %s but payment failed: %w", order.OrderID, err)
		}
		return fmt.Sprintf("booked and paid order %s at %s", order.OrderID, order.CreateDate), nil

	case jobs.TypeRenew:
		if j.Account == "" {
			return "renewed stale accounts", e.Sessions.RenewStale(ctx)
		}
		return "renewed account " + j.Account, e.Sessions.Renew(ctx, j.Account)

	default:
		return "", fmt.Errorf("%w: job type %s is not executable", gym.ErrValidation, j.Type)
	}
}

// Settle records one attempt outcome for a RUNNING job: appends the
// result, applies the retry policy on failure, and persists the
// transition. A store failure here is surfaced loudly and leaves the job
// RUNNING for the resume path rather than corrupting its history.
func (e *Executor) Settle(ctx context.Context, j *jobs.Job, res jobs.Result) {
	now := e.now()

	if err := e.Store.AppendResult(ctx, j.ID, res); err != nil {
		e.Log.Error("persist attempt result", "job", j.ID, "err", err)
		return
	}
	j.Results = append(j.Results, res)

	var to jobs.Status
	if res.Success {
		to = jobs.StatusSuccess
	} else {
		j.FailedCount++
		d := e.Policy.Decide(j.Type, j.FailedCount, now, j.WindowEndAt)
		if d.Retry {
			to = jobs.StatusRetry
			j.NextDueAt = d.At
		} else {
			to = jobs.StatusFailed
		}
	}

	if err := j.Transition(to, now); err != nil {
		e.Log.Error("attempt outcome rejected by state machine", "job", j.ID, "err", err)
		return
	}
	if err := e.Store.Update(ctx, j); err != nil {
		e.Log.Error("persist job transition", "job", j.ID, "status", to.String(), "err", err)
		return
	}

	attrs := []any{"job", j.ID, "status", to.String(), "failed_count", j.FailedCount}
	if !res.Success {
		attrs = append(attrs, "cause", res.Message)
		if to == jobs.StatusRetry {
			attrs = append(attrs, "next_due", j.NextDueAt)
		}
		e.Log.Warn("attempt failed", attrs...)
		return
	}
	e.Log.Info("attempt succeeded", attrs...)
}
