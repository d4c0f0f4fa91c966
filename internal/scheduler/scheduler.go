// Package scheduler decides what runs and when: it scans for due jobs,
// enforces one attempt per account at a time, and hands eligible jobs to
// the worker pool.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/gym-scheduler/internal/db"
	"github.com/example/gym-scheduler/internal/gym"
	"github.com/example/gym-scheduler/internal/jobs"
	"github.com/example/gym-scheduler/internal/retry"
	"github.com/example/gym-scheduler/internal/worker"
)

// SessionSource is the slice of the session manager the scheduler needs:
// a usable session per account at promotion time.
type SessionSource interface {
	Ensure(ctx context.Context, account string) (gym.Session, error)
}

type Scheduler struct {
	Store    jobs.Store
	Sessions SessionSource
	Pool     *worker.Pool
	Exec     *worker.Executor
	Policy   retry.Policy

	// Interval is the control-loop tick. It only needs to be fine enough
	// to notice due jobs promptly; the domain retry interval lives on the
	// jobs themselves.
	Interval time.Duration

	// RenewEvery spaces the standing MAIN renewal job's runs.
	RenewEvery time.Duration

	Clock func() time.Time
	Log   *slog.Logger

	mu               sync.Mutex
	inflightAccounts map[string]struct{}
	inflightJobs     map[string]struct{}
	removed          map[string]struct{}
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Scheduler) init() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflightAccounts == nil {
		s.inflightAccounts = make(map[string]struct{})
		s.inflightJobs = make(map[string]struct{})
		s.removed = make(map[string]struct{})
	}
}

// Run drives the control loop until ctx is canceled, then waits for
// in-flight attempts to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.init()
	if err := s.resume(ctx); err != nil {
		return err
	}

	t := time.NewTicker(s.Interval)
	defer t.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Pool.Wait()
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// resume reconciles store state from a previous process: a RUNNING job
// cannot actually have an attempt in flight anymore, so it is re-queued
// as an immediate RETRY.
func (s *Scheduler) resume(ctx context.Context) error {
	all, err := s.Store.List(ctx)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	now := s.now()
	for _, j := range all {
		if j.Status != jobs.StatusRunning {
			continue
		}
		if err := j.Transition(jobs.StatusRetry, now); err != nil {
			return err
		}
		j.NextDueAt = now
		if err := s.Store.Update(ctx, j); err != nil {
			return fmt.Errorf("resume job %s: %w", j.ID, err)
		}
		s.Log.Info("re-queued interrupted job", "job", j.ID)
	}
	return nil
}

// Tick runs one scheduling pass. Exported for tests; Run calls it on
// every interval.
func (s *Scheduler) Tick(ctx context.Context) {
	s.init()
	now := s.now()

	if err := s.ensureRenewJob(ctx, now); err != nil {
		s.Log.Error("ensure renewal job", "err", err)
	}

	due, err := s.Store.Due(ctx, now)
	if err != nil {
		s.Log.Error("list due jobs", "err", err)
		return
	}

	// At most one promotion per account per tick; Due is ordered oldest
	// first, which gives each account's jobs their fairness.
	seen := make(map[string]struct{})
	for _, j := range due {
		if s.Canceled(j.ID) {
			continue
		}
		if _, dup := seen[j.Account]; dup {
			continue
		}
		if s.AccountBusy(j.Account) {
			continue
		}
		seen[j.Account] = struct{}{}

		if j.WindowEndAt != nil && now.After(*j.WindowEndAt) {
			s.expire(ctx, j, now)
			continue
		}
		if !s.Pool.TryAcquire() {
			break
		}
		s.promote(ctx, j)
	}
}

// promote hands the job to the pool. The slot is already reserved and
// Pool.Go releases it when the attempt returns; the control loop itself
// never touches the network.
func (s *Scheduler) promote(ctx context.Context, j *jobs.Job) {
	s.markInflight(j)
	s.Pool.Go(func() {
		defer s.clearInflight(j)
		s.attempt(ctx, j)
	})
}

// attempt runs on a pool goroutine. Session acquisition blocks here, not
// the scheduler, so one account's hung login never delays the others.
func (s *Scheduler) attempt(ctx context.Context, j *jobs.Job) {
	if s.Canceled(j.ID) {
		return
	}
	now := s.now()

	var sess gym.Session
	if j.Type == jobs.TypeBook || j.Type == jobs.TypeBookAndPay {
		var err error
		sess, err = s.Sessions.Ensure(ctx, j.Account)
		if err != nil {
			// An acquisition failure is an attempt: it consumes retry
			// budget exactly like a booking failure would.
			s.recordSynthetic(ctx, j, now, fmt.Sprintf("session acquisition failed: %v", err))
			return
		}
	}

	if err := j.Transition(jobs.StatusRunning, now); err != nil {
		s.Log.Error("promote rejected", "job", j.ID, "err", err)
		return
	}
	if err := s.Store.Update(ctx, j); err != nil {
		s.Log.Error("persist promotion", "job", j.ID, "err", err)
		return
	}

	s.Exec.Run(ctx, j, sess)
}

// expire terminates a due job whose slot window has already passed. The
// job still takes one (local) attempt so the transition stays legal and
// the result log explains the failure.
func (s *Scheduler) expire(ctx context.Context, j *jobs.Job, now time.Time) {
	s.recordSynthetic(ctx, j, now, "slot window elapsed before a successful booking")
}

// recordSynthetic drives PENDING/RETRY -> RUNNING -> policy outcome
// without touching the reservation service.
func (s *Scheduler) recordSynthetic(ctx context.Context, j *jobs.Job, now time.Time, msg string) {
	if err := j.Transition(jobs.StatusRunning, now); err != nil {
		s.Log.Error("synthetic attempt rejected", "job", j.ID, "err", err)
		return
	}
	if err := s.Store.Update(ctx, j); err != nil {
		s.Log.Error("persist synthetic attempt", "job", j.ID, "err", err)
		return
	}
	s.Exec.Settle(ctx, j, jobs.NewResult(false, msg, now))
}

// ensureRenewJob keeps exactly one live MAIN renewal job in the store so
// account sessions stay warm. After the previous one terminates, the next
// is spaced RenewEvery from its completion.
func (s *Scheduler) ensureRenewJob(ctx context.Context, now time.Time) error {
	all, err := s.Store.List(ctx)
	if err != nil {
		return err
	}
	var latestTerminal time.Time
	for _, j := range all {
		if j.Level != jobs.LevelMain || j.Type != jobs.TypeRenew || j.Account != "" {
			continue
		}
		if !j.Status.Terminal() {
			return nil
		}
		if j.UpdatedAt.After(latestTerminal) {
			latestTerminal = j.UpdatedAt
		}
	}

	due := now
	if !latestTerminal.IsZero() {
		if next := latestTerminal.Add(s.RenewEvery); next.After(now) {
			due = next
		}
	}
	j := jobs.NewRenew("", due, now)
	if err := s.Store.Create(ctx, j); err != nil {
		return err
	}
	s.Log.Info("scheduled session renewal", "job", j.ID, "due", due)
	return nil
}

// Remove deletes a USER job. A job mid-attempt is marked so its outcome
// is discarded when the attempt finishes.
func (s *Scheduler) Remove(ctx context.Context, jobID string) error {
	s.init()
	j, err := s.Store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Level != jobs.LevelUser {
		return fmt.Errorf("%w: job %s is not a user job", gym.ErrValidation, jobID)
	}

	s.mu.Lock()
	if _, running := s.inflightJobs[jobID]; running {
		s.removed[jobID] = struct{}{}
	}
	s.mu.Unlock()

	if err := s.Store.Delete(ctx, jobID); err != nil && !db.IsNotFound(err) {
		return err
	}
	return nil
}

// Canceled reports whether the job was removed while an attempt was in
// flight. Satisfies worker.Canceler.
func (s *Scheduler) Canceled(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.removed[jobID]
	return ok
}

// AccountBusy reports whether the account has an attempt in flight. The
// session manager consults it so background renewal never logs in
// underneath a booking attempt.
func (s *Scheduler) AccountBusy(account string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inflightAccounts[account]
	return busy
}

func (s *Scheduler) markInflight(j *jobs.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflightAccounts[j.Account] = struct{}{}
	s.inflightJobs[j.ID] = struct{}{}
}

func (s *Scheduler) clearInflight(j *jobs.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflightAccounts, j.Account)
	delete(s.inflightJobs, j.ID)
	delete(s.removed, j.ID)
}
