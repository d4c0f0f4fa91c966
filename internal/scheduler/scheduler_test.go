package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/gym-scheduler/internal/db"
	"github.com/example/gym-scheduler/internal/gym"
	"github.com/example/gym-scheduler/internal/jobs"
	"github.com/example/gym-scheduler/internal/retry"
	"github.com/example/gym-scheduler/internal/worker"
)

var baseTime = time.Date(2026, 9, 5, 9, 0, 0, 0, time.UTC)

type clockStub struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clockStub) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clockStub) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type stubSessions struct {
	err     error
	ensures int
	mu      sync.Mutex
}

func (s *stubSessions) Ensure(ctx context.Context, account string) (gym.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensures++
	if s.err != nil {
		return nil, s.err
	}
	return gym.Session{"JSESSIONID": "sess-" + account}, nil
}

// stubClient books successfully; an optional gate blocks Book until the
// test opens it.
type stubClient struct {
	gym.Client
	gate chan struct{}
}

func (c *stubClient) Book(ctx context.Context, s gym.Session, area gym.Area) (gym.Order, error) {
	if c.gate != nil {
		<-c.gate
	}
	return gym.Order{OrderID: "5513", CreateDate: "2026-09-05 08:00:03"}, nil
}

type noopRenewer struct{}

func (noopRenewer) Renew(ctx context.Context, account string) error { return nil }
func (noopRenewer) RenewStale(ctx context.Context) error            { return nil }
func (noopRenewer) Invalidate(ctx context.Context, account string)  {}

func newTestScheduler(t *testing.T, store jobs.Store, client gym.Client, src SessionSource, clock *clockStub, poolSize int) *Scheduler {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := worker.NewPool(poolSize)
	s := &Scheduler{
		Store:      store,
		Sessions:   src,
		Pool:       pool,
		Policy:     retry.Default(time.UTC),
		Interval:   time.Hour,
		RenewEvery: 2 * time.Hour,
		Clock:      clock.Now,
		Log:        log,
	}
	s.Exec = &worker.Executor{
		Store:    store,
		Client:   client,
		Sessions: noopRenewer{},
		Policy:   s.Policy,
		Cancel:   s,
		Clock:    clock.Now,
		Log:      log,
	}
	return s
}

func dueBooking(t *testing.T, store jobs.Store, account string, created time.Time) *jobs.Job {
	t.Helper()
	area := gym.Area{
		SName: "court 1", SDate: "2026-09-05", TimeNo: "19:00-20:00",
		ServiceID: "42", AreaID: "101", StockID: "9001",
	}
	j, err := jobs.NewBooking(jobs.TypeBook, area, account, created, time.UTC)
	if err != nil {
		t.Fatalf("new booking: %v", err)
	}
	if err := store.Create(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}
	return j
}

// parkRenewJob keeps the standing renewal job out of a test's way.
func parkRenewJob(t *testing.T, store jobs.Store) {
	t.Helper()
	j := jobs.NewRenew("", baseTime.Add(240*time.Hour), baseTime)
	if err := store.Create(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestTickRunsDueBookingJob(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	s := newTestScheduler(t, store, &stubClient{}, &stubSessions{}, clock, 2)
	parkRenewJob(t, store)

	j := dueBooking(t, store, "alice", baseTime)
	s.Tick(context.Background())
	s.Pool.Wait()

	got, err := store.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != jobs.StatusSuccess {
		t.Fatalf("status = %s", got.Status)
	}
	if len(got.Results) != 1 || !got.Results[0].Success {
		t.Fatalf("results = %+v", got.Results)
	}
}

func TestTickPromotesOneJobPerAccount(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	s := newTestScheduler(t, store, &stubClient{}, &stubSessions{}, clock, 4)
	parkRenewJob(t, store)

	first := dueBooking(t, store, "alice", baseTime.Add(-2*time.Minute))
	second := dueBooking(t, store, "alice", baseTime.Add(-time.Minute))

	s.Tick(context.Background())
	s.Pool.Wait()

	g1, err := store.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	g2, err := store.Get(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g1.Status != jobs.StatusSuccess {
		t.Fatalf("older job status = %s", g1.Status)
	}
	if g2.Status != jobs.StatusPending {
		t.Fatalf("newer job should wait its turn, status = %s", g2.Status)
	}
}

func TestTickSkipsAccountWithAttemptInFlight(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	gate := make(chan struct{})
	s := newTestScheduler(t, store, &stubClient{gate: gate}, &stubSessions{}, clock, 4)
	parkRenewJob(t, store)

	first := dueBooking(t, store, "alice", baseTime.Add(-2*time.Minute))
	second := dueBooking(t, store, "alice", baseTime.Add(-time.Minute))

	s.Tick(context.Background())

	// First attempt is parked inside Book; a second pass must not start
	// the account's other job.
	s.Tick(context.Background())
	g2, err := store.Get(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g2.Status != jobs.StatusPending {
		t.Fatalf("second job promoted while first in flight, status = %s", g2.Status)
	}

	close(gate)
	s.Pool.Wait()

	g1, err := store.Get(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g1.Status != jobs.StatusSuccess {
		t.Fatalf("first job status = %s", g1.Status)
	}

	// With the account free again the next pass picks up the second job.
	s.Tick(context.Background())
	s.Pool.Wait()
	g2, err = store.Get(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g2.Status != jobs.StatusSuccess {
		t.Fatalf("second job status = %s", g2.Status)
	}
}

// gatedSessions parks Ensure for one account until the test opens the
// gate; every other account gets a session immediately.
type gatedSessions struct {
	account string
	gate    chan struct{}
}

func (s *gatedSessions) Ensure(ctx context.Context, account string) (gym.Session, error) {
	if account == s.account {
		<-s.gate
	}
	return gym.Session{"JSESSIONID": "sess-" + account}, nil
}

func TestTickDoesNotBlockOnSessionAcquisition(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	gate := make(chan struct{})
	src := &gatedSessions{account: "alice", gate: gate}
	s := newTestScheduler(t, store, &stubClient{}, src, clock, 4)
	parkRenewJob(t, store)

	slow := dueBooking(t, store, "alice", baseTime.Add(-2*time.Minute))
	fast := dueBooking(t, store, "bob", baseTime.Add(-time.Minute))

	start := time.Now()
	s.Tick(context.Background())
	if took := time.Since(start); took > 200*time.Millisecond {
		t.Fatalf("tick stalled for %s behind one account's login", took)
	}

	// bob's attempt completes while alice's login is still parked.
	deadline := time.After(2 * time.Second)
	for {
		got, err := store.Get(context.Background(), fast.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == jobs.StatusSuccess {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("unrelated job starved, status = %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(gate)
	s.Pool.Wait()

	got, err := store.Get(context.Background(), slow.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != jobs.StatusSuccess {
		t.Fatalf("gated job status = %s", got.Status)
	}
}

func TestTickFailsJobPastItsWindow(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	s := newTestScheduler(t, store, &stubClient{}, &stubSessions{}, clock, 2)
	parkRenewJob(t, store)

	j := dueBooking(t, store, "alice", baseTime)

	// The slot ends at 20:00; jump past it.
	clock.Set(time.Date(2026, 9, 5, 20, 30, 0, 0, time.UTC))
	s.Tick(context.Background())
	s.Pool.Wait()

	got, err := store.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != jobs.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
	if len(got.Results) != 1 || got.Results[0].Success {
		t.Fatalf("results = %+v", got.Results)
	}
	if !strings.Contains(got.Results[0].Message, "window elapsed") {
		t.Fatalf("message = %q", got.Results[0].Message)
	}
}

func TestTickSessionFailureConsumesRetryBudget(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	src := &stubSessions{err: fmt.Errorf("%w: bad credentials", gym.ErrAuth)}
	s := newTestScheduler(t, store, &stubClient{}, src, clock, 1)
	parkRenewJob(t, store)

	j := dueBooking(t, store, "alice", baseTime)
	s.Tick(context.Background())
	s.Pool.Wait()

	got, err := store.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != jobs.StatusRetry || got.FailedCount != 1 {
		t.Fatalf("job = status=%s fails=%d", got.Status, got.FailedCount)
	}
	if !strings.Contains(got.Results[0].Message, "session acquisition failed") {
		t.Fatalf("message = %q", got.Results[0].Message)
	}

	// The reserved pool slot must have been handed back.
	if !s.Pool.TryAcquire() {
		t.Fatal("pool slot leaked on session failure")
	}
}

func TestTickMaintainsStandingRenewJob(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	s := newTestScheduler(t, store, &stubClient{}, &stubSessions{}, clock, 2)

	s.Tick(context.Background())
	s.Pool.Wait()

	all, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(jobs) = %d", len(all))
	}
	ran := all[0]
	if ran.Level != jobs.LevelMain || ran.Type != jobs.TypeRenew || ran.Status != jobs.StatusSuccess {
		t.Fatalf("renew job = %+v", ran)
	}

	// The next pass schedules a successor spaced RenewEvery out.
	s.Tick(context.Background())
	s.Pool.Wait()
	all, err = store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(jobs) = %d", len(all))
	}
	var next *jobs.Job
	for _, j := range all {
		if j.ID != ran.ID {
			next = j
		}
	}
	if next.Status != jobs.StatusPending {
		t.Fatalf("successor status = %s", next.Status)
	}
	if want := ran.UpdatedAt.Add(2 * time.Hour); !next.NextDueAt.Equal(want) {
		t.Fatalf("successor due = %s, want %s", next.NextDueAt, want)
	}
}

func TestRemoveRejectsMainJobs(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	s := newTestScheduler(t, store, &stubClient{}, &stubSessions{}, clock, 1)

	j := jobs.NewRenew("", baseTime, baseTime)
	if err := store.Create(context.Background(), j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Remove(context.Background(), j.ID); !gym.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := s.Remove(context.Background(), "missing"); !db.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestRemoveMidAttemptDiscardsOutcome(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	gate := make(chan struct{})
	s := newTestScheduler(t, store, &stubClient{gate: gate}, &stubSessions{}, clock, 1)
	parkRenewJob(t, store)

	j := dueBooking(t, store, "alice", baseTime)
	s.Tick(context.Background())

	if err := s.Remove(context.Background(), j.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !s.Canceled(j.ID) {
		t.Fatal("in-flight job not marked canceled")
	}

	close(gate)
	s.Pool.Wait()

	if _, err := store.Get(context.Background(), j.ID); !db.IsNotFound(err) {
		t.Fatalf("expected job gone, got %v", err)
	}
	if s.Canceled(j.ID) {
		t.Fatal("cancellation marker not cleared after attempt finished")
	}
}

func TestRunResumesInterruptedJobs(t *testing.T) {
	store := jobs.NewMemoryStore()
	clock := &clockStub{now: baseTime}
	s := newTestScheduler(t, store, &stubClient{}, &stubSessions{}, clock, 2)
	parkRenewJob(t, store)

	// A RUNNING job from a previous process has no attempt attached
	// anymore; Run must re-queue and execute it.
	j := dueBooking(t, store, "alice", baseTime)
	if err := j.Transition(jobs.StatusRunning, baseTime); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := store.Update(context.Background(), j); err != nil {
		t.Fatalf("update: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		got, err := store.Get(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status == jobs.StatusSuccess {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, status = %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run returned %v", err)
	}
}
