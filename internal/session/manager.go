// Package session owns per-account authentication state. The reservation
// service tolerates neither overlapping logins nor overlapping sessions
// for one account, so everything here funnels through a per-account lock.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/gym-scheduler/internal/accounts"
	"github.com/example/gym-scheduler/internal/gym"
)

// MaxSessionAge is how long a session is trusted before the renewal job
// refreshes it proactively.
const MaxSessionAge = 2 * time.Hour

// AccountStore is the slice of the accounts registry the manager needs.
type AccountStore interface {
	Get(ctx context.Context, username string) (accounts.Account, error)
	Stale(ctx context.Context, now time.Time, maxAge time.Duration) ([]accounts.Account, error)
	SetSession(ctx context.Context, username string, sess gym.Session, now time.Time) error
	SetState(ctx context.Context, username string, state accounts.SessionState) error
}

type Manager struct {
	accounts AccountStore
	client   gym.Client
	log      *slog.Logger
	clock    func() time.Time
	busy     func(account string) bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store AccountStore, client gym.Client, log *slog.Logger) *Manager {
	return &Manager{
		accounts: store,
		client:   client,
		log:      log,
		clock:    time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the manager's clock. Tests only.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// SetBusy installs a callback reporting whether an account has a booking
// attempt in flight. RenewStale leaves those accounts alone: a fresh
// login would invalidate the session the attempt is using.
func (m *Manager) SetBusy(busy func(account string) bool) {
	m.busy = busy
}

// lockFor returns the mutex serializing all session work for one account.
// Locks are never dropped from the map; the account population is tiny.
func (m *Manager) lockFor(username string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[username]
	if !ok {
		l = &sync.Mutex{}
		m.locks[username] = l
	}
	return l
}

// Ensure returns a usable session for the account, reusing the cached one
// when it is still valid and logging in otherwise. Concurrent calls for
// the same account serialize; different accounts proceed independently.
func (m *Manager) Ensure(ctx context.Context, username string) (gym.Session, error) {
	l := m.lockFor(username)
	l.Lock()
	defer l.Unlock()

	acct, err := m.accounts.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	if acct.State == accounts.SessionValid && len(acct.Session) > 0 {
		return acct.Session, nil
	}
	return m.login(ctx, acct)
}

// Renew forces a fresh login for the account regardless of cached state.
func (m *Manager) Renew(ctx context.Context, username string) error {
	l := m.lockFor(username)
	l.Lock()
	defer l.Unlock()

	acct, err := m.accounts.Get(ctx, username)
	if err != nil {
		return err
	}
	_, err = m.login(ctx, acct)
	return err
}

// RenewStale refreshes every account whose session is absent, expired, or
// past MaxSessionAge. Accounts with an attempt in flight are skipped until
// a later run. The rest renew concurrently (each still under its own
// lock); the first error is returned after all finish.
func (m *Manager) RenewStale(ctx context.Context) error {
	stale, err := m.accounts.Stale(ctx, m.clock(), MaxSessionAge)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, acct := range stale {
		if m.busy != nil && m.busy(acct.Username) {
			continue
		}
		username := acct.Username
		g.Go(func() error {
			if err := m.Renew(ctx, username); err != nil {
				return fmt.Errorf("renew %s: %w", username, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Invalidate marks the account's session expired so the next Ensure logs
// in again. Called when the service rejects a supposedly valid session.
func (m *Manager) Invalidate(ctx context.Context, username string) {
	if err := m.accounts.SetState(ctx, username, accounts.SessionExpired); err != nil {
		m.log.Error("mark session expired", "account", username, "err", err)
	}
}

// login performs the CAS login and persists the resulting cookie jar.
// Callers must hold the account's lock.
func (m *Manager) login(ctx context.Context, acct accounts.Account) (gym.Session, error) {
	sess, err := m.client.Login(ctx, acct.Username, acct.Password)
	if err != nil {
		if gym.IsAuth(err) {
			if serr := m.accounts.SetState(ctx, acct.Username, accounts.SessionExpired); serr != nil {
				m.log.Error("mark session expired", "account", acct.Username, "err", serr)
			}
		}
		return nil, err
	}
	if err := m.accounts.SetSession(ctx, acct.Username, sess, m.clock()); err != nil {
		return nil, err
	}
	m.log.Info("session renewed", "account", acct.Username)
	return sess, nil
}
