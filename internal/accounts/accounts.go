// Package accounts is the registry of reservation-service credentials.
// Passwords are sealed with the AEAD before they reach the store; session
// cookie jars are sealed with securecookie. Plaintext secrets never touch
// disk.
package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/example/gym-scheduler/internal/crypto"
	"github.com/example/gym-scheduler/internal/db"
	"github.com/example/gym-scheduler/internal/gym"
)

// SessionState tracks whether an account's cached session is usable.
type SessionState string

const (
	SessionNone    SessionState = "none"
	SessionValid   SessionState = "valid"
	SessionExpired SessionState = "expired"
)

type Account struct {
	Username      string
	Password      string // plaintext, populated only by Get
	Session       gym.Session
	State         SessionState
	LastRenewedAt *time.Time
	CreatedAt     time.Time
}

const sessionBlobName = "gym_session"

type Store struct {
	db   *db.DB
	aead *crypto.AEAD
	sc   *securecookie.SecureCookie
}

func NewStore(d *db.DB, aead *crypto.AEAD, hashKey, blockKey []byte) *Store {
	return &Store{db: d, aead: aead, sc: securecookie.New(hashKey, blockKey)}
}

// Add registers an account. The username must be new.
func (s *Store) Add(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("%w: account and password required", gym.ErrValidation)
	}
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE username=$1)`, username).Scan(&exists); err != nil {
		return db.WrapStore(err)
	}
	if exists {
		return fmt.Errorf("%w: account %s already exists", gym.ErrValidation, username)
	}
	sealed, err := s.aead.Seal(password)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO accounts(username, password_sealed, session_state, created_at)
VALUES ($1,$2,$3,now())`, username, sealed, string(SessionNone))
}

func (s *Store) Remove(ctx context.Context, username string) error {
	return s.db.Exec(ctx, `DELETE FROM accounts WHERE username=$1`, username)
}

// Get returns the account with its password decrypted and its session
// blob unsealed. An unreadable blob degrades to no session rather than an
// error: the session manager will simply log in again.
func (s *Store) Get(ctx context.Context, username string) (Account, error) {
	row := s.db.QueryRow(ctx, `
SELECT username, password_sealed, session_blob, session_state, last_renewed_at, created_at
FROM accounts WHERE username=$1`, username)
	return s.scan(row)
}

// List returns every account. Passwords and sessions are included; do not
// hand the result to presentation code without trimming.
func (s *Store) List(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, `
SELECT username, password_sealed, session_blob, session_state, last_renewed_at, created_at
FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, db.WrapStore(rows.Err())
}

// Stale returns accounts whose session is missing, expired, or older than
// maxAge. These are the renewal job's targets.
func (s *Store) Stale(ctx context.Context, now time.Time, maxAge time.Duration) ([]Account, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Account
	for _, a := range all {
		if a.State != SessionValid || a.LastRenewedAt == nil || now.Sub(*a.LastRenewedAt) > maxAge {
			out = append(out, a)
		}
	}
	return out, nil
}

// SetSession stores a fresh session for the account and marks it valid.
func (s *Store) SetSession(ctx context.Context, username string, sess gym.Session, now time.Time) error {
	blob, err := s.sc.Encode(sessionBlobName, map[string]string(sess))
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
UPDATE accounts SET session_blob=$2, session_state=$3, last_renewed_at=$4
WHERE username=$1`, username, blob, string(SessionValid), now)
}

// SetState downgrades or clears the session state without touching the
// stored blob.
func (s *Store) SetState(ctx context.Context, username string, state SessionState) error {
	return s.db.Exec(ctx, `UPDATE accounts SET session_state=$2 WHERE username=$1`, username, string(state))
}

func (s *Store) scan(row db.Row) (Account, error) {
	var (
		a      Account
		sealed string
		blob   *string
		state  string
	)
	if err := row.Scan(&a.Username, &sealed, &blob, &state, &a.LastRenewedAt, &a.CreatedAt); err != nil {
		return Account{}, db.WrapScan(err)
	}
	a.State = SessionState(state)

	pw, err := s.aead.Open(sealed)
	if err != nil {
		return Account{}, fmt.Errorf("unseal password for %s: %w", a.Username, err)
	}
	a.Password = pw

	if blob != nil && *blob != "" {
		m := map[string]string{}
		if err := s.sc.Decode(sessionBlobName, *blob, &m); err == nil {
			a.Session = gym.Session(m)
		} else {
			a.State = SessionNone
		}
	}
	return a, nil
}
