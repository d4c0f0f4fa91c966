// Package jobs owns the job entity, its lifecycle rules, and its stores.
// Every mutation of a job flows through the transition guards here; no
// other package sets a status directly.
package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/gym-scheduler/internal/gym"
)

type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusRetry
	StatusSuccess
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusRetry:
		return "RETRY"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

type Level int

const (
	LevelMain Level = iota // system-initiated (session upkeep)
	LevelUser              // caller-initiated booking work
)

func (l Level) String() string {
	if l == LevelMain {
		return "MAIN"
	}
	return "USER"
}

type Type int

const (
	TypeUnknown Type = iota
	TypeRenew
	TypeBook
	TypeBookAndPay
)

func (t Type) String() string {
	switch t {
	case TypeRenew:
		return "RENEW"
	case TypeBook:
		return "BOOK"
	case TypeBookAndPay:
		return "BOOK_AND_PAY"
	default:
		return "UNKNOWN"
	}
}

// Result is one attempt's outcome. Exactly one is appended per executed
// attempt; the log is append-only.
type Result struct {
	ID        string    `json:"id"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func NewResult(success bool, message string, now time.Time) Result {
	return Result{ID: uuid.NewString(), Success: success, Message: message, CreatedAt: now}
}

// Job is the unit of scheduled work.
type Job struct {
	ID          string
	Level       Level
	Type        Type
	Status      Status
	Description string

	// Account owns the job. Empty only for the MAIN renewal job, which
	// targets every stored account.
	Account string

	// Area is the immutable booking payload; nil for RENEW jobs.
	Area *gym.Area

	Results     []Result
	FailedCount int

	// NextDueAt is when the scheduler should next consider the job.
	NextDueAt time.Time

	// WindowEndAt bounds retries for booking jobs: past this instant the
	// slot is unusable and the job must fail. Nil for RENEW jobs.
	WindowEndAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBooking builds a USER-level booking job for area owned by account.
// typ must be TypeBook or TypeBookAndPay. The first due time follows the
// service's release rule: slots open one day ahead, so a job for a slot
// further out waits until midnight before the slot's date; otherwise it is
// due immediately.
func NewBooking(typ Type, area gym.Area, account string, now time.Time, loc *time.Location) (*Job, error) {
	if typ != TypeBook && typ != TypeBookAndPay {
		return nil, fmt.Errorf("%w: type %s is not a booking type", gym.ErrValidation, typ)
	}
	if err := area.Validate(); err != nil {
		return nil, err
	}
	windowEnd, err := area.SlotEnd(loc)
	if err != nil {
		return nil, err
	}
	if now.After(windowEnd) {
		return nil, fmt.Errorf("%w: slot %s %s already ended", gym.ErrValidation, area.SDate, area.TimeNo)
	}

	slotDate, err := time.ParseInLocation("2006-01-02", area.SDate, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid sdate %q", gym.ErrValidation, area.SDate)
	}
	due := now
	if opens := slotDate.AddDate(0, 0, -1); opens.After(now) {
		due = opens.Add(3 * time.Second)
	}

	return &Job{
		ID:          uuid.NewString(),
		Level:       LevelUser,
		Type:        typ,
		Status:      StatusPending,
		Description: fmt.Sprintf("book %s %s %s", area.SName, area.SDate, area.TimeNo),
		Account:     account,
		Area:        &area,
		NextDueAt:   due,
		WindowEndAt: &windowEnd,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NewRenew builds a MAIN-level session renewal job. An empty account
// renews every stale account.
func NewRenew(account string, due, now time.Time) *Job {
	desc := "renew accounts"
	if account != "" {
		desc = "renew account " + account
	}
	return &Job{
		ID:          uuid.NewString(),
		Level:       LevelMain,
		Type:        TypeRenew,
		Status:      StatusPending,
		Description: desc,
		Account:     account,
		NextDueAt:   due,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
