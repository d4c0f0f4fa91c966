// Package retry decides, after a failed attempt, whether a job tries
// again and when. Decisions are pure functions of the job's type, failure
// history, and the clock; session state is deliberately not an input.
package retry

import (
	"time"

	"github.com/example/gym-scheduler/internal/jobs"
)

// Decision is the policy's verdict for one failed attempt.
type Decision struct {
	Retry bool
	At    time.Time // valid only when Retry
}

func fail() Decision { return Decision{} }
func retryAt(t time.Time) Decision { return Decision{Retry: true, At: t} }

// Policy holds the retry parameters. The zero value is unusable; use
// Default and adjust.
type Policy struct {
	// BookInterval separates booking attempts. Bookings have no count
	// ceiling: the slot's own time window is the only boundary, which
	// leaves the caller free to reserve now and decide about payment
	// later.
	BookInterval time.Duration

	// RenewInterval and RenewMaxFails bound session-renewal jobs. Renewal
	// is not window-bound, and retrying forever would only hide a broken
	// credential.
	RenewInterval time.Duration
	RenewMaxFails int

	// QuietStart/QuietEnd ("HH:MM" in Loc) mark a daily window during
	// which the reservation service must not be called. Due times landing
	// inside it are pushed to just past its end. Empty strings disable
	// the window.
	QuietStart string
	QuietEnd   string
	Loc        *time.Location
}

func Default(loc *time.Location) Policy {
	return Policy{
		BookInterval:  30 * time.Minute,
		RenewInterval: 5 * time.Minute,
		RenewMaxFails: 3,
		QuietStart:    "22:00",
		QuietEnd:      "23:59",
		Loc:           loc,
	}
}

// Decide maps a failed attempt to the next step. failedCount counts the
// failure that was just recorded. windowEnd is nil for jobs without a
// slot window.
func (p Policy) Decide(typ jobs.Type, failedCount int, now time.Time, windowEnd *time.Time) Decision {
	switch typ {
	case jobs.TypeBook, jobs.TypeBookAndPay:
		if windowEnd == nil {
			return fail()
		}
		if now.After(*windowEnd) {
			return fail()
		}
		at := p.deferQuiet(now.Add(p.BookInterval))
		if at.After(*windowEnd) {
			at = *windowEnd
			// The cap may land the retry back inside quiet hours; a slot
			// whose window closes during them is simply unreachable.
			if p.inQuiet(at) {
				return fail()
			}
		}
		return retryAt(at)

	case jobs.TypeRenew:
		if failedCount >= p.RenewMaxFails {
			return fail()
		}
		return retryAt(now.Add(p.RenewInterval))

	default:
		return fail()
	}
}

func (p Policy) quietBounds(t time.Time) (start, end time.Time, ok bool) {
	if p.QuietStart == "" || p.QuietEnd == "" || p.Loc == nil {
		return time.Time{}, time.Time{}, false
	}
	qs, err1 := time.Parse("15:04", p.QuietStart)
	qe, err2 := time.Parse("15:04", p.QuietEnd)
	if err1 != nil || err2 != nil {
		return time.Time{}, time.Time{}, false
	}
	lt := t.In(p.Loc)
	y, m, d := lt.Date()
	start = time.Date(y, m, d, qs.Hour(), qs.Minute(), 0, 0, p.Loc)
	end = time.Date(y, m, d, qe.Hour(), qe.Minute(), 0, 0, p.Loc)
	return start, end, true
}

func (p Policy) inQuiet(t time.Time) bool {
	start, end, ok := p.quietBounds(t)
	if !ok {
		return false
	}
	lt := t.In(p.Loc)
	if !end.Before(start) {
		return !lt.Before(start) && !lt.After(end)
	}
	// window crosses midnight
	return !lt.Before(start) || !lt.After(end)
}

// deferQuiet pushes t just past the quiet window it falls into.
func (p Policy) deferQuiet(t time.Time) time.Time {
	if !p.inQuiet(t) {
		return t
	}
	start, end, _ := p.quietBounds(t)
	lt := t.In(p.Loc)
	if end.Before(start) && !lt.Before(start) {
		// evening side of a midnight-crossing window
		end = end.AddDate(0, 0, 1)
	}
	return end.Add(time.Minute)
}
