package retry

import (
	"testing"
	"time"

	"github.com/example/gym-scheduler/internal/jobs"
)

func at(h, m int) time.Time {
	return time.Date(2026, 9, 4, h, m, 0, 0, time.UTC)
}

func TestDecideBookRetriesOnInterval(t *testing.T) {
	p := Default(time.UTC)
	windowEnd := time.Date(2026, 9, 5, 20, 0, 0, 0, time.UTC)

	d := p.Decide(jobs.TypeBook, 1, at(10, 0), &windowEnd)
	if !d.Retry {
		t.Fatal("expected retry")
	}
	if want := at(10, 30); !d.At.Equal(want) {
		t.Fatalf("retry at %s, want %s", d.At, want)
	}

	// Failure count never terminates a booking; only the window does.
	d = p.Decide(jobs.TypeBookAndPay, 40, at(10, 0), &windowEnd)
	if !d.Retry {
		t.Fatal("expected retry regardless of failure count")
	}
}

func TestDecideBookCapsAtWindowEnd(t *testing.T) {
	p := Default(time.UTC)
	windowEnd := at(20, 0)

	d := p.Decide(jobs.TypeBook, 2, at(19, 45), &windowEnd)
	if !d.Retry {
		t.Fatal("expected retry")
	}
	if !d.At.Equal(windowEnd) {
		t.Fatalf("retry at %s, want cap %s", d.At, windowEnd)
	}
}

func TestDecideBookFailsPastWindow(t *testing.T) {
	p := Default(time.UTC)
	windowEnd := at(20, 0)

	if d := p.Decide(jobs.TypeBook, 1, at(20, 1), &windowEnd); d.Retry {
		t.Fatal("expected terminal failure past the window")
	}
	if d := p.Decide(jobs.TypeBook, 1, at(10, 0), nil); d.Retry {
		t.Fatal("expected terminal failure without a window")
	}
}

func TestDecideBookDefersQuietHours(t *testing.T) {
	p := Default(time.UTC)
	windowEnd := time.Date(2026, 9, 5, 10, 0, 0, 0, time.UTC)

	// 21:45 + 30m lands at 22:15, inside 22:00-23:59; the retry moves to
	// just past the window's end.
	d := p.Decide(jobs.TypeBook, 1, at(21, 45), &windowEnd)
	if !d.Retry {
		t.Fatal("expected retry")
	}
	if want := time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC); !d.At.Equal(want) {
		t.Fatalf("retry at %s, want %s", d.At, want)
	}
}

func TestDecideBookFailsWhenWindowClosesInQuietHours(t *testing.T) {
	p := Default(time.UTC)
	windowEnd := at(23, 0)

	// Deferring past quiet hours overshoots the window, and the capped
	// time sits inside them: the slot is unreachable.
	if d := p.Decide(jobs.TypeBook, 1, at(21, 50), &windowEnd); d.Retry {
		t.Fatalf("expected terminal failure, got retry at %s", d.At)
	}
}

func TestDecideQuietHoursDisabled(t *testing.T) {
	p := Default(time.UTC)
	p.QuietStart, p.QuietEnd = "", ""
	windowEnd := time.Date(2026, 9, 5, 10, 0, 0, 0, time.UTC)

	d := p.Decide(jobs.TypeBook, 1, at(21, 45), &windowEnd)
	if !d.Retry || !d.At.Equal(at(22, 15)) {
		t.Fatalf("decision = %+v", d)
	}
}

func TestDecideRenewBoundedByFailures(t *testing.T) {
	p := Default(time.UTC)

	d := p.Decide(jobs.TypeRenew, 1, at(10, 0), nil)
	if !d.Retry || !d.At.Equal(at(10, 5)) {
		t.Fatalf("decision = %+v", d)
	}
	if d := p.Decide(jobs.TypeRenew, 2, at(10, 0), nil); !d.Retry {
		t.Fatal("expected retry below the cap")
	}
	if d := p.Decide(jobs.TypeRenew, 3, at(10, 0), nil); d.Retry {
		t.Fatal("expected terminal failure at the cap")
	}
}

func TestDecideUnknownTypeFails(t *testing.T) {
	p := Default(time.UTC)
	if d := p.Decide(jobs.TypeUnknown, 0, at(10, 0), nil); d.Retry {
		t.Fatal("expected terminal failure for unknown type")
	}
}
