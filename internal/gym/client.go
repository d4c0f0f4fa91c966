package gym

import "context"

// Client is the reservation-service boundary. All operations need a
// Session except Login, which mints one. Implementations must return
// errors classifiable against the sentinels in errors.go.
type Client interface {
	// Login authenticates an account and returns a fresh session.
	// A credential rejection is ErrAuth; network faults are ErrTransient.
	Login(ctx context.Context, username, password string) (Session, error)

	// Campuses lists the venue groupings visible to the session.
	Campuses(ctx context.Context, s Session) ([]Campus, error)

	// Facilities lists bookable services within a campus.
	Facilities(ctx context.Context, s Session, campus Campus) ([]Facility, error)

	// Areas lists reservable slots for a facility on a date (YYYY-MM-DD).
	Areas(ctx context.Context, s Session, facility Facility, date string) ([]Area, error)

	// Book reserves the area. A taken or withdrawn slot is
	// ErrSlotUnavailable; an expired session is ErrAuth.
	Book(ctx context.Context, s Session, area Area) (Order, error)

	// Pay settles a booked order. Called at most once per successful Book
	// within the same attempt.
	Pay(ctx context.Context, s Session, order Order) error
}
