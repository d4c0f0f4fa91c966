package gym

import (
	"fmt"
	"strings"
	"time"
)

// Session is the cookie jar obtained from a successful login, keyed by
// cookie name. It is opaque to everything except the HTTP client.
type Session map[string]string

// Campus is a top-level venue grouping.
type Campus struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Facility is a bookable service within a campus (e.g. a badminton hall).
type Facility struct {
	Name      string `json:"name"`
	ServiceID string `json:"serviceid"`
}

// Area identifies one reservable slot: a named court on a date within a
// time segment. (ServiceID, AreaID, StockID) is the service's booking key;
// (SDate, TimeNo) is the human-facing slot identity.
type Area struct {
	SName     string `json:"sname"`
	SDate     string `json:"sdate"`  // YYYY-MM-DD
	TimeNo    string `json:"timeno"` // "HH:MM-HH:MM"
	ServiceID string `json:"serviceid"`
	AreaID    string `json:"areaid"`
	StockID   string `json:"stockid"`
}

// Order is produced by a successful booking.
type Order struct {
	OrderID    string `json:"orderid"`
	CreateDate string `json:"createdate"`
}

// Validate checks the fields a booking attempt needs to be replayable.
func (a Area) Validate() error {
	if a.ServiceID == "" || a.AreaID == "" || a.StockID == "" {
		return fmt.Errorf("%w: area booking key incomplete", ErrValidation)
	}
	if _, err := time.Parse("2006-01-02", a.SDate); err != nil {
		return fmt.Errorf("%w: invalid sdate %q", ErrValidation, a.SDate)
	}
	if _, _, err := splitTimeNo(a.TimeNo); err != nil {
		return err
	}
	return nil
}

// SlotEnd returns the instant at which the slot stops being usable, i.e.
// the end of the time segment on the slot's date in loc. Retries past this
// point are meaningless.
func (a Area) SlotEnd(loc *time.Location) (time.Time, error) {
	_, end, err := splitTimeNo(a.TimeNo)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", a.SDate+" "+end, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid sdate %q", ErrValidation, a.SDate)
	}
	return t, nil
}

func splitTimeNo(timeno string) (start, end string, err error) {
	parts := strings.SplitN(strings.TrimSpace(timeno), "-", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: invalid timeno %q", ErrValidation, timeno)
	}
	start = strings.TrimSpace(parts[0])
	end = strings.TrimSpace(parts[1])
	if _, err := time.Parse("15:04", start); err != nil {
		return "", "", fmt.Errorf("%w: invalid timeno %q", ErrValidation, timeno)
	}
	if _, err := time.Parse("15:04", end); err != nil {
		return "", "", fmt.Errorf("%w: invalid timeno %q", ErrValidation, timeno)
	}
	return start, end, nil
}
