package gym

import "errors"

// Error taxonomy for reservation-service failures. The worker classifies
// attempt errors against these sentinels; anything unrecognized counts as
// transient so the retry policy stays in charge of giving up.
var (
	// ErrAuth means the service rejected our credentials or session.
	// Unlikely to self-heal on a timer.
	ErrAuth = errors.New("authentication rejected")

	// ErrSlotUnavailable means the slot is taken or gone. Still retried
	// within the slot window: cancellations happen.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrTransient covers network faults and 5xx-style service hiccups.
	ErrTransient = errors.New("transient service error")

	// ErrValidation marks malformed input, rejected before a job is ever
	// created.
	ErrValidation = errors.New("validation failed")
)

func IsAuth(err error) bool          { return errors.Is(err, ErrAuth) }
func IsSlotUnavailable(e error) bool { return errors.Is(e, ErrSlotUnavailable) }
func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
