// Package ride owns the ride lifecycle: legal status transitions, the OTP
// gate, terminal cleanup, and the pending-ride timeout.
package ride

import (
	"errors"

	"github.com/example/ride-hail/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvalidOTP leaves the ride in arrived; the passenger may retry.
	ErrInvalidOTP = errors.New("invalid OTP")
	ErrValidation = errors.New("invalid ride request")
	ErrNotDriver  = errors.New("caller is not the ride's driver")
)

// Cancellation reasons recorded on the ride row.
const (
	ReasonNoDriver  = "no driver found"
	ReasonPassenger = "cancelled by passenger"
	ReasonDriver    = "cancelled by driver"
)

// transitions is the single source of truth for the lifecycle.
// Cancellation is reachable from pending, accepted and arrived but not from
// in_progress: once the trip has started the only way out is completion.
var transitions = map[models.RideStatus][]models.RideStatus{
	models.StatusPending:    {models.StatusAccepted, models.StatusCancelled},
	models.StatusAccepted:   {models.StatusArrived, models.StatusCancelled},
	models.StatusArrived:    {models.StatusInProgress, models.StatusCancelled},
	models.StatusInProgress: {models.StatusCompleted},
}

// CanTransition reports whether from -> to is a legal move. Terminal states
// have no outgoing edges, so repeated completion or cancellation is rejected
// rather than silently overwritten.
func CanTransition(from, to models.RideStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a ride in the given status may still be
// cancelled by either party.
func Cancellable(s models.RideStatus) bool {
	return CanTransition(s, models.StatusCancelled)
}
