// Package lifecycle owns every status and payment-status transition a
// booking can make after admission.
package lifecycle

import (
	"fmt"
	"time"

	"venuebook/internal/models"
)

// Actor tags identify who requested a cancellation and pick the resulting
// status variant.
const (
	ActorUser  = "user"
	ActorVenue = "venue"
	ActorAdmin = "admin"
)

// ErrInvalidTransition is wrapped by every rejected transition.
var ErrInvalidTransition = fmt.Errorf("invalid booking transition")

// FSM validates booking status transitions against a fixed table.
type FSM struct {
	transitions map[string][]string
}

// NewFSM builds the booking status machine. Happy path is
// pending → confirmed → checked_in → completed; pending may also be
// rejected or failed; any non-terminal status may be cancelled by user,
// venue or admin. Terminal statuses have no outgoing transitions.
func NewFSM() *FSM {
	cancellations := []string{
		models.StatusCancelledByUser,
		models.StatusCancelledByVenue,
		models.StatusCancelledByAdmin,
	}
	return &FSM{
		transitions: map[string][]string{
			models.StatusPending: append([]string{
				models.StatusConfirmed,
				models.StatusRejected,
				models.StatusFailed,
			}, cancellations...),
			models.StatusConfirmed: append([]string{
				models.StatusCheckedIn,
			}, cancellations...),
			models.StatusCheckedIn: append([]string{
				models.StatusCompleted,
			}, cancellations...),
		},
	}
}

// CanTransition reports whether from → to is an allowed status move.
func (f *FSM) CanTransition(from, to string) bool {
	for _, allowed := range f.transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies the status change to the booking or returns
// ErrInvalidTransition. The booking's UpdatedAt is bumped to now.
func (f *FSM) Transition(b *models.Booking, to string, now time.Time) error {
	if !f.CanTransition(b.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = now
	return nil
}

// Cancel transitions the booking to the cancellation variant matching the
// actor, recording the reason and timestamp. A reason is required.
func (f *FSM) Cancel(b *models.Booking, actor, reason string, now time.Time) error {
	if reason == "" {
		return fmt.Errorf("cancellation requires a reason")
	}
	var to string
	switch actor {
	case ActorUser:
		to = models.StatusCancelledByUser
	case ActorVenue:
		to = models.StatusCancelledByVenue
	case ActorAdmin:
		to = models.StatusCancelledByAdmin
	default:
		return fmt.Errorf("unknown cancellation actor %q", actor)
	}
	if err := f.Transition(b, to, now); err != nil {
		return err
	}
	b.CancellationReason = reason
	b.CancellationTime = &now
	return nil
}

// CheckIn records venue check-in. Only a confirmed booking may check in.
func (f *FSM) CheckIn(b *models.Booking, now time.Time) error {
	if b.Status != models.StatusConfirmed {
		return fmt.Errorf("%w: check-in requires confirmed, booking is %s", ErrInvalidTransition, b.Status)
	}
	if err := f.Transition(b, models.StatusCheckedIn, now); err != nil {
		return err
	}
	b.CheckInTime = &now
	return nil
}

// CheckOut records check-out, moving the booking straight to completed.
func (f *FSM) CheckOut(b *models.Booking, now time.Time) error {
	if b.Status != models.StatusCheckedIn {
		return fmt.Errorf("%w: check-out requires checked_in, booking is %s", ErrInvalidTransition, b.Status)
	}
	if err := f.Transition(b, models.StatusCompleted, now); err != nil {
		return err
	}
	b.CheckOutTime = &now
	return nil
}
