// Package repository defines the persistence gateway the booking engine
// talks to, plus the SQLite implementation and a Redis calendar cache.
package repository

import (
	"context"
	"errors"
	"time"

	"venuebook/internal/models"
)

var (
	// ErrNotFound is returned when a venue or booking does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOverlap is returned by CreateBookingIfFree when another active
	// booking occupied an overlapping window by commit time. The caller
	// treats this as a lost race, not a storage failure.
	ErrOverlap = errors.New("overlapping active booking exists")

	// ErrStale is returned by UpdateBookingStatus when the booking exists
	// but its stored status no longer matches fromStatus. The caller's
	// snapshot is out of date and the transition must not be applied.
	ErrStale = errors.New("booking status changed since read")
)

// StatusFields carries the optional columns an UpdateBookingStatus call
// may set alongside the status itself.
type StatusFields struct {
	CancellationReason string
	CancellationTime   *time.Time
	CheckInTime        *time.Time
	CheckOutTime       *time.Time
}

// Gateway is the persistence contract consumed by the booking engine.
// Implementations must return a consistent snapshot from
// ListActiveBookings and honor the conditional semantics of
// CreateBookingIfFree; those two properties are what the admission
// pipeline's isolation strategy rests on.
type Gateway interface {
	// GetVenueCalendar returns the calendar for a venue or ErrNotFound.
	GetVenueCalendar(ctx context.Context, venueID string) (*models.VenueCalendar, error)

	// ListActiveBookings returns every non-deleted booking for the venue
	// and date, regardless of status; status filtering is the conflict
	// detector's job.
	ListActiveBookings(ctx context.Context, venueID, date string) ([]models.Booking, error)

	// CreateBooking persists a booking unconditionally.
	CreateBooking(ctx context.Context, b *models.Booking) error

	// CreateBookingIfFree persists the booking only if no overlapping
	// active booking exists for the same venue and date at commit time,
	// returning ErrOverlap otherwise.
	CreateBookingIfFree(ctx context.Context, b *models.Booking) error

	// GetBooking returns a booking by ID or ErrNotFound.
	GetBooking(ctx context.Context, id string) (*models.Booking, error)

	// UpdateBookingStatus sets the status and any provided side fields,
	// but only while the stored status still equals fromStatus. Returns
	// ErrStale when another writer got there first, so lifecycle checks
	// made against an earlier read cannot overwrite a newer status.
	UpdateBookingStatus(ctx context.Context, id, fromStatus, toStatus string, fields StatusFields) error

	// UpdatePaymentStatus sets the payment status and, when non-empty,
	// the payment reference.
	UpdatePaymentStatus(ctx context.Context, id, paymentStatus, paymentID string) error

	// SetRecurringChildren records the child IDs on a parent booking.
	SetRecurringChildren(ctx context.Context, parentID string, childIDs []string) error

	// ListRefunds returns all refunds recorded against a booking.
	ListRefunds(ctx context.Context, bookingID string) ([]models.Refund, error)

	// AddRefund records a refund.
	AddRefund(ctx context.Context, r models.Refund) error
}
