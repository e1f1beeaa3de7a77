package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Booking statuses. Terminal statuses accept no further status transitions;
// payment status may still move for refund bookkeeping.
const (
	StatusPending          = "pending"
	StatusConfirmed        = "confirmed"
	StatusCheckedIn        = "checked_in"
	StatusCompleted        = "completed"
	StatusCancelledByUser  = "cancelled_by_user"
	StatusCancelledByVenue = "cancelled_by_venue"
	StatusCancelledByAdmin = "cancelled_by_admin"
	StatusRejected         = "rejected"
	StatusFailed           = "failed"
)

// Payment statuses.
const (
	PaymentPending           = "pending"
	PaymentProcessing        = "processing"
	PaymentPaid              = "paid"
	PaymentPartiallyRefunded = "partially_refunded"
	PaymentFullyRefunded     = "fully_refunded"
	PaymentFailed            = "failed"
)

// Booking types.
const (
	BookingTypeFullVenue    = "full_venue"
	BookingTypePartialVenue = "partial_venue"
)

// Recurrence frequencies.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// IsActiveStatus reports whether a booking with this status occupies
// calendar time. Cancelled, rejected and failed bookings never do.
func IsActiveStatus(status string) bool {
	switch status {
	case StatusCancelledByUser, StatusCancelledByVenue, StatusCancelledByAdmin,
		StatusRejected, StatusFailed:
		return false
	}
	return true
}

// IsTerminalStatus reports whether status accepts no further transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelledByUser, StatusCancelledByVenue,
		StatusCancelledByAdmin, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Price is the booking price breakdown. Amounts are in minor currency
// units (cents, paise) so refund thresholds compare exactly.
type Price struct {
	BaseAmount  int64  `json:"base_amount"`
	Taxes       int64  `json:"taxes"`
	Fees        int64  `json:"fees"`
	Discounts   int64  `json:"discounts"`
	TotalAmount int64  `json:"total_amount"`
	Currency    string `json:"currency"`
}

// Refund records one refund against a booking's payment.
type Refund struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	Amount    int64     `json:"amount"` // minor units
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// RecurringLink ties a booking into a recurring series. The parent holds
// the child IDs; children hold the parent ID. Links are references only,
// each booking owns its own lifecycle.
type RecurringLink struct {
	ParentBookingID string   `json:"parent_booking_id,omitempty"`
	ChildBookingIDs []string `json:"child_booking_ids,omitempty"`
}

// RecurrenceRule describes how a recurring request expands into a series.
type RecurrenceRule struct {
	Frequency    string   `json:"frequency"` // daily, weekly, monthly
	Interval     int      `json:"interval"`  // every N days/weeks/months
	EndDate      string   `json:"end_date"`  // "YYYY-MM-DD", inclusive
	ExcludeDates []string `json:"exclude_dates,omitempty"`
}

// Validate checks the rule against the series base date.
func (r RecurrenceRule) Validate(baseDate string) error {
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		return fmt.Errorf("unknown frequency %q", r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("interval must be >= 1, got %d", r.Interval)
	}
	if _, err := ParseDate(r.EndDate); err != nil {
		return err
	}
	if r.EndDate < baseDate {
		return fmt.Errorf("end date %s before base date %s", r.EndDate, baseDate)
	}
	for _, d := range r.ExcludeDates {
		if _, err := ParseDate(d); err != nil {
			return fmt.Errorf("exclude date: %w", err)
		}
	}
	return nil
}

// BookingRequest is an admission request for one venue/date/window.
type BookingRequest struct {
	VenueID      string          `json:"venue_id"`
	UserID       string          `json:"user_id"`
	Date         string          `json:"date"`       // "YYYY-MM-DD"
	StartTime    string          `json:"start_time"` // "HH:MM"
	EndTime      string          `json:"end_time"`   // "HH:MM"
	TotalPlayers int             `json:"total_players"`
	BookingType  string          `json:"booking_type"`
	CourtNumber  string          `json:"court_number,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	IsRecurring  bool            `json:"is_recurring"`
	Recurrence   *RecurrenceRule `json:"recurrence,omitempty"`
}

// Validate checks the request's structural invariants. It does not touch
// the store: a request failing here is rejected before any read.
func (r BookingRequest) Validate() error {
	if r.VenueID == "" {
		return fmt.Errorf("venue id is required")
	}
	if _, err := ParseDate(r.Date); err != nil {
		return err
	}
	if err := ValidateClock(r.StartTime); err != nil {
		return err
	}
	if err := ValidateClock(r.EndTime); err != nil {
		return err
	}
	if r.StartTime >= r.EndTime {
		return fmt.Errorf("start time %s not before end time %s", r.StartTime, r.EndTime)
	}
	if r.IsRecurring {
		if r.Recurrence == nil {
			return fmt.Errorf("recurring request without recurrence rule")
		}
		if err := r.Recurrence.Validate(r.Date); err != nil {
			return err
		}
	}
	return nil
}

// Booking is an admitted reservation. Identity fields (ID, VenueID,
// UserID, Date, StartTime, EndTime, BookingCode) are immutable after
// creation; status, payment status, price and timestamps mutate through
// the lifecycle. Bookings are never deleted, only moved to a terminal
// status.
type Booking struct {
	ID                 string          `json:"id"`
	VenueID            string          `json:"venue_id"`
	UserID             string          `json:"user_id"`
	Date               string          `json:"date"`
	StartTime          string          `json:"start_time"`
	EndTime            string          `json:"end_time"`
	Duration           int             `json:"duration"` // minutes
	TotalPlayers       int             `json:"total_players"`
	BookingType        string          `json:"booking_type"`
	CourtNumber        string          `json:"court_number,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	Status             string          `json:"status"`
	PaymentID          string          `json:"payment_id,omitempty"`
	PaymentStatus      string          `json:"payment_status"`
	Price              Price           `json:"price"`
	BookingCode        string          `json:"booking_code"`
	IsRecurring        bool            `json:"is_recurring"`
	Recurrence         *RecurrenceRule `json:"recurrence,omitempty"`
	RecurringLink      *RecurringLink  `json:"recurring_link,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CancellationTime   *time.Time      `json:"cancellation_time,omitempty"`
	CheckInTime        *time.Time      `json:"check_in_time,omitempty"`
	CheckOutTime       *time.Time      `json:"check_out_time,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IsActive reports whether the booking occupies calendar time.
func (b *Booking) IsActive() bool {
	return IsActiveStatus(b.Status)
}

// Overlaps reports whether the booking's window overlaps [startTime, endTime).
// Windows are half-open: touching endpoints do not overlap.
func (b *Booking) Overlaps(startTime, endTime string) bool {
	return b.StartTime < endTime && startTime < b.EndTime
}

// NewBookingCode generates a 6 character alphanumeric check-in code.
// Derived from UUID entropy rather than math/rand so codes stay unique
// enough without a shared generator.
func NewBookingCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return raw[:6]
}

// NewBooking builds a PENDING booking from an admitted request.
func NewBooking(req BookingRequest, now time.Time) *Booking {
	b := &Booking{
		ID:            uuid.NewString(),
		VenueID:       req.VenueID,
		UserID:        req.UserID,
		Date:          req.Date,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Duration:      MinutesBetween(req.StartTime, req.EndTime),
		TotalPlayers:  req.TotalPlayers,
		BookingType:   req.BookingType,
		CourtNumber:   req.CourtNumber,
		Notes:         req.Notes,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		BookingCode:   NewBookingCode(),
		IsRecurring:   req.IsRecurring,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.IsRecurring && req.Recurrence != nil {
		rule := *req.Recurrence
		b.Recurrence = &rule
		b.RecurringLink = &RecurringLink{}
	}
	return b
}
