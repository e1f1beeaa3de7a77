package service

import (
	"context"
	"errors"
	"sync"

	"venuebook/internal/events"
	"venuebook/internal/metrics"
	"venuebook/internal/models"
)

// ChildResult reports the outcome of one recurring child admission.
type ChildResult struct {
	Date      string `json:"date"`
	BookingID string `json:"booking_id,omitempty"`
	Admitted  bool   `json:"admitted"`
	Reason    string `json:"reason,omitempty"`
}

// RecurringResult is the outcome of a recurring booking creation: the
// admitted parent plus one result per expanded child date. Children are
// independent bookings, so child failures never roll back the parent or
// their admitted siblings; callers inspect Skipped to see which dates
// were not booked and why.
type RecurringResult struct {
	Parent   *models.Booking `json:"parent"`
	Children []ChildResult   `json:"children"`
}

// AdmittedChildIDs returns the IDs of admitted children, in date order.
func (r *RecurringResult) AdmittedChildIDs() []string {
	var ids []string
	for _, c := range r.Children {
		if c.Admitted {
			ids = append(ids, c.BookingID)
		}
	}
	return ids
}

// Skipped returns the results of children that were not admitted.
func (r *RecurringResult) Skipped() []ChildResult {
	var skipped []ChildResult
	for _, c := range r.Children {
		if !c.Admitted {
			skipped = append(skipped, c)
		}
	}
	return skipped
}

// AdmitRecurringBooking admits the parent request, expands the recurrence
// rule and admits each child independently. Child admissions for distinct
// dates run concurrently; each one still serializes per (venue, date)
// inside admit. A child failing its own availability or conflict check is
// skipped and reported, never fatal to the series.
func (s *Service) AdmitRecurringBooking(ctx context.Context, req models.BookingRequest) (*RecurringResult, error) {
	if err := req.Validate(); err != nil {
		metrics.IncAdmission(metrics.OutcomeValidationError)
		return nil, validationErr(err)
	}
	if !req.IsRecurring || req.Recurrence == nil {
		metrics.IncAdmission(metrics.OutcomeValidationError)
		return nil, validationErr(errors.New("request is not recurring"))
	}

	parent, err := s.admit(ctx, req, "")
	if err != nil {
		return nil, err
	}

	children, err := s.expander.Expand(req, *req.Recurrence)
	if err != nil {
		// The rule already validated; an expansion failure here means a
		// malformed rule slipped through.
		return nil, validationErr(err)
	}

	results := make([]ChildResult, len(children))
	var wg sync.WaitGroup
	for i, child := range children {
		wg.Add(1)
		go func(i int, child models.BookingRequest) {
			defer wg.Done()
			booking, err := s.admit(ctx, child, parent.ID)
			if err != nil {
				results[i] = ChildResult{Date: child.Date, Reason: childReason(err)}
				metrics.IncRecurrenceChild("skipped")
				s.logger.Info().
					Str("parent_id", parent.ID).
					Str("date", child.Date).
					Str("reason", results[i].Reason).
					Msg("recurring child skipped")
				return
			}
			results[i] = ChildResult{Date: child.Date, BookingID: booking.ID, Admitted: true}
			metrics.IncRecurrenceChild("admitted")
		}(i, child)
	}
	wg.Wait()

	result := &RecurringResult{Parent: parent, Children: results}
	if ids := result.AdmittedChildIDs(); len(ids) > 0 {
		if err := s.gateway.SetRecurringChildren(ctx, parent.ID, ids); err != nil {
			return result, storageErr("link recurring children", err)
		}
		parent.RecurringLink.ChildBookingIDs = ids
	}

	s.publish(events.TypeRecurringSeries, parent, "")
	return result, nil
}

// childReason condenses an admission error into a stable, user-facing
// reason string for the per-child report.
func childReason(err error) string {
	switch {
	case errors.Is(err, ErrAvailabilityDenied):
		return "availability_denied"
	case errors.Is(err, ErrConflictDenied):
		return "conflict_denied"
	case errors.Is(err, ErrAdmissionFailed):
		return "admission_failed"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "invalid_request"
	}
}
