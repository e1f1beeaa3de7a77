// Package service runs the booking admission pipeline and the lifecycle
// operations on admitted bookings.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"venuebook/internal/availability"
	"venuebook/internal/conflict"
	"venuebook/internal/events"
	"venuebook/internal/lifecycle"
	"venuebook/internal/metrics"
	"venuebook/internal/models"
	"venuebook/internal/recurrence"
	"venuebook/internal/repository"
)

// EventPublisher is the slice of the event bus the service needs.
type EventPublisher interface {
	PublishBooking(eventType string, payload events.BookingPayload) error
}

// Config holds service tunables.
type Config struct {
	// RetryBudget is how many admission attempts may run before a write
	// conflict turns into ErrAdmissionFailed. Default 3.
	RetryBudget int

	// AdmissionRate and AdmissionBurst configure an optional throttle on
	// admission attempts. Zero rate disables throttling.
	AdmissionRate  float64
	AdmissionBurst int
}

// Service is the booking engine facade. All dependencies are injected;
// there is no process-wide state.
type Service struct {
	gateway      repository.Gateway
	availability *availability.Engine
	conflicts    *conflict.Detector
	expander     *recurrence.Expander
	fsm          *lifecycle.FSM
	payments     *lifecycle.PaymentFSM
	bus          EventPublisher
	locks        *keyedMutex
	limiter      *rate.Limiter
	retryBudget  int
	logger       *zerolog.Logger
	now          func() time.Time
}

// NewService creates the booking service.
func NewService(gateway repository.Gateway, bus EventPublisher, cfg Config, logger *zerolog.Logger) *Service {
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}
	var limiter *rate.Limiter
	if cfg.AdmissionRate > 0 {
		burst := cfg.AdmissionBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.AdmissionRate), burst)
	}
	return &Service{
		gateway:      gateway,
		availability: availability.NewEngine(),
		conflicts:    conflict.NewDetector(),
		expander:     recurrence.NewExpander(),
		fsm:          lifecycle.NewFSM(),
		payments:     lifecycle.NewPaymentFSM(),
		bus:          bus,
		locks:        newKeyedMutex(),
		limiter:      limiter,
		retryBudget:  cfg.RetryBudget,
		logger:       logger,
		now:          time.Now,
	}
}

// AdmitBooking runs the full admission pipeline for a single request:
// validation, calendar availability, conflict detection, then a
// conditional create serialized per (venue, date). On success the booking
// is persisted as PENDING and returned.
func (s *Service) AdmitBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error) {
	if err := req.Validate(); err != nil {
		metrics.IncAdmission(metrics.OutcomeValidationError)
		return nil, validationErr(err)
	}
	return s.admit(ctx, req, "")
}

// admit performs one serialized admission. parentID, when set, links the
// created booking to its recurring parent.
func (s *Service) admit(ctx context.Context, req models.BookingRequest, parentID string) (*models.Booking, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAdmissionFailed, err)
		}
	}

	start := time.Now()
	defer func() {
		metrics.ObserveAdmissionDuration(time.Since(start).Seconds())
	}()

	key := req.VenueID + "|" + req.Date
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	for attempt := 1; attempt <= s.retryBudget; attempt++ {
		booking, err := s.tryAdmit(ctx, req, parentID)
		if err == nil {
			metrics.IncAdmission(metrics.OutcomeAdmitted)
			s.logger.Info().
				Str("booking_id", booking.ID).
				Str("venue_id", booking.VenueID).
				Str("date", booking.Date).
				Str("window", booking.StartTime+"-"+booking.EndTime).
				Int("attempt", attempt).
				Msg("booking admitted")
			s.publish(events.TypeBookingCreated, booking, "")
			return booking, nil
		}
		if errors.Is(err, ErrWriteConflict) {
			metrics.IncWriteConflictRetry()
			s.logger.Warn().
				Str("venue_id", req.VenueID).
				Str("date", req.Date).
				Int("attempt", attempt).
				Msg("admission lost write race, retrying with fresh read")
			continue
		}
		s.countDenial(err)
		return nil, err
	}

	metrics.IncAdmission(metrics.OutcomeAdmissionFailed)
	return nil, fmt.Errorf("%w: retry budget of %d exhausted: %w", ErrAdmissionFailed, s.retryBudget, ErrWriteConflict)
}

// tryAdmit is one check-then-act attempt: fresh calendar read, fresh
// booking snapshot, conditional insert.
func (s *Service) tryAdmit(ctx context.Context, req models.BookingRequest, parentID string) (*models.Booking, error) {
	cal, err := s.gateway.GetVenueCalendar(ctx, req.VenueID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, validationErr(err)
		}
		return nil, storageErr("get venue calendar", err)
	}

	ok, err := s.availability.IsCalendarAvailable(cal, req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, validationErr(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: venue %s on %s %s-%s", ErrAvailabilityDenied, req.VenueID, req.Date, req.StartTime, req.EndTime)
	}

	existing, err := s.gateway.ListActiveBookings(ctx, req.VenueID, req.Date)
	if err != nil {
		return nil, storageErr("list bookings", err)
	}
	if s.conflicts.HasConflict(existing, req.StartTime, req.EndTime) {
		return nil, fmt.Errorf("%w: venue %s on %s %s-%s", ErrConflictDenied, req.VenueID, req.Date, req.StartTime, req.EndTime)
	}

	booking := models.NewBooking(req, s.now())
	if parentID != "" {
		booking.RecurringLink = &models.RecurringLink{ParentBookingID: parentID}
	}

	if err := s.gateway.CreateBookingIfFree(ctx, booking); err != nil {
		if errors.Is(err, repository.ErrOverlap) {
			return nil, fmt.Errorf("%w: venue %s date %s", ErrWriteConflict, req.VenueID, req.Date)
		}
		return nil, storageErr("create booking", err)
	}
	return booking, nil
}

func (s *Service) countDenial(err error) {
	switch {
	case errors.Is(err, ErrAvailabilityDenied):
		metrics.IncAdmission(metrics.OutcomeAvailabilityDenied)
	case errors.Is(err, ErrConflictDenied):
		metrics.IncAdmission(metrics.OutcomeConflictDenied)
	case errors.Is(err, ErrValidation):
		metrics.IncAdmission(metrics.OutcomeValidationError)
	case errors.Is(err, ErrStorage):
		metrics.IncAdmission(metrics.OutcomeStorageError)
	}
}

// Confirm moves a pending booking to confirmed.
func (s *Service) Confirm(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusConfirmed, repository.StatusFields{})
}

// Reject moves a pending booking to rejected.
func (s *Service) Reject(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusRejected, repository.StatusFields{})
}

// Cancel cancels a booking on behalf of an actor (user, venue or admin).
// Cancellation is always available for non-terminal bookings; the reason
// and timestamp feed the downstream refund-eligibility policy.
func (s *Service) Cancel(ctx context.Context, bookingID, actor, reason string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	from := b.Status
	if err := s.fsm.Cancel(b, actor, reason, now); err != nil {
		return nil, err
	}
	fields := repository.StatusFields{CancellationReason: reason, CancellationTime: &now}
	if err := s.gateway.UpdateBookingStatus(ctx, bookingID, from, b.Status, fields); err != nil {
		return nil, statusUpdateErr(bookingID, err)
	}
	metrics.IncLifecycleTransition(b.Status)
	s.publish(events.TypeBookingStatus, b, "cancelled: "+reason)
	return b, nil
}

// CheckIn records venue check-in on a confirmed booking.
func (s *Service) CheckIn(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	from := b.Status
	if err := s.fsm.CheckIn(b, now); err != nil {
		return nil, err
	}
	fields := repository.StatusFields{CheckInTime: &now}
	if err := s.gateway.UpdateBookingStatus(ctx, bookingID, from, b.Status, fields); err != nil {
		return nil, statusUpdateErr(bookingID, err)
	}
	metrics.IncLifecycleTransition(b.Status)
	s.publish(events.TypeBookingStatus, b, "checked in")
	return b, nil
}

// CheckOut records check-out, completing the booking.
func (s *Service) CheckOut(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	from := b.Status
	if err := s.fsm.CheckOut(b, now); err != nil {
		return nil, err
	}
	fields := repository.StatusFields{CheckOutTime: &now}
	if err := s.gateway.UpdateBookingStatus(ctx, bookingID, from, b.Status, fields); err != nil {
		return nil, statusUpdateErr(bookingID, err)
	}
	metrics.IncLifecycleTransition(b.Status)
	s.publish(events.TypeBookingStatus, b, "checked out")
	return b, nil
}

// OnPaymentResult consumes a payment-status notification from the payment
// collaborator. The engine only knows the resulting status; gateway
// specifics (card tokens, order IDs) stay with the collaborator. A paid
// result confirms a pending booking; a failed result fails it.
func (s *Service) OnPaymentResult(ctx context.Context, bookingID, paymentStatus string, metadata map[string]string) (*models.Booking, error) {
	key := "booking|" + bookingID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.payments.Transition(b, paymentStatus, now); err != nil {
		return nil, err
	}
	if err := s.gateway.UpdatePaymentStatus(ctx, bookingID, paymentStatus, metadata["payment_id"]); err != nil {
		return nil, storageErr("update payment status", err)
	}

	switch paymentStatus {
	case models.PaymentPaid:
		if b.Status == models.StatusPending {
			if _, err := s.transitionLoaded(ctx, b, models.StatusConfirmed); err != nil {
				return nil, err
			}
		}
	case models.PaymentFailed:
		if b.Status == models.StatusPending {
			if _, err := s.transitionLoaded(ctx, b, models.StatusFailed); err != nil {
				return nil, err
			}
		}
	}

	s.publish(events.TypePaymentUpdated, b, "")
	return b, nil
}

// Refund records a refund against a paid booking and derives the new
// payment status from the cumulative refunded amount.
func (s *Service) Refund(ctx context.Context, bookingID string, amount int64, reason string) (*models.Booking, error) {
	// The refund history read and the status derived from it must see a
	// settled view, so refunds for one booking run one at a time.
	key := "booking|" + bookingID
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	refunds, err := s.gateway.ListRefunds(ctx, bookingID)
	if err != nil {
		return nil, storageErr("list refunds", err)
	}

	now := s.now()
	refund := models.Refund{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		Amount:    amount,
		Reason:    reason,
		CreatedAt: now,
	}
	status, err := s.payments.ApplyRefund(b, refunds, refund, now)
	if err != nil {
		return nil, err
	}
	if err := s.gateway.AddRefund(ctx, refund); err != nil {
		return nil, storageErr("add refund", err)
	}
	if err := s.gateway.UpdatePaymentStatus(ctx, bookingID, status, ""); err != nil {
		return nil, storageErr("update payment status", err)
	}
	s.publish(events.TypePaymentUpdated, b, reason)
	return b, nil
}

// GetBooking returns a booking by ID.
func (s *Service) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	return s.loadBooking(ctx, bookingID)
}

func (s *Service) transition(ctx context.Context, bookingID, to string, fields repository.StatusFields) (*models.Booking, error) {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	from := b.Status
	if err := s.fsm.Transition(b, to, s.now()); err != nil {
		return nil, err
	}
	if err := s.gateway.UpdateBookingStatus(ctx, bookingID, from, to, fields); err != nil {
		return nil, statusUpdateErr(bookingID, err)
	}
	metrics.IncLifecycleTransition(to)
	s.publish(events.TypeBookingStatus, b, "")
	return b, nil
}

// transitionLoaded applies a status transition to an already-loaded
// booking, persisting the result.
func (s *Service) transitionLoaded(ctx context.Context, b *models.Booking, to string) (*models.Booking, error) {
	from := b.Status
	if err := s.fsm.Transition(b, to, s.now()); err != nil {
		return nil, err
	}
	if err := s.gateway.UpdateBookingStatus(ctx, b.ID, from, to, repository.StatusFields{}); err != nil {
		return nil, statusUpdateErr(b.ID, err)
	}
	metrics.IncLifecycleTransition(to)
	s.publish(events.TypeBookingStatus, b, "")
	return b, nil
}

func (s *Service) loadBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	b, err := s.gateway.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, validationErr(err)
		}
		return nil, storageErr("get booking", err)
	}
	return b, nil
}

func (s *Service) publish(eventType string, b *models.Booking, detail string) {
	if s.bus == nil {
		return
	}
	err := s.bus.PublishBooking(eventType, events.BookingPayload{
		BookingID:     b.ID,
		VenueID:       b.VenueID,
		Date:          b.Date,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		Detail:        detail,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("event publish failed")
	}
}
