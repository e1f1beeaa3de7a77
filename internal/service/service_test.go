package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"venuebook/internal/events"
	"venuebook/internal/models"
	"venuebook/internal/repository"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) GetVenueCalendar(ctx context.Context, venueID string) (*models.VenueCalendar, error) {
	args := m.Called(ctx, venueID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VenueCalendar), args.Error(1)
}

func (m *mockGateway) ListActiveBookings(ctx context.Context, venueID, date string) ([]models.Booking, error) {
	args := m.Called(ctx, venueID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *mockGateway) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockGateway) CreateBookingIfFree(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockGateway) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockGateway) UpdateBookingStatus(ctx context.Context, id, fromStatus, toStatus string, fields repository.StatusFields) error {
	return m.Called(ctx, id, fromStatus, toStatus, fields).Error(0)
}

func (m *mockGateway) UpdatePaymentStatus(ctx context.Context, id, paymentStatus, paymentID string) error {
	return m.Called(ctx, id, paymentStatus, paymentID).Error(0)
}

func (m *mockGateway) SetRecurringChildren(ctx context.Context, parentID string, childIDs []string) error {
	return m.Called(ctx, parentID, childIDs).Error(0)
}

func (m *mockGateway) ListRefunds(ctx context.Context, bookingID string) ([]models.Refund, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Refund), args.Error(1)
}

func (m *mockGateway) AddRefund(ctx context.Context, r models.Refund) error {
	return m.Called(ctx, r).Error(0)
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) PublishBooking(eventType string, payload events.BookingPayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
	return nil
}

func (b *recordingBus) published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func newTestService(gw repository.Gateway, bus EventPublisher) *Service {
	logger := zerolog.New(io.Discard)
	svc := NewService(gw, bus, Config{RetryBudget: 3}, &logger)
	svc.now = func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func openCalendar() *models.VenueCalendar {
	template := make(map[time.Weekday]models.DayAvailability)
	for d := time.Sunday; d <= time.Saturday; d++ {
		template[d] = models.DayAvailability{IsOpen: true, OpenTime: "08:00", CloseTime: "22:00"}
	}
	return &models.VenueCalendar{
		WeeklyTemplate: template,
		Exceptions:     make(map[string]models.AvailabilityException),
	}
}

func admissionRequest() models.BookingRequest {
	return models.BookingRequest{
		VenueID:      "venue-1",
		UserID:       "user-1",
		Date:         "2024-01-15",
		StartTime:    "10:00",
		EndTime:      "11:00",
		TotalPlayers: 4,
		BookingType:  models.BookingTypeFullVenue,
	}
}

func TestAdmitBooking(t *testing.T) {
	gw := new(mockGateway)
	bus := &recordingBus{}
	svc := newTestService(gw, bus)

	gw.On("GetVenueCalendar", mock.Anything, "venue-1").Return(openCalendar(), nil)
	gw.On("ListActiveBookings", mock.Anything, "venue-1", "2024-01-15").Return([]models.Booking{}, nil)
	gw.On("CreateBookingIfFree", mock.Anything, mock.AnythingOfType("*models.Booking")).Return(nil)

	b, err := svc.AdmitBooking(context.Background(), admissionRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, models.PaymentPending, b.PaymentStatus)
	assert.NotEmpty(t, b.BookingCode)
	assert.Equal(t, []string{events.TypeBookingCreated}, bus.published())
	gw.AssertExpectations(t)
}

func TestAdmitBookingValidationReadsNothing(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	req := admissionRequest()
	req.EndTime = "09:00" // before start

	_, err := svc.AdmitBooking(context.Background(), req)
	assert.ErrorIs(t, err, ErrValidation)
	gw.AssertNotCalled(t, "GetVenueCalendar", mock.Anything, mock.Anything)
}

func TestAdmitBookingUnknownVenue(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	gw.On("GetVenueCalendar", mock.Anything, "venue-1").Return(nil, repository.ErrNotFound)

	_, err := svc.AdmitBooking(context.Background(), admissionRequest())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAdmitBookingAvailabilityDenied(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	cal := openCalendar()
	cal.WeeklyTemplate[time.Monday] = models.DayAvailability{IsOpen: false} // 2024-01-15 is a Monday
	gw.On("GetVenueCalendar", mock.Anything, "venue-1").Return(cal, nil)

	_, err := svc.AdmitBooking(context.Background(), admissionRequest())
	assert.ErrorIs(t, err, ErrAvailabilityDenied)
	gw.AssertNotCalled(t, "ListActiveBookings", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdmitBookingConflictDenied(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	existing := []models.Booking{{
		ID: "other", VenueID: "venue-1", Date: "2024-01-15",
		StartTime: "10:30", EndTime: "11:30", Status: models.StatusConfirmed,
	}}
	gw.On("GetVenueCalendar", mock.Anything, "venue-1").Return(openCalendar(), nil)
	gw.On("ListActiveBookings", mock.Anything, "venue-1", "2024-01-15").Return(existing, nil)

	_, err := svc.AdmitBooking(context.Background(), admissionRequest())
	assert.ErrorIs(t, err, ErrConflictDenied)
	gw.AssertNotCalled(t, "CreateBookingIfFree", mock.Anything, mock.Anything)
}

func TestAdmitBookingCancelledDoesNotBlock(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	existing := []models.Booking{{
		ID: "other", VenueID: "venue-1", Date: "2024-01-15",
		StartTime: "10:00", EndTime: "11:00", Status: models.StatusCancelledByUser,
	}}
	gw.On("GetVenueCalendar", mock.Anything, "venue-1").Return(openCalendar(), nil)
	gw.On("ListActiveBookings", mock.Anything, "venue-1", "2024-01-15").Return(existing, nil)
	gw.On("CreateBookingIfFree", mock.Anything, mock.Anything).Return(nil)

	_, err := svc.AdmitBooking(context.Background(), admissionRequest())
	assert.NoError(t, err)
}

func TestAdmitBookingRetriesLostRace(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	gw.On("GetVenueCalendar", mock.Anything, "venue-1").Return(openCalendar(), nil)
	gw.On("ListActiveBookings", mock.Anything, "venue-1", "2024-01-15").Return([]models.Booking{}, nil)
	gw.On("CreateBookingIfFree", mock.Anything, mock.Anything).Return(repository.ErrOverlap).Once()
	gw.On("CreateBookingIfFree", mock.Anything, mock.Anything).Return(nil).Once()

	b, err := svc.AdmitBooking(context.Background(), admissionRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, b.Status)
	gw.AssertNumberOfCalls(t, "CreateBookingIfFree", 2)
}

func TestAdmitBookingRetryBudgetExhausted(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	gw.On("GetVenueCalendar", mock.Anything, "venue-1").Return(openCalendar(), nil)
	gw.On("ListActiveBookings", mock.Anything, "venue-1", "2024-01-15").Return([]models.Booking{}, nil)
	gw.On("CreateBookingIfFree", mock.Anything, mock.Anything).Return(repository.ErrOverlap)

	_, err := svc.AdmitBooking(context.Background(), admissionRequest())
	assert.ErrorIs(t, err, ErrAdmissionFailed)
	gw.AssertNumberOfCalls(t, "CreateBookingIfFree", 3)
}

func TestAdmitBookingStorageError(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	gw.On("GetVenueCalendar", mock.Anything, "venue-1").Return(openCalendar(), nil)
	gw.On("ListActiveBookings", mock.Anything, "venue-1", "2024-01-15").Return(nil, assert.AnError)

	_, err := svc.AdmitBooking(context.Background(), admissionRequest())
	assert.ErrorIs(t, err, ErrStorage)
}

// fakeGateway is an in-memory store with real conditional-insert semantics,
// used where the mock's canned answers cannot express a check-then-act race.
type fakeGateway struct {
	mu       sync.Mutex
	calendar *models.VenueCalendar
	bookings []models.Booking
	refunds  map[string][]models.Refund
}

func newFakeGateway(cal *models.VenueCalendar) *fakeGateway {
	return &fakeGateway{calendar: cal, refunds: make(map[string][]models.Refund)}
}

func (f *fakeGateway) GetVenueCalendar(ctx context.Context, venueID string) (*models.VenueCalendar, error) {
	return f.calendar, nil
}

func (f *fakeGateway) ListActiveBookings(ctx context.Context, venueID, date string) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Booking
	for _, b := range f.bookings {
		if b.VenueID == venueID && b.Date == date {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeGateway) CreateBooking(ctx context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings = append(f.bookings, *b)
	return nil
}

func (f *fakeGateway) CreateBookingIfFree(ctx context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.bookings {
		if existing.VenueID != b.VenueID || existing.Date != b.Date || !existing.IsActive() {
			continue
		}
		if existing.Overlaps(b.StartTime, b.EndTime) {
			return repository.ErrOverlap
		}
	}
	f.bookings = append(f.bookings, *b)
	return nil
}

func (f *fakeGateway) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bookings {
		if f.bookings[i].ID == id {
			b := f.bookings[i]
			return &b, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeGateway) UpdateBookingStatus(ctx context.Context, id, fromStatus, toStatus string, fields repository.StatusFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bookings {
		if f.bookings[i].ID != id {
			continue
		}
		if f.bookings[i].Status != fromStatus {
			return repository.ErrStale
		}
		f.bookings[i].Status = toStatus
		return nil
	}
	return repository.ErrNotFound
}

func (f *fakeGateway) UpdatePaymentStatus(ctx context.Context, id, paymentStatus, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.bookings {
		if f.bookings[i].ID == id {
			f.bookings[i].PaymentStatus = paymentStatus
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeGateway) SetRecurringChildren(ctx context.Context, parentID string, childIDs []string) error {
	return nil
}

func (f *fakeGateway) ListRefunds(ctx context.Context, bookingID string) ([]models.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunds[bookingID], nil
}

func (f *fakeGateway) AddRefund(ctx context.Context, r models.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds[r.BookingID] = append(f.refunds[r.BookingID], r)
	return nil
}

func TestConcurrentAdmissionsAdmitExactlyOne(t *testing.T) {
	gw := newFakeGateway(openCalendar())
	svc := newTestService(gw, &recordingBus{})

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AdmitBooking(context.Background(), admissionRequest())
		}(i)
	}
	wg.Wait()

	var admitted, denied int
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrConflictDenied) || errors.Is(err, ErrAdmissionFailed):
			denied++
		default:
			t.Errorf("unexpected admission error: %v", err)
		}
	}
	assert.Equal(t, 1, admitted, "exactly one identical window may win")
	assert.Equal(t, workers-1, denied)

	stored, err := gw.ListActiveBookings(context.Background(), "venue-1", "2024-01-15")
	require.NoError(t, err)
	assert.Len(t, stored, 1, "no double booking may reach the store")
}

func TestLifecycleOperations(t *testing.T) {
	gw := new(mockGateway)
	bus := &recordingBus{}
	svc := newTestService(gw, bus)

	pending := &models.Booking{
		ID: "b1", VenueID: "venue-1", Date: "2024-01-15",
		StartTime: "10:00", EndTime: "11:00",
		Status: models.StatusPending, PaymentStatus: models.PaymentPending,
	}
	gw.On("GetBooking", mock.Anything, "b1").Return(pending, nil)
	gw.On("UpdateBookingStatus", mock.Anything, "b1", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	b, err := svc.Confirm(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)

	b, err = svc.CheckIn(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCheckedIn, b.Status)
	assert.NotNil(t, b.CheckInTime)

	b, err = svc.CheckOut(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, b.Status)
	assert.NotNil(t, b.CheckOutTime)

	assert.Equal(t, []string{
		events.TypeBookingStatus, events.TypeBookingStatus, events.TypeBookingStatus,
	}, bus.published())
}

func TestCancelPersistsReason(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	b := &models.Booking{ID: "b1", Status: models.StatusConfirmed, PaymentStatus: models.PaymentPaid}
	gw.On("GetBooking", mock.Anything, "b1").Return(b, nil)
	gw.On("UpdateBookingStatus", mock.Anything, "b1", models.StatusConfirmed, models.StatusCancelledByVenue,
		mock.MatchedBy(func(f repository.StatusFields) bool {
			return f.CancellationReason == "flooded court" && f.CancellationTime != nil
		})).Return(nil)

	got, err := svc.Cancel(context.Background(), "b1", "venue", "flooded court")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelledByVenue, got.Status)
	gw.AssertExpectations(t)
}

func TestCancelCompletedRejected(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	b := &models.Booking{ID: "b1", Status: models.StatusCompleted}
	gw.On("GetBooking", mock.Anything, "b1").Return(b, nil)

	_, err := svc.Cancel(context.Background(), "b1", "user", "too late")
	assert.Error(t, err)
	gw.AssertNotCalled(t, "UpdateBookingStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOnPaymentResultPaidConfirms(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	b := &models.Booking{ID: "b1", Status: models.StatusPending, PaymentStatus: models.PaymentPending}
	gw.On("GetBooking", mock.Anything, "b1").Return(b, nil)
	gw.On("UpdatePaymentStatus", mock.Anything, "b1", models.PaymentPaid, "pay-42").Return(nil)
	gw.On("UpdateBookingStatus", mock.Anything, "b1", models.StatusPending, models.StatusConfirmed, mock.Anything).Return(nil)

	got, err := svc.OnPaymentResult(context.Background(), "b1", models.PaymentPaid,
		map[string]string{"payment_id": "pay-42"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
}

func TestOnPaymentResultFailedFails(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	b := &models.Booking{ID: "b1", Status: models.StatusPending, PaymentStatus: models.PaymentProcessing}
	gw.On("GetBooking", mock.Anything, "b1").Return(b, nil)
	gw.On("UpdatePaymentStatus", mock.Anything, "b1", models.PaymentFailed, "").Return(nil)
	gw.On("UpdateBookingStatus", mock.Anything, "b1", models.StatusPending, models.StatusFailed, mock.Anything).Return(nil)

	got, err := svc.OnPaymentResult(context.Background(), "b1", models.PaymentFailed, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestOnPaymentResultInvalidMove(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	b := &models.Booking{ID: "b1", Status: models.StatusConfirmed, PaymentStatus: models.PaymentPaid}
	gw.On("GetBooking", mock.Anything, "b1").Return(b, nil)

	_, err := svc.OnPaymentResult(context.Background(), "b1", models.PaymentPending, nil)
	assert.Error(t, err)
	gw.AssertNotCalled(t, "UpdatePaymentStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefundDerivesStatus(t *testing.T) {
	gw := new(mockGateway)
	svc := newTestService(gw, &recordingBus{})

	b := &models.Booking{
		ID: "b1", Status: models.StatusCancelledByVenue,
		PaymentStatus: models.PaymentPaid,
		Price:         models.Price{TotalAmount: 10000},
	}
	gw.On("GetBooking", mock.Anything, "b1").Return(b, nil)
	gw.On("ListRefunds", mock.Anything, "b1").Return([]models.Refund{{Amount: 6000}}, nil)
	gw.On("AddRefund", mock.Anything, mock.AnythingOfType("models.Refund")).Return(nil)
	gw.On("UpdatePaymentStatus", mock.Anything, "b1", models.PaymentFullyRefunded, "").Return(nil)

	got, err := svc.Refund(context.Background(), "b1", 4000, "venue cancelled")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFullyRefunded, got.PaymentStatus)
	gw.AssertExpectations(t)
}

// staleReadGateway serves every GetBooking from a frozen snapshot while
// writes go to the underlying store, reproducing a reader whose loaded
// booking has since been moved on by another caller.
type staleReadGateway struct {
	*fakeGateway
	snapshot models.Booking
}

func (g *staleReadGateway) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	b := g.snapshot
	return &b, nil
}

func TestStaleLifecycleWriteRejected(t *testing.T) {
	gw := newFakeGateway(openCalendar())
	booking := models.Booking{
		ID: "b1", VenueID: "venue-1", Date: "2024-01-15",
		StartTime: "10:00", EndTime: "11:00",
		Status: models.StatusConfirmed, PaymentStatus: models.PaymentPaid,
	}
	require.NoError(t, gw.CreateBooking(context.Background(), &booking))

	svc := newTestService(gw, &recordingBus{})
	_, err := svc.Cancel(context.Background(), "b1", "user", "plans changed")
	require.NoError(t, err)

	// A second caller still holds the confirmed snapshot from before the
	// cancellation. Its check-in passes the in-memory lifecycle check but
	// must not move the booking out of a terminal status.
	stale := newTestService(&staleReadGateway{fakeGateway: gw, snapshot: booking}, &recordingBus{})
	_, err = stale.CheckIn(context.Background(), "b1")
	assert.ErrorIs(t, err, ErrWriteConflict)

	stored, err := gw.GetBooking(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelledByUser, stored.Status)
}

func TestConcurrentRefundsSettleExactly(t *testing.T) {
	gw := newFakeGateway(openCalendar())
	booking := models.Booking{
		ID: "b1", VenueID: "venue-1", Date: "2024-01-15",
		StartTime: "10:00", EndTime: "11:00",
		Status:        models.StatusCancelledByVenue,
		PaymentStatus: models.PaymentPaid,
		Price:         models.Price{TotalAmount: 10000},
	}
	require.NoError(t, gw.CreateBooking(context.Background(), &booking))

	svc := newTestService(gw, &recordingBus{})

	// Two half-total refunds racing: each must see the other's record when
	// deriving the payment status, so the second one lands on fully
	// refunded rather than both concluding partial.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refund(context.Background(), "b1", 5000, "venue cancelled")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	refunds, err := gw.ListRefunds(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, refunds, 2)

	stored, err := gw.GetBooking(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFullyRefunded, stored.PaymentStatus)
}
