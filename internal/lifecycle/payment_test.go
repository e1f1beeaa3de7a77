package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venuebook/internal/models"
)

func paidBooking(total int64) *models.Booking {
	b := pendingBooking()
	b.PaymentStatus = models.PaymentPaid
	b.Price = models.Price{TotalAmount: total, Currency: "USD"}
	return b
}

func TestPaymentTransitions(t *testing.T) {
	fsm := NewPaymentFSM()

	tests := []struct {
		from, to string
		ok       bool
	}{
		{models.PaymentPending, models.PaymentProcessing, true},
		{models.PaymentPending, models.PaymentPaid, true},
		{models.PaymentPending, models.PaymentFailed, true},
		{models.PaymentProcessing, models.PaymentPaid, true},
		{models.PaymentProcessing, models.PaymentFailed, true},
		{models.PaymentFailed, models.PaymentPending, true},
		{models.PaymentFailed, models.PaymentPaid, false},
		{models.PaymentPaid, models.PaymentPending, false},
		{models.PaymentPaid, models.PaymentProcessing, false},
		// Refunded states are only reachable through ApplyRefund.
		{models.PaymentPaid, models.PaymentPartiallyRefunded, false},
		{models.PaymentPaid, models.PaymentFullyRefunded, false},
		{models.PaymentFullyRefunded, models.PaymentPending, false},
	}

	for _, tt := range tests {
		b := pendingBooking()
		b.PaymentStatus = tt.from
		err := fsm.Transition(b, tt.to, testNow)
		if tt.ok {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
			assert.Equal(t, tt.to, b.PaymentStatus)
		} else {
			assert.ErrorIs(t, err, ErrInvalidPaymentTransition, "%s -> %s", tt.from, tt.to)
			assert.Equal(t, tt.from, b.PaymentStatus)
		}
	}
}

func TestApplyRefundPartial(t *testing.T) {
	fsm := NewPaymentFSM()
	b := paidBooking(10000)

	status, err := fsm.ApplyRefund(b, nil, models.Refund{Amount: 2500}, testNow)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyRefunded, status)
	assert.Equal(t, models.PaymentPartiallyRefunded, b.PaymentStatus)
}

func TestApplyRefundExactTotalIsFull(t *testing.T) {
	fsm := NewPaymentFSM()
	b := paidBooking(10000)

	status, err := fsm.ApplyRefund(b, nil, models.Refund{Amount: 10000}, testNow)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFullyRefunded, status)
}

func TestApplyRefundOneCentShort(t *testing.T) {
	fsm := NewPaymentFSM()
	b := paidBooking(10000)

	status, err := fsm.ApplyRefund(b, nil, models.Refund{Amount: 9999}, testNow)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyRefunded, status)
}

func TestApplyRefundAccumulates(t *testing.T) {
	fsm := NewPaymentFSM()
	b := paidBooking(10000)

	prior := []models.Refund{{Amount: 4000}, {Amount: 3000}}
	status, err := fsm.ApplyRefund(b, prior, models.Refund{Amount: 3000}, testNow)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFullyRefunded, status, "4000+3000+3000 meets the 10000 total")
}

func TestApplyRefundFromPartiallyRefunded(t *testing.T) {
	fsm := NewPaymentFSM()
	b := paidBooking(10000)
	b.PaymentStatus = models.PaymentPartiallyRefunded

	status, err := fsm.ApplyRefund(b, []models.Refund{{Amount: 5000}}, models.Refund{Amount: 1000}, testNow)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyRefunded, status)
}

func TestApplyRefundRequiresPaid(t *testing.T) {
	fsm := NewPaymentFSM()

	for _, from := range []string{
		models.PaymentPending,
		models.PaymentProcessing,
		models.PaymentFailed,
		models.PaymentFullyRefunded,
	} {
		b := paidBooking(10000)
		b.PaymentStatus = from
		_, err := fsm.ApplyRefund(b, nil, models.Refund{Amount: 100}, testNow)
		assert.ErrorIs(t, err, ErrInvalidPaymentTransition, from)
		assert.Equal(t, from, b.PaymentStatus)
	}
}

func TestApplyRefundRejectsNonPositiveAmount(t *testing.T) {
	fsm := NewPaymentFSM()
	b := paidBooking(10000)

	_, err := fsm.ApplyRefund(b, nil, models.Refund{Amount: 0}, testNow)
	assert.Error(t, err)
	_, err = fsm.ApplyRefund(b, nil, models.Refund{Amount: -500}, testNow)
	assert.Error(t, err)
	assert.Equal(t, models.PaymentPaid, b.PaymentStatus)
}
