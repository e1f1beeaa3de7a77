package lifecycle

import (
	"fmt"
	"time"

	"venuebook/internal/models"
)

// ErrInvalidPaymentTransition is wrapped by rejected payment moves.
var ErrInvalidPaymentTransition = fmt.Errorf("invalid payment transition")

// PaymentFSM validates payment-status transitions. It evolves
// independently of the booking status machine but under its own
// constraints: paid is reachable only from pending or processing, and the
// refunded states are reached exclusively through ApplyRefund so the
// cumulative-amount thresholds hold.
type PaymentFSM struct {
	transitions map[string][]string
}

// NewPaymentFSM builds the payment status machine.
func NewPaymentFSM() *PaymentFSM {
	return &PaymentFSM{
		transitions: map[string][]string{
			models.PaymentPending: {
				models.PaymentProcessing,
				models.PaymentPaid,
				models.PaymentFailed,
			},
			models.PaymentProcessing: {
				models.PaymentPaid,
				models.PaymentFailed,
			},
			models.PaymentFailed: {
				models.PaymentPending, // retry after gateway failure
			},
		},
	}
}

// CanTransition reports whether from → to is an allowed payment move.
// Refunded states are excluded: they require refund bookkeeping and are
// only reachable via ApplyRefund.
func (f *PaymentFSM) CanTransition(from, to string) bool {
	for _, allowed := range f.transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies a payment status change or returns
// ErrInvalidPaymentTransition.
func (f *PaymentFSM) Transition(b *models.Booking, to string, now time.Time) error {
	if !f.CanTransition(b.PaymentStatus, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPaymentTransition, b.PaymentStatus, to)
	}
	b.PaymentStatus = to
	b.UpdatedAt = now
	return nil
}

// ApplyRefund records a refund and derives the resulting payment status
// from the cumulative refunded amount across all refunds:
// cumulative >= price total → fully refunded; anything above zero but
// below total → partially refunded. Amounts are minor currency units so
// the threshold is exact to the cent.
func (f *PaymentFSM) ApplyRefund(b *models.Booking, refunds []models.Refund, newRefund models.Refund, now time.Time) (string, error) {
	if newRefund.Amount <= 0 {
		return "", fmt.Errorf("refund amount must be positive, got %d", newRefund.Amount)
	}
	switch b.PaymentStatus {
	case models.PaymentPaid, models.PaymentPartiallyRefunded:
	default:
		return "", fmt.Errorf("%w: refund requires paid or partially_refunded, payment is %s", ErrInvalidPaymentTransition, b.PaymentStatus)
	}

	var cumulative int64
	for _, r := range refunds {
		cumulative += r.Amount
	}
	cumulative += newRefund.Amount

	status := models.PaymentPartiallyRefunded
	if cumulative >= b.Price.TotalAmount {
		status = models.PaymentFullyRefunded
	}
	b.PaymentStatus = status
	b.UpdatedAt = now
	return status, nil
}
