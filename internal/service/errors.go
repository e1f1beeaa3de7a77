package service

import (
	"errors"
	"fmt"

	"venuebook/internal/repository"
)

// Error taxonomy of the admission pipeline. Callers distinguish these with
// errors.Is to produce precise messaging:
//
//   - ErrValidation: malformed request or unknown venue; rejected before
//     any store access, never retried.
//   - ErrAvailabilityDenied / ErrConflictDenied: expected user-facing
//     outcomes, not failures.
//   - ErrWriteConflict: lost a serialization race. Admission retries it
//     internally up to the budget, then surfaces it wrapped in
//     ErrAdmissionFailed; lifecycle transitions surface it directly.
//   - ErrStorage: the store itself failed; always retryable by the caller.
var (
	ErrValidation         = errors.New("invalid booking request")
	ErrAvailabilityDenied = errors.New("venue calendar does not allow this window")
	ErrConflictDenied     = errors.New("window overlaps an existing booking")
	ErrWriteConflict      = errors.New("admission write conflict")
	ErrAdmissionFailed    = errors.New("admission failed after retries")
	ErrStorage            = errors.New("storage error")
)

func validationErr(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// statusUpdateErr classifies a failed conditional status write. A stale
// write is a lost race, not a storage fault, so it surfaces as
// ErrWriteConflict and the caller can re-read and retry.
func statusUpdateErr(bookingID string, err error) error {
	if errors.Is(err, repository.ErrStale) {
		return fmt.Errorf("%w: booking %s changed concurrently", ErrWriteConflict, bookingID)
	}
	return storageErr("update status", err)
}
