// Package audit keeps a trail of booking lifecycle events and exports
// monthly booking reports.
package audit

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"venuebook/internal/events"
)

// EntryStore persists audit trail entries.
type EntryStore interface {
	AddAuditEntry(ctx context.Context, bookingID, venueID, eventType, detail string) error
}

// Recorder subscribes to engine events and writes one audit entry per
// event. Recording failures are logged, never propagated: the audit
// trail must not break the booking pipeline.
type Recorder struct {
	store  EntryStore
	logger *zerolog.Logger
}

// NewRecorder creates a recorder backed by store.
func NewRecorder(store EntryStore, logger *zerolog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Attach subscribes the recorder to all booking event types on the bus.
func (r *Recorder) Attach(bus *events.Bus) {
	for _, eventType := range []string{
		events.TypeBookingCreated,
		events.TypeBookingStatus,
		events.TypePaymentUpdated,
		events.TypeRecurringSeries,
	} {
		bus.Subscribe(eventType, r.handle)
	}
}

func (r *Recorder) handle(event events.Event) error {
	var p events.BookingPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		r.logger.Warn().Err(err).Str("event", event.Type).Msg("audit: bad event payload")
		return nil
	}

	detail := p.Status
	if p.Detail != "" {
		detail = p.Detail
	}
	if err := r.store.AddAuditEntry(context.Background(), p.BookingID, p.VenueID, event.Type, detail); err != nil {
		r.logger.Warn().Err(err).
			Str("event", event.Type).
			Str("booking_id", p.BookingID).
			Msg("audit: entry write failed")
	}
	return nil
}
