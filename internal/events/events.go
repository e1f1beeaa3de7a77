package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published by the booking engine.
const (
	TypeBookingCreated  = "booking.created"
	TypeBookingStatus   = "booking.status_changed"
	TypePaymentUpdated  = "booking.payment_updated"
	TypeRecurringSeries = "booking.recurring_series"
)

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// BookingPayload is the payload for booking-scoped events.
type BookingPayload struct {
	BookingID     string `json:"booking_id"`
	VenueID       string `json:"venue_id"`
	Date          string `json:"date"`
	Status        string `json:"status,omitempty"`
	PaymentStatus string `json:"payment_status,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// EventHandler reacts to an event.
type EventHandler func(event Event) error

// Bus provides in-process pub/sub for engine events.
type Bus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *Bus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishBooking marshals the payload and publishes it under eventType.
func (b *Bus) PublishBooking(eventType string, payload BookingPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.Publish(Event{Type: eventType, Payload: data})
	return nil
}
