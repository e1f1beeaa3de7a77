// Package conflict detects window overlap between a requested booking and
// the bookings already admitted for the same venue and date.
package conflict

import (
	"venuebook/internal/models"
)

// Detector checks requested windows against existing bookings. Stateless,
// safe for concurrent use.
type Detector struct{}

// NewDetector creates a conflict detector.
func NewDetector() *Detector {
	return &Detector{}
}

// HasConflict reports whether [startTime, endTime) overlaps any active
// booking in existing. The caller pre-filters existing to one venue and
// date; cancelled, rejected and failed bookings never occupy the calendar
// and are skipped here. Intervals are half-open: a booking ending at
// 10:00 and a request starting at 10:00 do not conflict.
func (d *Detector) HasConflict(existing []models.Booking, startTime, endTime string) bool {
	for i := range existing {
		b := &existing[i]
		if !b.IsActive() {
			continue
		}
		if b.Overlaps(startTime, endTime) {
			return true
		}
	}
	return false
}

// FirstConflict returns the first active booking overlapping the window,
// or nil when none does. Useful for precise denial messages.
func (d *Detector) FirstConflict(existing []models.Booking, startTime, endTime string) *models.Booking {
	for i := range existing {
		b := &existing[i]
		if !b.IsActive() {
			continue
		}
		if b.Overlaps(startTime, endTime) {
			return b
		}
	}
	return nil
}
