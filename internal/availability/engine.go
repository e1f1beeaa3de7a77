// Package availability decides whether a requested window is admissible
// against a venue's calendar, before any existing booking is considered.
package availability

import (
	"venuebook/internal/models"
)

// Engine evaluates venue calendars. It is stateless and safe for
// concurrent use.
type Engine struct{}

// NewEngine creates a calendar availability engine.
func NewEngine() *Engine {
	return &Engine{}
}

// IsCalendarAvailable reports whether [startTime, endTime) on date is
// admissible under the venue calendar. Precedence is strict:
//
//  1. A date exception always wins over the weekly template. An
//     unavailable exception closes the date; an available one with a
//     slot list requires full containment in some slot, so an empty
//     list admits nothing; an available one with no slot list opens the
//     whole day, even a weekday the template closes.
//  2. Without an exception the weekday template applies: closed days
//     reject, slots require containment, otherwise open/close hours
//     bound the window. An open day with no constraints admits anything.
//
// The date is a naive calendar date and times are naive wall-clock
// strings; no timezone conversion happens anywhere in this check.
func (e *Engine) IsCalendarAvailable(cal *models.VenueCalendar, date, startTime, endTime string) (bool, error) {
	if ex, ok := cal.ExceptionFor(date); ok {
		if !ex.IsAvailable {
			return false, nil
		}
		if ex.Slots != nil {
			return slotContains(ex.Slots, startTime, endTime), nil
		}
		return true, nil
	}

	day, err := cal.DayFor(date)
	if err != nil {
		return false, err
	}
	if !day.IsOpen {
		return false, nil
	}
	if len(day.Slots) > 0 {
		return slotContains(day.Slots, startTime, endTime), nil
	}
	if day.OpenTime != "" && day.CloseTime != "" {
		return day.OpenTime <= startTime && endTime <= day.CloseTime, nil
	}
	// Open day with no configured constraint.
	return true, nil
}

func slotContains(slots []models.TimeSlot, startTime, endTime string) bool {
	for _, slot := range slots {
		if slot.Contains(startTime, endTime) {
			return true
		}
	}
	return false
}
