package models

import (
	"fmt"
	"time"
)

// TimeSlot is a bookable window inside a day. Times are minute-resolution
// "HH:MM" strings in 24h format. Because they are always zero-padded,
// lexical comparison is equivalent to chronological comparison; the whole
// engine relies on that invariant instead of a timezone-aware type.
type TimeSlot struct {
	ID              string   `json:"id"`
	StartTime       string   `json:"start_time"`
	EndTime         string   `json:"end_time"`
	PriceMultiplier *float64 `json:"price_multiplier,omitempty"`
}

// Contains reports whether the requested window fits entirely inside the
// slot. Containment is exact: a request that merely overlaps the slot does
// not qualify.
func (s TimeSlot) Contains(startTime, endTime string) bool {
	return s.StartTime <= startTime && s.EndTime >= endTime
}

// DayAvailability describes one weekday in the venue's weekly template.
// When Slots is non-empty it takes precedence over OpenTime/CloseTime.
// An open day with neither slots nor hours carries no time constraint.
type DayAvailability struct {
	IsOpen    bool       `json:"is_open"`
	OpenTime  string     `json:"open_time,omitempty"`
	CloseTime string     `json:"close_time,omitempty"`
	Slots     []TimeSlot `json:"slots,omitempty"`
}

// AvailabilityException overrides the weekly template for a single date.
// At most one exception exists per date. IsAvailable=true with a nil
// slot list means open all day, even if the template closes that
// weekday; a present slot list, empty included, restricts the date to
// its slots.
type AvailabilityException struct {
	ID          string     `json:"id"`
	Date        string     `json:"date"` // "YYYY-MM-DD"
	IsAvailable bool       `json:"is_available"`
	Reason      string     `json:"reason,omitempty"`
	Slots       []TimeSlot `json:"slots,omitempty"`
}

// VenueCalendar combines the weekly template with date exceptions. It is
// the baseline availability of a venue, independent of existing bookings.
type VenueCalendar struct {
	WeeklyTemplate map[time.Weekday]DayAvailability `json:"weekly_template"`
	Exceptions     map[string]AvailabilityException `json:"exceptions"` // keyed by date
}

// ExceptionFor returns the exception for date, if one exists.
func (c *VenueCalendar) ExceptionFor(date string) (AvailabilityException, bool) {
	ex, ok := c.Exceptions[date]
	return ex, ok
}

// DayFor returns the weekly template entry for the date's weekday.
// The date is treated as a naive proleptic-Gregorian calendar date.
func (c *VenueCalendar) DayFor(date string) (DayAvailability, error) {
	t, err := ParseDate(date)
	if err != nil {
		return DayAvailability{}, err
	}
	return c.WeeklyTemplate[t.Weekday()], nil
}

// Validate checks the structural invariants of the calendar: open/close
// ordering and start<end on every slot.
func (c *VenueCalendar) Validate() error {
	for day, avail := range c.WeeklyTemplate {
		if avail.OpenTime != "" && avail.CloseTime != "" && avail.OpenTime >= avail.CloseTime {
			return fmt.Errorf("weekday %s: open time %s not before close time %s", day, avail.OpenTime, avail.CloseTime)
		}
		for _, slot := range avail.Slots {
			if slot.StartTime >= slot.EndTime {
				return fmt.Errorf("weekday %s: slot %s has start %s not before end %s", day, slot.ID, slot.StartTime, slot.EndTime)
			}
		}
	}
	for date, ex := range c.Exceptions {
		if ex.Date != date {
			return fmt.Errorf("exception keyed by %s carries date %s", date, ex.Date)
		}
		if _, err := ParseDate(date); err != nil {
			return fmt.Errorf("exception date %s: %w", date, err)
		}
		for _, slot := range ex.Slots {
			if slot.StartTime >= slot.EndTime {
				return fmt.Errorf("exception %s: slot %s has start %s not before end %s", date, slot.ID, slot.StartTime, slot.EndTime)
			}
		}
	}
	return nil
}

// Venue is the bookable physical resource.
type Venue struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	OwnerID   string        `json:"owner_id"`
	Capacity  int           `json:"capacity"`
	Calendar  VenueCalendar `json:"calendar"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// ParseDate parses a "YYYY-MM-DD" string as a naive calendar date.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// FormatDate renders a time as a "YYYY-MM-DD" string.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// ValidateClock checks a "HH:MM" wall-clock string. The zero padding is
// load-bearing: windows are compared lexically, so "9:00" would sort
// after "10:00".
func ValidateClock(clock string) error {
	if len(clock) != len(timeLayout) {
		return fmt.Errorf("invalid time %q: want HH:MM", clock)
	}
	if _, err := time.Parse(timeLayout, clock); err != nil {
		return fmt.Errorf("invalid time %q: %w", clock, err)
	}
	return nil
}

// MinutesBetween returns the number of minutes from startTime to endTime,
// both "HH:MM" strings on the same day.
func MinutesBetween(startTime, endTime string) int {
	return clockMinutes(endTime) - clockMinutes(startTime)
}

func clockMinutes(clock string) int {
	t, err := time.Parse(timeLayout, clock)
	if err != nil {
		return 0
	}
	return t.Hour()*60 + t.Minute()
}
