// Package recurrence expands a recurring booking request into the ordered
// set of child requests that make up the series.
package recurrence

import (
	"time"

	"venuebook/internal/models"
)

// Expander generates child booking requests from a base request and a
// recurrence rule. Expansion is a pure function of its inputs: no I/O, no
// clock, no randomness. Identical inputs always yield identical,
// identically-ordered output.
type Expander struct{}

// NewExpander creates a recurrence expander.
func NewExpander() *Expander {
	return &Expander{}
}

// Expand returns one child request per occurrence after the base date, in
// chronological order. The base request's own date is not included; it is
// admitted separately as the parent booking. Dates listed in
// rule.ExcludeDates are skipped by exact string match. Children are
// atomic bookings: they copy every request field except the date and do
// not themselves carry the recurrence rule.
func (e *Expander) Expand(base models.BookingRequest, rule models.RecurrenceRule) ([]models.BookingRequest, error) {
	dates, err := e.ExpandDates(base.Date, rule)
	if err != nil {
		return nil, err
	}

	children := make([]models.BookingRequest, 0, len(dates))
	for _, date := range dates {
		child := base
		child.Date = date
		child.IsRecurring = false
		child.Recurrence = nil
		children = append(children, child)
	}
	return children, nil
}

// ExpandDates returns the ordered occurrence dates after baseDate, up to
// and including rule.EndDate, with excluded dates removed.
func (e *Expander) ExpandDates(baseDate string, rule models.RecurrenceRule) ([]string, error) {
	if err := rule.Validate(baseDate); err != nil {
		return nil, err
	}
	start, err := models.ParseDate(baseDate)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(rule.ExcludeDates))
	for _, d := range rule.ExcludeDates {
		excluded[d] = struct{}{}
	}

	var dates []string
	for step := 1; ; step++ {
		candidate := advance(start, rule.Frequency, rule.Interval, step)
		date := models.FormatDate(candidate)
		if date > rule.EndDate {
			break
		}
		if _, skip := excluded[date]; skip {
			continue
		}
		dates = append(dates, date)
	}
	return dates, nil
}

// advance computes the step-th occurrence after start. Each step is always
// taken from the base date, not the previous occurrence, so a monthly
// series anchored on the 31st lands back on the 31st whenever the month
// has one (clamping to the last day of shorter months in between).
func advance(start time.Time, frequency string, interval, step int) time.Time {
	switch frequency {
	case models.FrequencyDaily:
		return start.AddDate(0, 0, interval*step)
	case models.FrequencyWeekly:
		return start.AddDate(0, 0, 7*interval*step)
	case models.FrequencyMonthly:
		return addMonthsClamped(start, interval*step)
	}
	return start
}

// addMonthsClamped adds months preserving the day-of-month where the
// target month has it, otherwise clamping to the month's last day.
// time.AddDate would roll Jan 31 + 1 month over into March, which splits
// a monthly series across two months; clamping keeps one occurrence per
// month.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
