package ledger

import (
	"fmt"
	"time"
)

// The billing day does not roll over at midnight but at a configured cutoff
// hour. A timestamp after midnight yet before the cutoff still belongs to the
// previous calendar day's period.

// PeriodStart returns the start of the billing period containing t.
// cutoffHour outside [0,23] falls back to 0 (plain midnight days).
func PeriodStart(t time.Time, cutoffHour int) time.Time {
	if cutoffHour < 0 || cutoffHour > 23 {
		cutoffHour = 0
	}
	cut := time.Date(t.Year(), t.Month(), t.Day(), cutoffHour, 0, 0, 0, t.Location())
	if t.Before(cut) {
		cut = cut.AddDate(0, 0, -1)
	}
	return cut
}

// PeriodBounds returns the [start, end) window of the billing period
// containing t. The end is exactly 24 hours after the start, also across
// DST transitions; periods are fixed-length, not calendar days.
func PeriodBounds(t time.Time, cutoffHour int) (time.Time, time.Time) {
	start := PeriodStart(t, cutoffHour)
	return start, start.Add(24 * time.Hour)
}

// PeriodBoundsForDate resolves the period for a calendar date given as
// "YYYY-MM-DD". The mapping is direct: date at cutoff to 24 hours later.
// It deliberately does not compare against the current time; historical
// queries for a specific date must not shift by a day depending on when
// they are asked.
func PeriodBoundsForDate(date string, cutoffHour int, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if cutoffHour < 0 || cutoffHour > 23 {
		cutoffHour = 0
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), cutoffHour, 0, 0, 0, loc)
	return start, start.Add(24 * time.Hour), nil
}
