package alert

import (
	"math"
	"time"
)

const (
	// WeekThreshold is the delta at or below which a notification enters the
	// week stage and escalates to high severity.
	WeekThreshold = 7
	// MonthThreshold is the widest horizon the expiry collector reports on.
	MonthThreshold = 30

	day = 24 * time.Hour
)

// Classify maps days until due onto a stage and severity.
func Classify(deltaDays int) (Stage, Severity) {
	switch {
	case deltaDays <= 0:
		return StageExpired, SeverityHigh
	case deltaDays <= WeekThreshold:
		return StageWeek, SeverityHigh
	default:
		return StageMonth, SeverityMedium
	}
}

// DaysUntil returns ceil((due - now) / 1 day). Negative once due has passed.
func DaysUntil(due, now time.Time) int {
	return int(math.Ceil(float64(due.Sub(now)) / float64(day)))
}

// CalendarDays returns the number of calendar days from a to b, both taken
// as UTC dates.
func CalendarDays(a, b time.Time) int {
	return int(Midnight(b).Sub(Midnight(a)) / day)
}

// Midnight truncates t to the start of its UTC day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
