package digest

import "time"

// StartOfISOWeek returns Monday 00:00 of the ISO week (year, week) in loc.
func StartOfISOWeek(year, week int, loc *time.Location) time.Time {
	// January 4th is always in week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, (week-1)*7)
}

// EndOfISOWeek returns the last instant of Sunday of the ISO week.
func EndOfISOWeek(year, week int, loc *time.Location) time.Time {
	return StartOfISOWeek(year, week, loc).AddDate(0, 0, 7).Add(-time.Millisecond)
}

// WeeksInYear returns 52 or 53.
func WeeksInYear(year int) int {
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}

// ValidWeek reports whether week exists in the ISO year.
func ValidWeek(year, week int) bool {
	return year >= 1970 && year <= 9999 && week >= 1 && week <= WeeksInYear(year)
}

// PreviousWeek returns the ISO week that ended before the week containing t,
// evaluated in t's location.
func PreviousWeek(t time.Time) (year, week int) {
	offset := (int(t.Weekday()) + 6) % 7
	monday := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, -1).ISOWeek()
}
