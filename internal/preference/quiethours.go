package preference

import "time"

// IsSuppressed reports whether delivery at now falls inside the quiet-hours
// window. Windows with start > end wrap past midnight.
func IsSuppressed(now time.Time, q QuietHours, critical bool) bool {
	if !q.Enabled {
		return false
	}
	if critical && q.AllowCritical {
		return false
	}

	local := now.In(Location(q.Timezone))
	if !containsDay(q.Days, local.Weekday()) {
		return false
	}

	start, err := ParseClock(q.StartTime)
	if err != nil {
		return false
	}
	end, err := ParseClock(q.EndTime)
	if err != nil {
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func containsDay(days []string, d time.Weekday) bool {
	for _, day := range days {
		if wd, ok := ParseWeekday(day); ok && wd == d {
			return true
		}
	}
	return false
}
