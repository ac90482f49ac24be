package reconcile

import "time"

// ComputeExpiration adds months calendar months to start.
//
// Day-of-month and time-of-day are preserved. When the target month is shorter
// than the start day, the result is clamped to the target month's last day, so
// January 31 plus one month is February 28 (or 29 in leap years).
func ComputeExpiration(start time.Time, months int) time.Time {
	if months == 0 {
		return start
	}
	year, month, day := start.Date()
	// Day 1 avoids time.Date normalizing an overflowing day into the next month.
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, start.Location())
	lastDay := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, start.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day,
		start.Hour(), start.Minute(), start.Second(), start.Nanosecond(), start.Location())
}
