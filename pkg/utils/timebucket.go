package utils

import "time"

// FloorToHour truncates t to the start of its hour, keeping t's location.
//
// Go Learning Note — time.Truncate vs time.Date:
// t.Truncate(time.Hour) rounds relative to the zero time in UTC, which is wrong
// for zones with a non-hour offset (India is UTC+5:30). Rebuilding the value
// with time.Date from t's own fields is correct in every location.
func FloorToHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// HourBucket returns the UTC hour that t falls into. Every read and write of
// aggregate buckets goes through this so the same instant always lands in the
// same bucket regardless of the offset it was submitted with.
func HourBucket(t time.Time) time.Time {
	return FloorToHour(t.UTC())
}
