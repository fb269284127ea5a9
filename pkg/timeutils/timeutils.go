package timeutils

import "time"

// StartOfDayUTC returns midnight UTC of the day containing t. The daily
// dispatch cap is counted against this boundary regardless of server locale.
func StartOfDayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDayStartUTC returns the first instant of the following UTC day,
// i.e. when a capped channel regains capacity.
func NextDayStartUTC(t time.Time) time.Time {
	return StartOfDayUTC(t).Add(24 * time.Hour)
}
