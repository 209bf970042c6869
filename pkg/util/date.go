package util

import "time"

// UTCDayKey formats a time as its UTC calendar day, used to key daily
// counters.
func UTCDayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

// SameUTCDay reports whether two times fall on the same UTC calendar day.
func SameUTCDay(a, b time.Time) bool {
	au, bu := a.UTC(), b.UTC()
	return au.Year() == bu.Year() && au.YearDay() == bu.YearDay()
}

// StartOfUTCDay truncates a time to UTC midnight.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// NextUTCMidnight returns the first instant of the following UTC day.
func NextUTCMidnight(t time.Time) time.Time {
	return StartOfUTCDay(t).Add(24 * time.Hour)
}
