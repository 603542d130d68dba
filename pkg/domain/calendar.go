package domain

import "time"

// Date arithmetic used by derived-date computation. All helpers are pure and
// operate on UTC calendar days so results do not depend on the local zone.

// AddDays returns t shifted by n calendar days.
func AddDays(t time.Time, n int) time.Time {
	return t.UTC().AddDate(0, 0, n)
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return StartOfDay(a).Equal(StartOfDay(b))
}

// DaysBetween returns the whole number of calendar days from a to b.
// The result is negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(StartOfDay(b).Sub(StartOfDay(a)).Hours() / 24)
}

// AgeInMonths returns the number of complete months between birth and at.
func AgeInMonths(birth, at time.Time) int {
	birth, at = birth.UTC(), at.UTC()
	if at.Before(birth) {
		return 0
	}
	months := (at.Year()-birth.Year())*12 + int(at.Month()-birth.Month())
	if birth.AddDate(0, months, 0).After(at) {
		months--
	}
	return months
}
