package filegdb

import (
	"math"
	"time"
)

// Dates are stored as days since 1899-12-30, which is day 25569 before the
// Unix epoch.
const (
	unixEpochDays = 25569
	secondsPerDay = 86400
)

// Anything beyond year 9999 cannot be a real date.
const maxAbsSeconds = 253402300800

// daysToTime converts a day count to a UTC time rounded to the millisecond.
func daysToTime(days float64) (time.Time, bool) {
	secs := (days - unixEpochDays) * secondsPerDay
	if math.IsNaN(secs) || math.Abs(secs) > maxAbsSeconds {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(math.Round(secs * 1000))).UTC(), true
}

// timeToDays is the inverse of daysToTime. The wall clock of t is used, so
// a time in a fixed zone encodes its local reading.
func timeToDays(t time.Time) float64 {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	return float64(wall.UnixMilli())/1000/secondsPerDay + unixEpochDays
}

// dayFraction converts a fraction of a day to a time of day.
func dayFraction(f float64) (time.Duration, bool) {
	secs := f * secondsPerDay
	if math.IsNaN(secs) || secs < 0 || secs > secondsPerDay {
		return 0, false
	}
	return time.Duration(math.Round(secs*1000)) * time.Millisecond, true
}
