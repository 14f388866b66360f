package timezone

import (
	"time"

	_ "time/tzdata"
)

// DateFormat is the day-month-year layout the exchange APIs accept.
const DateFormat = "02-01-2006"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(err)
	}
}

// force timezone to be in IST, the exchange's trading day rolls over
// at IST midnight regardless of where this runs
func Now() time.Time {
	return time.Now().In(Location)
}

func StartOfDay(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

// TrailingRange returns the inclusive range of `days` days ending on the
// day of `end`.
func TrailingRange(end time.Time, days int) (time.Time, time.Time) {
	to := StartOfDay(end)
	return to.AddDate(0, 0, -days), to
}

func Format(t time.Time) string {
	return t.In(Location).Format(DateFormat)
}

func Parse(s string) (time.Time, error) {
	return time.ParseInLocation(DateFormat, s, Location)
}
