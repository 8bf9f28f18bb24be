// Package schedule computes concrete send instants that respect a campaign's
// sending window: allowed weekdays and business hours in the campaign's
// timezone, with jitter so prospects don't all fire at the same second.
package schedule

import (
	"math/rand"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// maxWindowIterations bounds the day-advance loop. A malformed schedule
// (e.g. weekday values outside 0..6) would otherwise never find an allowed
// day; after this many iterations the last computed instant is returned
// rather than spinning forever.
const maxWindowIterations = 14

// maxJitter is the upper bound of the random offset added when a send is
// snapped to the start of a window.
const maxJitter = 30 * time.Minute

// jitter returns a random duration in [0, maxJitter). Package variable so
// tests can pin it.
var jitter = func() time.Duration {
	return time.Duration(rand.Int63n(int64(maxJitter)))
}

// NextSendTime converts an abstract step delay into the next valid UTC send
// instant for the given schedule.
//
// The delay is applied as calendar arithmetic in UTC, the result is evaluated
// in the schedule's timezone, and then advanced day by day until it lands on
// an allowed weekday inside [StartHour, EndHour). A target before the window
// on an allowed day is snapped to the window start plus jitter. If no allowed
// day is found within maxWindowIterations the last computed instant is
// returned; this is a soft failure the caller must tolerate, never an error.
func NextSendTime(base time.Time, delayDays, delayHours int, s domain.SendingSchedule) time.Time {
	s = s.Normalize()
	loc := loadLocation(s.Timezone)

	target := base.UTC().AddDate(0, 0, delayDays).Add(time.Duration(delayHours) * time.Hour)
	zoned := target.In(loc)

	for i := 0; i < maxWindowIterations; i++ {
		if s.AllowsWeekday(zoned.Weekday()) {
			hour := zoned.Hour()
			if hour < s.StartHour {
				// Too early on an allowed day: snap to window start.
				zoned = time.Date(zoned.Year(), zoned.Month(), zoned.Day(),
					s.StartHour, 0, 0, 0, loc).Add(jitter())
				break
			}
			if hour < s.EndHour {
				// Already inside the window.
				break
			}
		}
		// Wrong weekday or past the window: advance to the next calendar day
		// at the window start and re-test.
		zoned = time.Date(zoned.Year(), zoned.Month(), zoned.Day(),
			s.StartHour, 0, 0, 0, loc).AddDate(0, 0, 1)
	}

	return zoned.UTC()
}

// IsWithinWindow reports whether now falls inside the schedule's sending
// window. The sweep uses this as a cheap per-campaign filter before querying
// prospects.
func IsWithinWindow(s domain.SendingSchedule, now time.Time) bool {
	s = s.Normalize()
	zoned := now.In(loadLocation(s.Timezone))
	if !s.AllowsWeekday(zoned.Weekday()) {
		return false
	}
	return zoned.Hour() >= s.StartHour && zoned.Hour() < s.EndHour
}

// loadLocation resolves an IANA timezone name, falling back to UTC on any
// error so a bad campaign record can't break scheduling.
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
