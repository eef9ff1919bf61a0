package domain

import (
	"errors"
	"fmt"
	"time"
)

// Birthday messages fire at 09:00 local time in the user's zone.
const (
	SendHour   = 9
	SendMinute = 0
)

const (
	birthdayLayout = "2006-01-02"

	// Upper bound on the year-by-year search. Exhausting it means the
	// inputs are broken, not that we should keep looping.
	searchWindowYears = 200
)

var (
	ErrInvalidBirthday = errors.New("invalid birthday date")
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// ParseBirthday validates a YYYY-MM-DD date string and returns its month and
// day. Calendar-impossible dates are rejected, including Feb-29 in a year
// that is not a leap year.
func ParseBirthday(birthday string) (time.Month, int, error) {
	t, err := time.Parse(birthdayLayout, birthday)
	if err != nil || t.Format(birthdayLayout) != birthday {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidBirthday, birthday)
	}
	return t.Month(), t.Day(), nil
}

// IsLeapYear reports whether year is a Gregorian leap year.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// loadZone resolves an IANA zone name. time.LoadLocation accepts "" and
// "Local", which are not IANA names; both are rejected here.
func loadZone(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	return loc, nil
}

// NextBirthdayAtUTC returns the UTC instant of the first occurrence of the
// birthday at 09:00 local time in the given zone that is not before nowUTC.
//
// The search walks forward year by year. A candidate is discarded when the
// local wall-clock 09:00 on (month, day) does not exist in that year — either
// the date itself (Feb-29 outside leap years) or the hour (a DST gap) — which
// shows up as time.Date normalizing to a different month, day or hour.
func NextBirthdayAtUTC(birthday, timezone string, nowUTC time.Time) (time.Time, error) {
	month, day, err := ParseBirthday(birthday)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := loadZone(timezone)
	if err != nil {
		return time.Time{}, err
	}

	nowLocal := nowUTC.In(loc)
	year := nowLocal.Year()

	for i := 0; i < searchWindowYears; i++ {
		if month == time.February && day == 29 {
			for !IsLeapYear(year) {
				year++
			}
		}

		candidate := time.Date(year, month, day, SendHour, SendMinute, 0, 0, loc)
		if candidate.Month() != month || candidate.Day() != day || candidate.Hour() != SendHour {
			year++
			continue
		}
		if candidate.Before(nowLocal) {
			year++
			continue
		}
		return candidate.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("%w: no occurrence of %s within %d years", ErrInvalidBirthday, birthday, searchWindowYears)
}

// SendYear returns the calendar year of the scheduled instant expressed in
// the user's zone. It is the unit of already-sent deduplication.
func SendYear(timezone string, scheduledAtUTC time.Time) (int, error) {
	loc, err := loadZone(timezone)
	if err != nil {
		return 0, err
	}
	return scheduledAtUTC.In(loc).Year(), nil
}
