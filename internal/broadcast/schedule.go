// internal/broadcast/schedule.go
package broadcast

import (
	"strings"
	"time"
	_ "time/tzdata"

	"broadcast-dispatch/internal/common/errors"
)

// zoneless layouts are read as wall-clock time in the broadcast's timezone.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// LoadTimezone resolves an IANA zone name. Empty means UTC.
func LoadTimezone(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.NewInvalidTimezoneError(tz, err)
	}
	return loc, nil
}

// ParseStartDate normalizes raw to a UTC instant. A value with an explicit
// offset is taken as is; otherwise it is read in tz. The instant must be after now.
func ParseStartDate(raw, tz string, now time.Time) (time.Time, error) {
	loc, err := LoadTimezone(tz)
	if err != nil {
		return time.Time{}, err
	}

	raw = strings.TrimSpace(raw)
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		at, err = parseZoneless(raw, loc)
		if err != nil {
			return time.Time{}, errors.NewInvalidScheduleError("start date " + raw + " is not ISO 8601")
		}
	}

	at = at.UTC()
	if !at.After(now) {
		return time.Time{}, errors.NewInvalidScheduleError("start date must be in the future")
	}
	return at, nil
}

func parseZoneless(raw string, loc *time.Location) (time.Time, error) {
	var err error
	for _, layout := range zonelessLayouts {
		var at time.Time
		if at, err = time.ParseInLocation(layout, raw, loc); err == nil {
			return at, nil
		}
	}
	return time.Time{}, err
}
