package registry

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
	_ "time/tzdata"
)

var fixedOffsetPattern = regexp.MustCompile(`^(?i:utc|gmt)?\s*([+-])(\d{1,2})(?::?(\d{2}))?$`)

// offsetSeconds resolves a timezone name or fixed offset ("+09:00", "-8",
// "UTC+9") to its UTC offset in seconds at the given instant.
func offsetSeconds(tz string, at time.Time) (int, error) {
	// time.LoadLocation treats "" as UTC.
	if tz == "" {
		return 0, fmt.Errorf("timezone is empty")
	}
	if m := fixedOffsetPattern.FindStringSubmatch(tz); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes := 0
		if m[3] != "" {
			minutes, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || minutes > 59 {
			return 0, fmt.Errorf("timezone %q out of range", tz)
		}
		secs := hours*3600 + minutes*60
		if m[1] == "-" {
			secs = -secs
		}
		return secs, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return 0, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	_, secs := at.In(loc).Zone()
	return secs, nil
}

// wholeHours returns the offset in hours, failing for anything that is not a
// whole number of hours.
func wholeHours(secs int) (int8, error) {
	if secs%3600 != 0 {
		return 0, fmt.Errorf("offset %s is not a whole hour", formatOffset(secs))
	}
	return int8(secs / 3600), nil
}

func formatOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign = '-'
		secs = -secs
	}
	return fmt.Sprintf("%c%02d:%02d", sign, secs/3600, (secs%3600)/60)
}
