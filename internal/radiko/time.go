package radiko

import (
	"fmt"
	"time"
)

// The service exchanges all program times as 14-digit local-time strings
// (YYYYMMDDHHMMSS, no timezone suffix) and dates as YYYYMMDD.
const (
	timeLayout = "20060102150405"
	dateLayout = "20060102"
)

// ParseTime converts a 14-digit service timestamp into a time.Time in loc.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if len(s) != len(timeLayout) {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: want %d digits", s, len(timeLayout))
	}
	t, err := time.ParseInLocation(timeLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// ParseDate converts a YYYYMMDD service date into a time.Time in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatTime converts t into the service's 14-digit local-time format.
func FormatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(timeLayout)
}

// FormatDate converts t into the service's YYYYMMDD date format.
func FormatDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}
