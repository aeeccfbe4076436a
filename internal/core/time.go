package core

import "time"

// TimeFormat is the wire format for timestamps in logs, events and API responses.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime formats t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// NowFormatted returns the current time formatted with FormatTime.
func NowFormatted() string {
	return FormatTime(time.Now())
}

// ParseTime accepts TimeFormat or RFC 3339.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
