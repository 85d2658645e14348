package store

import "time"

// TimeLayout is RFC3339 with fixed-width nanoseconds. Trailing zeros are
// kept so the TEXT columns order lexicographically the same as they order
// chronologically, which the latest-version and queue indexes rely on.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout (or any RFC3339) timestamp, returning the
// zero time on failure.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
