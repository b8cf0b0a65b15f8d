package utils

import (
	"fmt"
	"time"
)

// Now returns current time (useful for mocking in tests)
var Now = time.Now

// Clock is injected into services that measure call durations.
type Clock func() time.Time

// SystemClock defers to Now so tests can still override the package variable.
func SystemClock() Clock {
	return func() time.Time { return Now() }
}

// Since returns time since given time
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

// FormatDuration formats a call length as h:mm:ss or m:ss
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
