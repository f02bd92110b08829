package util //nolint:revive // package name util hosts small shared helpers

import (
	"fmt"
	"time"
)

// FormatRemaining renders a countdown as "mm:ss" (or "h:mm:ss" past an hour).
// Returns "0:00" for zero or negative durations.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
