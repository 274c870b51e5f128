package utils

import (
	"fmt"
	"time"
)

// ClockLayout formats history sample labels.
const ClockLayout = "15:04:05"

var updatedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseUpdatedAt parses a server timestamp. It accepts RFC 3339 and the
// zone-less ISO form emitted by the prediction service; zone-less values are
// interpreted in loc.
func ParseUpdatedAt(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range updatedAtLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported layout", value)
}

// Ago renders the elapsed time between then and now in coarse units.
func Ago(then, now time.Time) string {
	d := now.Sub(then)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("hace %d s", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("hace %d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("hace %d h", int(d.Hours()))
	default:
		return fmt.Sprintf("hace %d d", int(d.Hours()/24))
	}
}
