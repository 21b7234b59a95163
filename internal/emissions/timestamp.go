package emissions

import (
	"strings"
	"time"
)

// TimestampLayout is the canonical on-disk timestamp form: UTC, whole seconds, Z suffix.
const TimestampLayout = "2006-01-02T15:04:05Z"

// accepted layouts for lenient parsing, tried in order
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Truncate normalizes t to UTC at whole-second precision.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// FormatTimestamp renders t in TimestampLayout. The zero time renders as "".
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return Truncate(t).Format(TimestampLayout)
}

// ParseTimestamp parses a stored timestamp leniently. Values without a zone
// are taken as UTC. Blank or unparsable input returns false.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Truncate(t), true
		}
	}
	return time.Time{}, false
}

// ParseTimestampPtr is ParseTimestamp returning nil for null values.
func ParseTimestampPtr(s string) *time.Time {
	t, ok := ParseTimestamp(s)
	if !ok {
		return nil
	}
	return &t
}
