package fetch

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var relativeTimeRegex = regexp.MustCompile(`(?i)\b(\d+|an?)\s*(sec|second|min|minute|hr|hour|day|week)s?\s+ago\b`)

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseRelativeTime resolves phrases such as "2 hours ago" or "5 mins ago"
// against now. The second result is false when text holds no such phrase.
func ParseRelativeTime(text string, now time.Time) (time.Time, bool) {
	m := relativeTimeRegex.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}

	n := 1
	if v, err := strconv.Atoi(m[1]); err == nil {
		n = v
	}

	var unit time.Duration
	switch strings.ToLower(m[2]) {
	case "sec", "second":
		unit = time.Second
	case "min", "minute":
		unit = time.Minute
	case "hr", "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	}
	return now.Add(-time.Duration(n) * unit), true
}

// ParseDatetime parses a datetime attribute value.
func ParseDatetime(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
