package util

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// durationPattern matches the duration grammar used by configuration values
// such as field_obsolete_threshold: "30s", "45m", "12h", "30d", "2w", "6M", "1y".
var durationPattern = regexp.MustCompile(`^(\d+)(s|m|h|d|w|M|y)$`)

// ParseDuration parses a duration string with calendar-style units.
// M is approximated as 30 days and y as 365 days.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration string cannot be empty")
	}

	match := durationPattern.FindStringSubmatch(s)
	if match == nil {
		return 0, fmt.Errorf("invalid duration format: %q", s)
	}

	value, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %q", s)
	}

	switch match[2] {
	case "s":
		return time.Duration(value) * time.Second, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	case "w":
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case "M":
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case "y":
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration unit: %q", match[2])
	}
}
