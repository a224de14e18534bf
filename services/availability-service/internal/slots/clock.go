package slots

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseClock converts a wall-clock string to minutes since midnight.
// Providers mix "HH:MM" and "HH:MM:SS"; seconds are discarded so all
// comparisons happen at minute resolution.
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	return hours*60 + minutes, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// WeekdayNumber maps a date to the availability weekday convention:
// 1=Monday .. 6=Saturday, 7=Sunday.
func WeekdayNumber(date time.Time) int {
	if wd := int(date.Weekday()); wd != 0 {
		return wd
	}
	return 7
}

// DateKey is the calendar-date identity used for override and booking
// lookups; the time-of-day component is deliberately ignored.
func DateKey(date time.Time) string {
	return date.Format("2006-01-02")
}
