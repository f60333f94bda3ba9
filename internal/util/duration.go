package util

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var durationPattern = regexp.MustCompile(`^([0-9]+)([hdw]?)$`)

// MaxDurationHours caps parsed durations at 52 weeks.
const MaxDurationHours = 52 * 168

var durationUnits = []struct {
	unit  string
	hours int
}{
	{unit: "w", hours: 168},
	{unit: "d", hours: 24},
	{unit: "h", hours: 1},
}

// ParseDurationHours converts "12", "5h", "2d" or "4w" into hours.
// A bare number is already hours. Anything above MaxDurationHours is rejected.
func ParseDurationHours(input string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q: use a number of hours or Nh, Nd, Nw", input)
	}

	value, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", input, err)
	}
	unit := 1
	for _, u := range durationUnits {
		if m[2] == u.unit {
			unit = u.hours
		}
	}
	if value > MaxDurationHours/unit {
		return 0, fmt.Errorf("invalid duration %q: longer than %s", input, FormatDurationHours(MaxDurationHours))
	}
	return value * unit, nil
}

// FormatDurationHours renders hours with the largest unit that divides them
// evenly: 48 -> "2d", 336 -> "2w", 0 -> "0h".
func FormatDurationHours(hours int) string {
	if hours <= 0 {
		return "0h"
	}
	for _, u := range durationUnits {
		if hours%u.hours == 0 {
			return fmt.Sprintf("%d%s", hours/u.hours, u.unit)
		}
	}
	return fmt.Sprintf("%dh", hours)
}
