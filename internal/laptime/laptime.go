// Package laptime converts a race result into a per-lap pace.
package laptime

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var resultPattern = regexp.MustCompile(`^(\d+):(\d{2})$`)

// ParseResult parses a race result written as minutes:seconds, e.g. "12:34".
func ParseResult(s string) (time.Duration, error) {
	m := resultPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("laptime: result %q must be min:sec, e.g. \"12:34\"", s)
	}
	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("laptime: minutes: %w", err)
	}
	seconds, _ := strconv.Atoi(m[2])
	return time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second, nil
}

// Calculate returns the lap time in seconds needed to cover raceDistance in
// result, given laps of lapDistance. Distances share a unit and must be > 0.
func Calculate(raceDistance, lapDistance float64, result time.Duration) (float64, error) {
	if raceDistance <= 0 || lapDistance <= 0 {
		return 0, fmt.Errorf("laptime: distances must be positive, got race=%v lap=%v", raceDistance, lapDistance)
	}
	return result.Seconds() / raceDistance * lapDistance, nil
}

// Format renders a lap time with one decimal place.
func Format(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 1, 64)
}
