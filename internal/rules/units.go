// internal/rules/units.go
package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

/*
 * Human-friendly unit parsing for condition values.
 *
 * Durations: "N <unit>" with unit in second..year, singular or plural
 * ("30 days", "1 hour"). Months are 30 days, years 365; rule authors use
 * these for retention windows, not calendars.
 *
 * Sizes: "N <suffix>" with binary-base suffixes B/KB/MB/GB/TB, matching
 * how qBittorrent itself displays sizes. A bare number is bytes.
 */

var durationUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

var sizeUnits = map[string]int64{
	"b":  1,
	"kb": 1 << 10,
	"mb": 1 << 20,
	"gb": 1 << 30,
	"tb": 1 << 40,
}

// ParseRelativeDuration parses "N <unit>" expressions such as "30 days".
func ParseRelativeDuration(s string) (time.Duration, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return 0, fmt.Errorf("invalid duration %q: want \"<number> <unit>\"", s)
	}

	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q: bad number %q", s, fields[0])
	}

	unit := strings.ToLower(strings.TrimSuffix(fields[1], "s"))
	base, ok := durationUnits[unit]
	if !ok {
		return 0, fmt.Errorf("invalid duration %q: unknown unit %q (want %s)",
			s, fields[1], strings.Join(sortedKeys(durationUnits), ", "))
	}

	return time.Duration(n * float64(base)), nil
}

// ParseSize parses byte-size expressions such as "1.5 GB" or "500MB".
// Suffixes use 1024 base; a bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("invalid size: empty string")
	}

	// Split the numeric prefix from the suffix, tolerating a missing space.
	i := len(s)
	for i > 0 {
		c := s[i-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		i--
	}
	num, suffix := strings.TrimSpace(s[:i]), strings.ToLower(strings.TrimSpace(s[i:]))

	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q: bad number %q", s, num)
	}

	mult := int64(1)
	if suffix != "" {
		m, ok := sizeUnits[suffix]
		if !ok {
			return 0, fmt.Errorf("invalid size %q: unknown unit %q (want B, KB, MB, GB or TB)", s, suffix)
		}
		mult = m
	}

	return int64(math.Round(n * float64(mult))), nil
}
