package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses the duration strings pipeline definitions use. On top
// of the standard unit suffixes it accepts a trailing "d" for days, which
// artifact expiries are conventionally written in (e.g. "7d").
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}
