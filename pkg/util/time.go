package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatSeconds renders whole seconds as HH:MM:SS for log output
func FormatSeconds(secs float64) string {
	total := int(secs)
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	hours := total / 3600
	minutes := (total / 60) % 60
	seconds := total % 60
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, hours, minutes, seconds)
}

// ParseTimestamp parses a timestamp string (HH:MM:SS.mmm or SS.mmm or MM:SS) into seconds
func ParseTimestamp(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp format: %s", s)
	}

	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("invalid timestamp format: %s", s)
		}
		total = total*60 + v
	}

	return total, nil
}

// ParseRange parses "start-end" where both sides are timestamps accepted by ParseTimestamp
func ParseRange(s string) (float64, float64, error) {
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range %q: expected start-end", s)
	}
	start, err := ParseTimestamp(startStr)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(endStr)
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("invalid range %q: end must be after start", s)
	}
	return start, end, nil
}
