package client

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseInt accepts integers and truncates decimal text.
func ParseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
	}
	return int64(f), nil
}

// ParseBool accepts the strconv forms plus yes/no and on/off.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, s)
	}
	return b, nil
}

// ParseTime tries each known layout in order. Day-first layouts win over
// month-first ones for ambiguous dates.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a timestamp", ErrInvalidValue, s)
}
