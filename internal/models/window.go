package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingBound     = errors.New("both timeMin and timeMax query parameters are required")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvertedWindow   = errors.New("timeMin must not be after timeMax")
)

// TimeWindow is the closed query range [Min, Max].
type TimeWindow struct {
	Min time.Time
	Max time.Time
}

// Accepted layouts, tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseTimeWindow validates and parses the two bounds of a query window.
func ParseTimeWindow(minParam, maxParam string) (TimeWindow, error) {
	minParam, maxParam = strings.TrimSpace(minParam), strings.TrimSpace(maxParam)
	if minParam == "" || maxParam == "" {
		return TimeWindow{}, ErrMissingBound
	}

	lo, err := ParseTimestamp(minParam)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("timeMin: %w", err)
	}
	hi, err := ParseTimestamp(maxParam)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("timeMax: %w", err)
	}
	if lo.After(hi) {
		return TimeWindow{}, ErrInvertedWindow
	}
	return TimeWindow{Min: lo, Max: hi}, nil
}

// ParseTimestamp accepts the common date representations a browser or a
// shell user is likely to send, plus unix seconds. A bare four digit
// number is a year, not a second count.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}
