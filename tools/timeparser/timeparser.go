package timeparser

import (
	"errors"
	"fmt"
	"time"
)

// DefaultWindow is the span of a date-ranged request without a start
const DefaultWindow = 365 * 24 * time.Hour

// ErrInvalidWindow is returned when a window starts after it ends
var ErrInvalidWindow = errors.New("start is after end")

// ParseTimestamp attempts to parse a request timestamp with multiple formats.
// Formats without a zone are read in loc.
func ParseTimestamp(dateStr string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	formats := []string{
		time.RFC3339,          // Standard RFC3339
		"2006-01-02T15:04:05", // ISO without zone
		"2006-01-02 15:04:05", // YYYY-MM-DD HH:mm:ss
		"2006-01-02",          // YYYY-MM-DD
		"02.01.2006 15:04:05", // DD.MM.YYYY HH:mm:ss
		"02.01.2006",          // DD.MM.YYYY
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.ParseInLocation(format, dateStr, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// ResolveWindow fills in a missing end with now and a missing start with
// one DefaultWindow before end
func ResolveWindow(start, end *time.Time, now time.Time) (time.Time, time.Time, error) {
	resolvedEnd := now
	if end != nil {
		resolvedEnd = *end
	}

	resolvedStart := resolvedEnd.Add(-DefaultWindow)
	if start != nil {
		resolvedStart = *start
	}

	if resolvedStart.After(resolvedEnd) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s > %s", ErrInvalidWindow,
			resolvedStart.Format(time.RFC3339), resolvedEnd.Format(time.RFC3339))
	}
	return resolvedStart, resolvedEnd, nil
}
