package common

import (
	"fmt"
	"time"
)

// Standard date format constants
const (
	// ISO8601Date is the standard date format used throughout the application
	// for GIBS requests, cache keys, storage keys, and API payloads
	ISO8601Date = "2006-01-02"

	// DisplayDate is the human-readable format used in log output
	DisplayDate = "Jan 02, 2006"

	// VideoOverlayDate is the format used in animation frame overlays
	VideoOverlayDate = "January 2, 2006"
)

// ParseISO8601 parses a date string in ISO 8601 format (YYYY-MM-DD)
func ParseISO8601(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	return time.Parse(ISO8601Date, dateStr)
}

// FormatISO8601 formats a time.Time to ISO 8601 date string (YYYY-MM-DD)
func FormatISO8601(t time.Time) string {
	return t.Format(ISO8601Date)
}

// ValidateISO8601 checks if a date string is in valid ISO 8601 format
func ValidateISO8601(dateStr string) bool {
	_, err := ParseISO8601(dateStr)
	return err == nil
}

// EnumerateDates returns every calendar date from start to end inclusive,
// in ascending order. Both bounds must be YYYY-MM-DD strings.
func EnumerateDates(startDate, endDate string) ([]string, error) {
	start, err := ParseISO8601(startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
	}
	end, err := ParseISO8601(endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	if start.After(end) {
		return nil, fmt.Errorf("start date %s is after end date %s", startDate, endDate)
	}

	dates := make([]string, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, FormatISO8601(d))
	}
	return dates, nil
}

// DayCount returns the number of calendar days between two ISO dates inclusive
func DayCount(startDate, endDate string) (int, error) {
	dates, err := EnumerateDates(startDate, endDate)
	if err != nil {
		return 0, err
	}
	return len(dates), nil
}
