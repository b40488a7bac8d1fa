package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// ParseTimestamp attempts to parse a board timestamp with multiple formats.
// Timestamps without a zone are taken as UTC. The result is always UTC.
func ParseTimestamp(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("failed to parse timestamp: empty value")
	}

	formats := []string{
		time.RFC3339Nano,                // 2025-09-06T18:52:28.5Z
		"2006-01-02T15:04:05.999999999", // ISO without zone
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999", // YYYY-MM-DD HH:mm:ss
		"02/01/2006 15:04:05",           // DD/MM/YYYY HH:mm:ss
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// FromEpoch converts whole epoch seconds to UTC
func FromEpoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// IsWithinTolerance checks if the sample timestamp is within tolerance of received time
func IsWithinTolerance(sampleTime, receivedTime time.Time, tolerance time.Duration) bool {
	diff := sampleTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
