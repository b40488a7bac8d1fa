package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/fleetwatch/tools/timeparser"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 9, 6, 18, 52, 28, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339 utc", "2025-09-06T18:52:28Z", want},
		{"rfc3339 offset", "2025-09-06T21:52:28+03:00", want},
		{"iso naive", "2025-09-06T18:52:28", want},
		{"space separated", "2025-09-06 18:52:28", want},
		{"space separated fraction", "2025-09-06 18:52:28.250", want.Add(250 * time.Millisecond)},
		{"legacy day first", "06/09/2025 18:52:28", want},
		{"surrounding spaces", "  2025-09-06 18:52:28 ", want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := timeparser.ParseTimestamp(tt.input)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			if got.Location() != time.UTC {
				t.Errorf("Expected UTC location, got %v", got.Location())
			}
		})
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	for _, input := range []string{"", "yesterday", "2025-13-45 99:00:00"} {
		if _, err := timeparser.ParseTimestamp(input); err == nil {
			t.Errorf("Expected error for %q, got nil", input)
		}
	}
}

func TestFromEpoch(t *testing.T) {
	got := timeparser.FromEpoch(1757184748)
	want := time.Date(2025, 9, 6, 18, 52, 28, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestIsWithinTolerance(t *testing.T) {
	received := time.Date(2025, 9, 6, 12, 0, 0, 0, time.UTC)

	if !timeparser.IsWithinTolerance(received.Add(-4*time.Minute), received, 5*time.Minute) {
		t.Error("Expected 4 minutes behind to be within 5 minute tolerance")
	}
	if !timeparser.IsWithinTolerance(received.Add(5*time.Minute), received, 5*time.Minute) {
		t.Error("Expected exactly 5 minutes ahead to be within tolerance")
	}
	if timeparser.IsWithinTolerance(received.Add(-6*time.Minute), received, 5*time.Minute) {
		t.Error("Expected 6 minutes behind to be outside tolerance")
	}
}
