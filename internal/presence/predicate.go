package presence

import (
	"time"

	"github.com/septivank/fleetwatch/internal/db"
)

// IsPowerOn reports whether a sample carries any sign of an active board
func IsPowerOn(s *db.Sample, minVolt float64) bool {
	switch {
	case s.Arm:
		return true
	case s.Mode != nil && *s.Mode != "":
		return true
	case s.GPS != nil && *s.GPS != "":
		return true
	case s.Volt != nil && *s.Volt > minVolt:
		return true
	case s.GS != nil || s.Airspd != nil || s.Hdg != nil:
		return true
	case s.HasPosition():
		return true
	}
	return false
}

// ShouldFire decides whether a notification stage may fire for the current
// episode. A watermark suppresses re-firing until the episode anchor moves past it.
func ShouldFire(watermark, anchor *time.Time) bool {
	if watermark == nil {
		return true
	}
	if anchor == nil {
		return false
	}
	return watermark.Before(*anchor)
}
