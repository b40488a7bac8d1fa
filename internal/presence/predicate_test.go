package presence_test

import (
	"testing"
	"time"

	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/presence"
)

func TestShouldFire(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	before := t0.Add(-time.Minute)
	after := t0.Add(time.Minute)

	cases := []struct {
		name      string
		watermark *time.Time
		anchor    *time.Time
		want      bool
	}{
		{"never fired", nil, &t0, true},
		{"never fired without anchor", nil, nil, true},
		{"fired in a previous episode", &before, &t0, true},
		{"fired at episode start", &t0, &t0, false},
		{"fired during this episode", &after, &t0, false},
		{"fired and no episode anchor", &t0, nil, false},
	}
	for _, tc := range cases {
		if got := presence.ShouldFire(tc.watermark, tc.anchor); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsPowerOn(t *testing.T) {
	mode := "AUTO"
	empty := ""
	gps := "3D"
	lowVolt := 9.5
	highVolt := 12.4
	hdg := 90.0
	lat, lon := 10.0, 20.0

	cases := []struct {
		name   string
		sample db.Sample
		want   bool
	}{
		{"armed only", db.Sample{Arm: true}, true},
		{"mode", db.Sample{Mode: &mode}, true},
		{"empty mode", db.Sample{Mode: &empty}, false},
		{"gps fix", db.Sample{GPS: &gps}, true},
		{"low voltage", db.Sample{Volt: &lowVolt}, false},
		{"high voltage", db.Sample{Volt: &highVolt}, true},
		{"heading", db.Sample{Hdg: &hdg}, true},
		{"latitude only", db.Sample{Lat: &lat}, false},
		{"full position", db.Sample{Lat: &lat, Lon: &lon}, true},
		{"low voltage with position", db.Sample{Volt: &lowVolt, Lat: &lat, Lon: &lon}, true},
		{"nothing", db.Sample{}, false},
	}
	for _, tc := range cases {
		if got := presence.IsPowerOn(&tc.sample, 10.0); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 7*time.Second, "3m 07s"},
		{time.Hour + 5*time.Minute + 59*time.Second, "1h 05m"},
	}
	for _, tc := range cases {
		if got := presence.FormatDuration(tc.d); got != tc.want {
			t.Errorf("%v: expected %q, got %q", tc.d, tc.want, got)
		}
	}
}

func TestTrackLink(t *testing.T) {
	if got := presence.TrackLink("https://fleet.example/", 4, "s1"); got != "https://fleet.example/api/v1/track/board/4/session/s1/" {
		t.Errorf("unexpected session link %s", got)
	}
	if got := presence.TrackLink("https://fleet.example", 4, ""); got != "https://fleet.example/api/v1/track/board/4/last/" {
		t.Errorf("unexpected last link %s", got)
	}
}
