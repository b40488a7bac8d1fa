package analytics_test

import (
	"math"
	"testing"
	"time"

	"github.com/septivank/fleetwatch/internal/analytics"
)

func floatPtr(v float64) *float64 { return &v }

func TestTotalDistance_EquatorHundredthDegree(t *testing.T) {
	points := []analytics.Point{
		{Lat: 0, Lon: 0},
		{Lat: 0.01, Lon: 0},
	}

	dist := analytics.TotalDistance(points)
	if math.Abs(dist-1113) > 1113*0.01 {
		t.Errorf("Expected ~1113 m, got %.2f", dist)
	}
}

func TestTotalDistance_SinglePoint(t *testing.T) {
	if d := analytics.TotalDistance([]analytics.Point{{Lat: 10, Lon: 20}}); d != 0 {
		t.Errorf("Expected 0 for a single point, got %v", d)
	}
}

func TestDuration_InvertedTimestampsFloorAtZero(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	points := []analytics.Point{
		{TS: now},
		{TS: now.Add(-time.Minute)},
	}

	if d := analytics.Duration(points); d != 0 {
		t.Errorf("Expected duration floored at 0, got %v", d)
	}
}

func TestClassify_Thresholds(t *testing.T) {
	analyzer := analytics.NewAnalyzer(analytics.Thresholds{
		LostAfter:     60 * time.Second,
		FinishedAfter: 180 * time.Second,
	})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		age  time.Duration
		want analytics.Status
	}{
		{10 * time.Second, analytics.StatusActive},
		{90 * time.Second, analytics.StatusLost},
		{200 * time.Second, analytics.StatusFinished},
	}
	for _, tc := range cases {
		if got := analyzer.Classify(now.Add(-tc.age), now); got != tc.want {
			t.Errorf("age %v: expected %s, got %s", tc.age, tc.want, got)
		}
	}
}

func TestSummarize(t *testing.T) {
	analyzer := analytics.NewAnalyzer(analytics.DefaultThresholds())
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	points := []analytics.Point{
		{Lat: 10, Lon: 20, TS: start, AltM: floatPtr(100)},
		{Lat: 10.01, Lon: 20.02, TS: start.Add(5 * time.Minute)},
		{Lat: 9.99, Lon: 20.01, TS: start.Add(10 * time.Minute), AltM: floatPtr(350)},
	}

	sum := analyzer.Summarize(points, start.Add(11*time.Minute))
	if sum.Duration != 10*time.Minute {
		t.Errorf("Expected 10m duration, got %v", sum.Duration)
	}
	if sum.MaxAltM == nil || *sum.MaxAltM != 350 {
		t.Errorf("Expected max altitude 350, got %v", sum.MaxAltM)
	}
	if sum.BBox.MinLat != 9.99 || sum.BBox.MaxLon != 20.02 {
		t.Errorf("Unexpected bbox %+v", sum.BBox)
	}
	if sum.Status != analytics.StatusLost {
		t.Errorf("Expected lost status, got %s", sum.Status)
	}
	if sum.DistanceM <= 0 {
		t.Error("Expected positive distance")
	}
}

func TestSummarize_Empty(t *testing.T) {
	analyzer := analytics.NewAnalyzer(analytics.DefaultThresholds())

	sum := analyzer.Summarize(nil, time.Now())
	if sum.Status != analytics.StatusFinished || sum.Start != nil || sum.MaxAltM != nil {
		t.Errorf("Unexpected summary for empty route %+v", sum)
	}
}
