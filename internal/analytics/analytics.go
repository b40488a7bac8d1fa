package analytics

import (
	"math"
	"time"
)

// EarthRadiusM is the spherical earth radius used for great-circle distance
const EarthRadiusM = 6371000.0

// Status is the coarse liveness of a route derived from the age of its last point
type Status string

const (
	StatusActive   Status = "active"
	StatusLost     Status = "lost"
	StatusFinished Status = "finished"
)

// Point is one positioned route vertex
type Point struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	TS   time.Time `json:"ts"`
	AltM *float64  `json:"alt"`
	Hdg  *float64  `json:"hdg"`
	Mode *string   `json:"mode"`
	Volt *float64  `json:"volt"`
}

// BBox is the bounding box of a route
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Summary holds the derived statistics of a route
type Summary struct {
	Start     *time.Time    `json:"start_time"`
	End       *time.Time    `json:"end_time"`
	Duration  time.Duration `json:"-"`
	DistanceM float64       `json:"distance_m"`
	MaxAltM   *float64      `json:"max_alt"`
	BBox      *BBox         `json:"bbox"`
	Status    Status        `json:"status"`
	Points    int           `json:"points"`
}

// Thresholds configures status classification
type Thresholds struct {
	LostAfter     time.Duration
	FinishedAfter time.Duration
}

// DefaultThresholds returns the stock lost/finished thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		LostAfter:     60 * time.Second,
		FinishedAfter: 180 * time.Second,
	}
}

// Analyzer computes route statistics with configurable thresholds
type Analyzer struct {
	thresholds Thresholds
}

// NewAnalyzer creates a new analyzer with the specified thresholds
func NewAnalyzer(thresholds Thresholds) *Analyzer {
	return &Analyzer{thresholds: thresholds}
}

// Summarize computes distance, duration, max altitude, bbox and status.
// Points must already be in chronological order.
func (a *Analyzer) Summarize(points []Point, now time.Time) Summary {
	s := Summary{
		Status: a.Status(points, now),
		Points: len(points),
	}
	if len(points) == 0 {
		return s
	}

	start := points[0].TS
	end := points[len(points)-1].TS
	s.Start = &start
	s.End = &end
	s.Duration = Duration(points)
	s.DistanceM = TotalDistance(points)
	s.MaxAltM = MaxAltitude(points)
	s.BBox = Bounds(points)
	return s
}

// Status classifies a route by the age of its last point. An empty route is finished.
func (a *Analyzer) Status(points []Point, now time.Time) Status {
	if len(points) == 0 {
		return StatusFinished
	}
	return a.Classify(points[len(points)-1].TS, now)
}

// Classify maps the age of the last observation to a status
func (a *Analyzer) Classify(last, now time.Time) Status {
	age := now.Sub(last)
	switch {
	case age < a.thresholds.LostAfter:
		return StatusActive
	case age < a.thresholds.FinishedAfter:
		return StatusLost
	default:
		return StatusFinished
	}
}

// Haversine returns the great-circle distance in meters between two coordinates
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * EarthRadiusM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// TotalDistance sums pairwise haversine distances along the route
func TotalDistance(points []Point) float64 {
	dist := 0.0
	for i := 1; i < len(points); i++ {
		dist += Haversine(points[i-1].Lat, points[i-1].Lon, points[i].Lat, points[i].Lon)
	}
	return dist
}

// Duration returns last minus first timestamp, floored at zero
func Duration(points []Point) time.Duration {
	if len(points) < 2 {
		return 0
	}
	d := points[len(points)-1].TS.Sub(points[0].TS)
	if d < 0 {
		return 0
	}
	return d
}

// MaxAltitude returns the highest present altitude, or nil if none is known
func MaxAltitude(points []Point) *float64 {
	var best *float64
	for _, p := range points {
		if p.AltM == nil {
			continue
		}
		if best == nil || *p.AltM > *best {
			v := *p.AltM
			best = &v
		}
	}
	return best
}

// Bounds returns the bounding box of the route, or nil when empty
func Bounds(points []Point) *BBox {
	if len(points) == 0 {
		return nil
	}
	b := &BBox{
		MinLat: points[0].Lat, MaxLat: points[0].Lat,
		MinLon: points[0].Lon, MaxLon: points[0].Lon,
	}
	for _, p := range points[1:] {
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
		b.MinLon = math.Min(b.MinLon, p.Lon)
		b.MaxLon = math.Max(b.MaxLon, p.Lon)
	}
	return b
}
