package session

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/fleetwatch/internal/analytics"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/repository"
)

// Source tells which reconstruction step produced a route
type Source string

const (
	SourceSession  Source = "session"
	SourceDetected Source = "detected"
	SourceWindow   Source = "window"
	SourceLastN    Source = "last_n"
	SourceNone     Source = "none"
)

// Config holds reconstruction limits
type Config struct {
	MaxPoints      int           // display cap applied by Downsample
	LastN          int           // size of the last-resort tail fetch
	FallbackWindow time.Duration // window used when the caller gives none
}

// DefaultConfig returns the stock limits
func DefaultConfig() Config {
	return Config{
		MaxPoints:      200,
		LastN:          200,
		FallbackWindow: 30 * time.Minute,
	}
}

// Request selects which route to rebuild. Session is an explicit token,
// Hint the board's cached current-session pointer.
type Request struct {
	BoardID int64
	Session string
	Hint    *string
	From    *time.Time
	To      *time.Time
}

// Route is an ordered, positioned point sequence
type Route struct {
	Session string
	Source  Source
	Points  []analytics.Point
}

// Reconstructor rebuilds routes from stored samples
type Reconstructor struct {
	points repository.PointStore
	cfg    Config
	now    func() time.Time
}

// NewReconstructor creates a new reconstructor
func NewReconstructor(points repository.PointStore, cfg Config) *Reconstructor {
	if cfg.MaxPoints < 2 {
		cfg.MaxPoints = 2
	}
	return &Reconstructor{points: points, cfg: cfg, now: time.Now}
}

// Reconstruct walks the fallback chain and returns the first candidate with
// at least two points. When none qualifies the largest candidate is returned.
func (r *Reconstructor) Reconstruct(ctx context.Context, req Request) (*Route, error) {
	to := r.now().UTC()
	if req.To != nil {
		to = *req.To
	}
	from := to.Add(-r.cfg.FallbackWindow)
	if req.From != nil {
		from = *req.From
	}

	best := &Route{Source: SourceNone}
	keep := func(route *Route) bool {
		if len(route.Points) > len(best.Points) {
			best = route
		}
		return len(route.Points) >= 2
	}

	token := req.Session
	if token == "" && req.Hint != nil {
		token = *req.Hint
	}
	if token != "" {
		pts, err := r.SessionPoints(ctx, req.BoardID, token)
		if err != nil {
			return nil, err
		}
		if keep(&Route{Session: token, Source: SourceSession, Points: pts}) {
			return r.finish(best), nil
		}
	}

	detected, err := r.points.LatestSession(ctx, req.BoardID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to detect session: %w", err)
	}
	if detected != "" && detected != token {
		pts, err := r.SessionPoints(ctx, req.BoardID, detected)
		if err != nil {
			return nil, err
		}
		if keep(&Route{Session: detected, Source: SourceDetected, Points: pts}) {
			return r.finish(best), nil
		}
	}

	windowed, err := r.points.Query(ctx, req.BoardID, repository.Filter{
		From:            &from,
		To:              &to,
		RequirePosition: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query window points: %w", err)
	}
	if keep(&Route{Session: detected, Source: SourceWindow, Points: ToPoints(windowed)}) {
		return r.finish(best), nil
	}

	tail, err := r.points.Query(ctx, req.BoardID, repository.Filter{
		Limit:           r.cfg.LastN,
		Latest:          true,
		RequirePosition: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query last points: %w", err)
	}
	keep(&Route{Source: SourceLastN, Points: ToPoints(tail)})

	return r.finish(best), nil
}

// SessionPoints returns every positioned point of a session in chronological order
func (r *Reconstructor) SessionPoints(ctx context.Context, boardID int64, sess string) ([]analytics.Point, error) {
	samples, err := r.points.Query(ctx, boardID, repository.Filter{
		Session:         &sess,
		RequirePosition: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query session %q: %w", sess, err)
	}
	return ToPoints(samples), nil
}

// Downsample applies the configured display cap
func (r *Reconstructor) Downsample(points []analytics.Point) []analytics.Point {
	return Downsample(points, r.cfg.MaxPoints)
}

func (r *Reconstructor) finish(route *Route) *Route {
	route.Points = Downsample(route.Points, r.cfg.MaxPoints)
	return route
}

// ToPoints converts positioned samples to route points, dropping the rest
func ToPoints(samples []db.Sample) []analytics.Point {
	pts := make([]analytics.Point, 0, len(samples))
	for _, s := range samples {
		if !s.HasPosition() {
			continue
		}
		pts = append(pts, analytics.Point{
			Lat:  *s.Lat,
			Lon:  *s.Lon,
			TS:   s.TS,
			AltM: s.AltM,
			Hdg:  s.Hdg,
			Mode: s.Mode,
			Volt: s.Volt,
		})
	}
	return pts
}

// Downsample keeps the first and last point and strides evenly through the
// interior so the result never exceeds limit.
func Downsample(points []analytics.Point, limit int) []analytics.Point {
	if limit < 2 {
		limit = 2
	}
	n := len(points)
	if n <= limit {
		return points
	}

	interior := points[1 : n-1]
	slots := limit - 2
	out := make([]analytics.Point, 0, limit)
	out = append(out, points[0])
	if slots > 0 {
		step := (len(interior) + slots - 1) / slots
		for i := 0; i < len(interior); i += step {
			out = append(out, interior[i])
		}
	}
	out = append(out, points[n-1])
	return out
}
