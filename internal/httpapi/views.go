package httpapi

import (
	"fmt"
	"time"

	"github.com/septivank/fleetwatch/internal/analytics"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/repository"
)

type boardView struct {
	ID              int64      `json:"id"`
	Number          int64      `json:"number"`
	Label           string     `json:"label"`
	IsOnline        bool       `json:"is_online"`
	OnlineSince     *time.Time `json:"online_since"`
	OfflineSince    *time.Time `json:"offline_since"`
	LastTelemetryAt *time.Time `json:"last_telemetry_at"`
	LastMode        *string    `json:"last_mode"`
	LastVolt        *float64   `json:"last_volt"`
	LastLat         *float64   `json:"last_lat"`
	LastLon         *float64   `json:"last_lon"`
	CurrentSess     *string    `json:"current_sess"`
}

func newBoardView(b *db.Board) boardView {
	return boardView{
		ID:              b.ID,
		Number:          b.Number,
		Label:           b.Label(),
		IsOnline:        b.IsOnline,
		OnlineSince:     b.OnlineSince,
		OfflineSince:    b.OfflineSince,
		LastTelemetryAt: b.LastTelemetryAt,
		LastMode:        b.LastMode,
		LastVolt:        b.LastVolt,
		LastLat:         b.LastLat,
		LastLon:         b.LastLon,
		CurrentSess:     b.CurrentSess,
	}
}

type sessionView struct {
	Session string    `json:"session"`
	Label   string    `json:"label"`
	First   time.Time `json:"first"`
	Last    time.Time `json:"last"`
	Count   int       `json:"count"`
}

func newSessionView(s repository.SessionSummary) sessionView {
	return sessionView{
		Session: s.Session,
		Label: fmt.Sprintf("%s (%s - %s, %d pts)",
			s.Session, s.First.UTC().Format("2006-01-02 15:04"), s.Last.UTC().Format("15:04"), s.Count),
		First: s.First,
		Last:  s.Last,
		Count: s.Count,
	}
}

type summaryView struct {
	analytics.Summary
	DurationS float64 `json:"duration_s"`
}

type trackView struct {
	BoardID int64             `json:"board_id"`
	Board   string            `json:"board"`
	Session string            `json:"session"`
	Source  string            `json:"source,omitempty"`
	Points  []analytics.Point `json:"points"`
	Summary summaryView       `json:"summary"`
}

func newSummaryView(s analytics.Summary) summaryView {
	return summaryView{Summary: s, DurationS: s.Duration.Seconds()}
}

type errorView struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
