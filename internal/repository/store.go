package repository

import (
	"context"
	"errors"
	"time"

	"github.com/septivank/fleetwatch/internal/db"
)

// ErrBoardNotFound is returned when a board id or number has no row
var ErrBoardNotFound = errors.New("board not found")

// PutResult describes the outcome of an idempotent sample write
type PutResult struct {
	ID       int64
	Inserted bool
}

// Filter restricts a sample query. Zero values mean "no restriction".
type Filter struct {
	Session         *string
	From            *time.Time
	To              *time.Time
	Limit           int
	Latest          bool // with Limit, keep the most recent N and return them oldest first
	RequirePosition bool
}

// SessionSummary is one entry of a board's sessions index
type SessionSummary struct {
	Session string
	First   time.Time
	Last    time.Time
	Count   int
}

// BoardStore persists boards and serializes presence mutations per board
type BoardStore interface {
	UpsertBoard(ctx context.Context, number int64) (id int64, created bool, err error)
	GetBoard(ctx context.Context, id int64) (*db.Board, error)
	GetBoardByNumber(ctx context.Context, number int64) (*db.Board, error)
	ListBoards(ctx context.Context) ([]db.Board, error)
	// WithBoardLock loads the board under a row lock, runs fn on it and persists
	// the presence columns if fn returns nil. A non-nil error rolls back.
	WithBoardLock(ctx context.Context, id int64, fn func(b *db.Board) error) error
	// SweepCandidates lists boards that were online or are in a known offline
	// episode and whose last telemetry is missing or not after staleBefore.
	SweepCandidates(ctx context.Context, staleBefore time.Time) ([]int64, error)
}

// PointStore persists telemetry samples idempotently
type PointStore interface {
	Put(ctx context.Context, s *db.Sample) (PutResult, error)
	Query(ctx context.Context, boardID int64, f Filter) ([]db.Sample, error)
	// LatestSession returns the most recent non-empty session token seen in
	// [from, to], or "" when none exists.
	LatestSession(ctx context.Context, boardID int64, from, to time.Time) (string, error)
	Sessions(ctx context.Context, boardID int64) ([]SessionSummary, error)
}

// ArmReportStore persists ARM usage reports
type ArmReportStore interface {
	// InsertArmReports stores reports and returns only the rows that were new
	InsertArmReports(ctx context.Context, reports []db.ArmReport) ([]db.ArmReport, error)
}

// Store is the full persistence surface used by the service
type Store interface {
	BoardStore
	PointStore
	ArmReportStore
}
