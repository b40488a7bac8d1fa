package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/repository"
)

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *repository.PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("Failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, repository.NewPostgresStore(mock)
}

func TestPostgresUpsertBoard_Created(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectQuery(`INSERT INTO boards`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created"}).AddRow(int64(11), true))

	id, created, err := store.UpsertBoard(context.Background(), 7)
	if err != nil {
		t.Fatalf("UpsertBoard failed: %v", err)
	}
	if id != 11 || !created {
		t.Errorf("Expected id 11 created, got id %d created %v", id, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestPostgresPut_ReportsOverwrite(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectQuery(`ON CONFLICT \(board_id, sess, seq\) DO UPDATE`).
		WithArgs(anyArgs(18)...).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(42), false))

	sess := "s1"
	seq := int64(3)
	sample := &db.Sample{BoardID: 1, TS: time.Now().UTC(), Sess: &sess, Seq: &seq}

	res, err := store.Put(context.Background(), sample)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if res.Inserted {
		t.Error("Expected overwrite, got insert")
	}
	if sample.ID != 42 {
		t.Errorf("Expected sample id 42, got %d", sample.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestPostgresPut_WrapsError(t *testing.T) {
	mock, store := newMock(t)

	boom := errors.New("connection reset")
	mock.ExpectQuery(`INSERT INTO telemetry`).
		WithArgs(anyArgs(18)...).
		WillReturnError(boom)

	_, err := store.Put(context.Background(), &db.Sample{BoardID: 1})
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped driver error, got %v", err)
	}
}

func TestPostgresLatestSession_NoRows(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectQuery(`SELECT sess FROM telemetry`).
		WithArgs(int64(1), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	now := time.Now()
	sess, err := store.LatestSession(context.Background(), 1, now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("LatestSession failed: %v", err)
	}
	if sess != "" {
		t.Errorf("Expected empty session, got %q", sess)
	}
}

func TestPostgresSweepCandidates(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectQuery(`SELECT id FROM boards`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(3)))

	ids, err := store.SweepCandidates(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("SweepCandidates failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("Unexpected candidates %v", ids)
	}
}

func TestPostgresWithBoardLock_NotFoundRollsBack(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	called := false
	err := store.WithBoardLock(context.Background(), 99, func(b *db.Board) error {
		called = true
		return nil
	})
	if !errors.Is(err, repository.ErrBoardNotFound) {
		t.Errorf("Expected ErrBoardNotFound, got %v", err)
	}
	if called {
		t.Error("Callback must not run for a missing board")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestPostgresWithBoardLock_UpdatesAndCommits(t *testing.T) {
	mock, store := newMock(t)

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	last := created.Add(time.Minute)
	columns := []string{
		"id", "number", "status", "created_at", "is_online", "online_since", "offline_since",
		"last_telemetry_at", "last_mode", "last_volt", "last_lat", "last_lon",
		"last_pos_reported_at", "current_sess",
		"last_offline_notified_at", "prolonged_offline_notified_at",
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			int64(5), int64(42), (*string)(nil), created, false, (*time.Time)(nil), &created,
			&last, (*string)(nil), (*float64)(nil), (*float64)(nil), (*float64)(nil),
			(*time.Time)(nil), (*string)(nil),
			&last, (*time.Time)(nil),
		))
	mock.ExpectExec(`UPDATE boards SET`).
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	var seen db.Board
	err := store.WithBoardLock(context.Background(), 5, func(b *db.Board) error {
		seen = *b
		b.IsOnline = true
		b.OnlineSince = &last
		b.OfflineSince = nil
		return nil
	})
	if err != nil {
		t.Fatalf("WithBoardLock failed: %v", err)
	}
	if seen.Number != 42 || seen.IsOnline {
		t.Errorf("Expected locked offline board 42, got %+v", seen)
	}
	if seen.LastTelemetryAt == nil || !seen.LastTelemetryAt.Equal(last) {
		t.Errorf("Expected last telemetry %v, got %v", last, seen.LastTelemetryAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestPostgresWithBoardLock_CallbackErrorSkipsUpdate(t *testing.T) {
	mock, store := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(int64(5)).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "number", "status", "created_at", "is_online", "online_since", "offline_since",
			"last_telemetry_at", "last_mode", "last_volt", "last_lat", "last_lon",
			"last_pos_reported_at", "current_sess",
			"last_offline_notified_at", "prolonged_offline_notified_at",
		}).AddRow(
			int64(5), int64(42), (*string)(nil), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), true,
			(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), (*string)(nil),
			(*float64)(nil), (*float64)(nil), (*float64)(nil), (*time.Time)(nil), (*string)(nil),
			(*time.Time)(nil), (*time.Time)(nil),
		))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.WithBoardLock(context.Background(), 5, func(b *db.Board) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected callback error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
