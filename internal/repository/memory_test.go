package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/repository"
)

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestMemoryPut_SameKeyOverwrites(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	boardID, _, _ := store.UpsertBoard(ctx, 7)

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &db.Sample{BoardID: boardID, TS: ts, Sess: strPtr("s1"), Seq: int64Ptr(1), Volt: floatPtr(11.1)}
	second := &db.Sample{BoardID: boardID, TS: ts, Sess: strPtr("s1"), Seq: int64Ptr(1), Volt: floatPtr(12.6)}

	res, err := store.Put(ctx, first)
	if err != nil || !res.Inserted {
		t.Fatalf("Expected fresh insert, got %+v err %v", res, err)
	}
	res, err = store.Put(ctx, second)
	if err != nil || res.Inserted {
		t.Fatalf("Expected overwrite, got %+v err %v", res, err)
	}

	samples, _ := store.Query(ctx, boardID, repository.Filter{})
	if len(samples) != 1 {
		t.Fatalf("Expected exactly one row, got %d", len(samples))
	}
	if *samples[0].Volt != 12.6 {
		t.Errorf("Expected second submission to win, got volt %v", *samples[0].Volt)
	}
}

func TestMemoryPut_UnkeyedAlwaysAppends(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	boardID, _, _ := store.UpsertBoard(ctx, 7)

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := store.Put(ctx, &db.Sample{BoardID: boardID, TS: ts, Sess: strPtr("s1")}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	samples, _ := store.Query(ctx, boardID, repository.Filter{})
	if len(samples) != 3 {
		t.Errorf("Expected 3 appended rows, got %d", len(samples))
	}
}

func TestMemoryPut_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	boardID, _, _ := store.UpsertBoard(ctx, 7)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Put(ctx, &db.Sample{BoardID: boardID, TS: time.Now(), Sess: strPtr("s"), Seq: int64Ptr(9)})
		}()
	}
	wg.Wait()

	samples, _ := store.Query(ctx, boardID, repository.Filter{})
	if len(samples) != 1 {
		t.Errorf("Expected a single row under concurrent retries, got %d", len(samples))
	}
}

func TestMemoryQuery_LatestReturnsChronological(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	boardID, _, _ := store.UpsertBoard(ctx, 1)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, offset := range []int{5, 1, 4, 2, 3} {
		store.Put(ctx, &db.Sample{BoardID: boardID, TS: base.Add(time.Duration(offset) * time.Minute)})
	}

	samples, _ := store.Query(ctx, boardID, repository.Filter{Limit: 2, Latest: true})
	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}
	if !samples[0].TS.Equal(base.Add(4*time.Minute)) || !samples[1].TS.Equal(base.Add(5*time.Minute)) {
		t.Errorf("Expected the last two minutes in order, got %v and %v", samples[0].TS, samples[1].TS)
	}
}

func TestMemoryLatestSessionAndIndex(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	boardID, _, _ := store.UpsertBoard(ctx, 1)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.Put(ctx, &db.Sample{BoardID: boardID, TS: base, Sess: strPtr("a")})
	store.Put(ctx, &db.Sample{BoardID: boardID, TS: base.Add(time.Minute), Sess: strPtr("a")})
	store.Put(ctx, &db.Sample{BoardID: boardID, TS: base.Add(2 * time.Minute), Sess: strPtr("b")})
	store.Put(ctx, &db.Sample{BoardID: boardID, TS: base.Add(3 * time.Minute)})

	sess, err := store.LatestSession(ctx, boardID, base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("LatestSession failed: %v", err)
	}
	if sess != "b" {
		t.Errorf("Expected latest session b, got %q", sess)
	}

	index, _ := store.Sessions(ctx, boardID)
	if len(index) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(index))
	}
	if index[0].Session != "a" || index[0].Count != 2 || !index[0].Last.Equal(base.Add(time.Minute)) {
		t.Errorf("Unexpected first session summary %+v", index[0])
	}
}

func TestMemoryWithBoardLock_ErrorDiscardsChanges(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	boardID, _, _ := store.UpsertBoard(ctx, 1)

	boom := errors.New("boom")
	err := store.WithBoardLock(ctx, boardID, func(b *db.Board) error {
		b.IsOnline = true
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected callback error, got %v", err)
	}

	b, _ := store.GetBoard(ctx, boardID)
	if b.IsOnline {
		t.Error("Changes of a failed callback must not be persisted")
	}
}

func TestMemoryNewBoardStartsOffline(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	id, created, _ := store.UpsertBoard(ctx, 5)
	again, createdAgain, _ := store.UpsertBoard(ctx, 5)
	if !created || createdAgain || id != again {
		t.Fatalf("Upsert must resolve the same board, got %d/%v and %d/%v", id, created, again, createdAgain)
	}

	b, _ := store.GetBoard(ctx, id)
	if b.IsOnline || b.OfflineSince == nil {
		t.Errorf("New board must be offline with offline_since set, got %+v", b)
	}
}

func TestMemoryArmReportsDeduplicated(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rep := db.ArmReport{BoardNumber: 7, TS: ts, Arms: 3, ArmSec: 120, QStabSec: 5}

	inserted, _ := store.InsertArmReports(ctx, []db.ArmReport{rep, rep})
	if len(inserted) != 1 {
		t.Errorf("Expected one new report, got %d", len(inserted))
	}
	inserted, _ = store.InsertArmReports(ctx, []db.ArmReport{rep})
	if len(inserted) != 0 {
		t.Errorf("Expected duplicate to be ignored, got %d", len(inserted))
	}
}
