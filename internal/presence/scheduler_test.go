package presence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/septivank/fleetwatch/internal/metrics"
	"github.com/septivank/fleetwatch/internal/presence"
	"go.uber.org/zap"
)

type flakySweeper struct {
	failures int
	calls    int
}

func (s *flakySweeper) Sweep(context.Context) (presence.SweepResult, error) {
	s.calls++
	if s.calls <= s.failures {
		return presence.SweepResult{}, errors.New("database unavailable")
	}
	return presence.SweepResult{Candidates: 2, Stage1: 1}, nil
}

func schedulerConfig() presence.Config {
	cfg := presence.DefaultConfig()
	cfg.SweepRetries = 3
	cfg.RetryInitialInterval = time.Millisecond
	return cfg
}

func TestScheduler_RetriesTransientFailure(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	sweeper := &flakySweeper{failures: 2}
	s := presence.NewScheduler(sweeper, schedulerConfig(), zap.NewNop(), m)

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if sweeper.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", sweeper.calls)
	}
	if res.Stage1 != 1 {
		t.Errorf("Unexpected result %+v", res)
	}
	if got := testutil.ToFloat64(m.SweepRuns.WithLabelValues("ok")); got != 1 {
		t.Errorf("Expected 1 ok sweep, got %f", got)
	}
}

func TestScheduler_GivesUpAfterBoundedRetries(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	sweeper := &flakySweeper{failures: 100}
	s := presence.NewScheduler(sweeper, schedulerConfig(), zap.NewNop(), m)

	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if sweeper.calls != 4 {
		t.Errorf("Expected 1 attempt plus 3 retries, got %d", sweeper.calls)
	}
	if got := testutil.ToFloat64(m.SweepRuns.WithLabelValues("failed")); got != 1 {
		t.Errorf("Expected 1 failed sweep, got %f", got)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	cfg := schedulerConfig()
	cfg.SweepInterval = time.Millisecond
	s := presence.NewScheduler(&flakySweeper{}, cfg, zap.NewNop(), nil)

	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	s.Stop()
}
