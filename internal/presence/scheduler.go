package presence

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/septivank/fleetwatch/internal/metrics"
	"go.uber.org/zap"
)

// Sweeper runs one sweep tick
type Sweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
}

// Scheduler ticks a Sweeper on a fixed interval. A failing tick is retried
// with bounded exponential backoff; exhaustion only ends that tick.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	retries  uint64
	initial  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler for sweeper
func NewScheduler(sweeper Sweeper, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	initial := cfg.RetryInitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		retries:  cfg.SweepRetries,
		initial:  initial,
		logger:   logger,
		metrics:  m,
	}
}

// RunOnce performs one tick including retries
func (s *Scheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	started := time.Now()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.initial
	eb.MaxElapsedTime = 0
	eb.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, s.retries), ctx)

	var res SweepResult
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		res, err = s.sweeper.Sweep(ctx)
		if err != nil {
			s.logger.Warn("sweep attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, policy)

	if err != nil {
		s.metrics.ObserveSweep("failed", time.Since(started))
		s.logger.Error("sweep failed after retries",
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return res, err
	}

	s.metrics.ObserveSweep("ok", time.Since(started))
	s.logger.Info("sweep completed",
		zap.Int("candidates", res.Candidates),
		zap.Int("stage1", res.Stage1),
		zap.Int("stage2", res.Stage2),
		zap.Int("failed", res.Failed),
		zap.Duration("took", time.Since(started)),
	)
	return res, nil
}

// Start runs ticks in the background until Stop
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("sweep scheduler started", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("sweep scheduler stopped")
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current tick to return
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
