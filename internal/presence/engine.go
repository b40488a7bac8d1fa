package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/fleetwatch/internal/analytics"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/logging"
	"github.com/septivank/fleetwatch/internal/metrics"
	"github.com/septivank/fleetwatch/internal/notify"
	"github.com/septivank/fleetwatch/internal/repository"
	"github.com/septivank/fleetwatch/internal/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Notifier accepts messages for asynchronous delivery
type Notifier interface {
	Enqueue(msg notify.Message) bool
}

// Observation describes what a single sample changed
type Observation struct {
	PoweredOn     bool
	FirstPosition bool
}

// SweepResult summarizes one sweep tick
type SweepResult struct {
	Candidates int
	Stage1     int
	Stage2     int
	Failed     int
}

// Engine derives per-board presence from samples and periodic sweeps
type Engine struct {
	boards   repository.BoardStore
	routes   *session.Reconstructor
	analyzer *analytics.Analyzer
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewEngine creates a new presence engine
func NewEngine(
	boards repository.BoardStore,
	routes *session.Reconstructor,
	analyzer *analytics.Analyzer,
	notifier Notifier,
	cfg Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Engine {
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 1
	}
	return &Engine{
		boards:   boards,
		routes:   routes,
		analyzer: analyzer,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock overrides the wall clock
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Observe applies a freshly stored sample to the board's presence state
func (e *Engine) Observe(ctx context.Context, boardID int64, s *db.Sample) (Observation, error) {
	return e.ObserveWrite(ctx, boardID, s, true)
}

// ObserveWrite applies one stored sample given the outcome of its write. An
// overwrite of an already stored (session, sequence) key is a retransmission
// and never powers a board on. The board row stays locked for the duration
// of the update; notifications are queued only after the update committed.
func (e *Engine) ObserveWrite(ctx context.Context, boardID int64, s *db.Sample, inserted bool) (Observation, error) {
	var obs Observation
	var pending []notify.Message
	now := e.now().UTC()
	seen := e.seenAt(s)

	err := e.boards.WithBoardLock(ctx, boardID, func(b *db.Board) error {
		obs = Observation{}
		pending = pending[:0]

		if !b.IsOnline {
			sm := NewStateMachine(b, e.cfg.PowerOnMinVolt)
			changed, err := sm.fire(ctx, EventPowerOn, &transition{board: b, sample: s, at: seen, retransmit: !inserted})
			if err != nil {
				return fmt.Errorf("failed to apply power-on: %w", err)
			}
			if changed {
				obs.PoweredOn = true
				pending = append(pending, powerOnMessage(b, s, now))
			}
		}

		advanceSnapshot(b, s, seen)

		if b.IsOnline && s.HasPosition() && inEpisode(b, seen) && firstPositionPending(b) {
			reported := seen
			b.LastPosReportedAt = &reported
			obs.FirstPosition = true
			pending = append(pending, firstPositionMessage(b, s, now))
		}
		return nil
	})
	if err != nil {
		return Observation{}, err
	}

	if obs.PoweredOn {
		e.metrics.IncTransition(EventPowerOn)
		e.logger.Info("board powered on",
			zap.Int64("board_id", boardID),
			zap.Time("ts", seen),
		)
	}
	e.enqueue(pending)
	return obs, nil
}

// seenAt is the time a sample counts as seen. A device clock running ahead
// of the receive time by more than MaxClockSkew falls back to the receive time.
func (e *Engine) seenAt(s *db.Sample) time.Time {
	if s.ReceivedAt.IsZero() || e.cfg.MaxClockSkew <= 0 {
		return s.TS
	}
	if s.TS.After(s.ReceivedAt.Add(e.cfg.MaxClockSkew)) {
		return s.ReceivedAt.UTC()
	}
	return s.TS
}

// advanceSnapshot overwrites the last-seen fields with the latest arrival
func advanceSnapshot(b *db.Board, s *db.Sample, seen time.Time) {
	b.LastTelemetryAt = &seen
	if s.Mode != nil && *s.Mode != "" {
		b.LastMode = s.Mode
	}
	if s.Volt != nil {
		b.LastVolt = s.Volt
	}
	if s.HasPosition() {
		b.LastLat, b.LastLon = s.Lat, s.Lon
	}
	if s.Sess != nil && *s.Sess != "" {
		b.CurrentSess = s.Sess
	}
}

// inEpisode reports whether a sample seen at t belongs to the current
// online episode. Late samples from before the episode are not reported.
func inEpisode(b *db.Board, t time.Time) bool {
	return b.OnlineSince == nil || !t.Before(*b.OnlineSince)
}

func firstPositionPending(b *db.Board) bool {
	if b.LastPosReportedAt == nil {
		return true
	}
	return b.OnlineSince != nil && b.LastPosReportedAt.Before(*b.OnlineSince)
}

// Sweep evaluates every stale board once. Each board commits on its own;
// a failing board is logged and counted without stopping the others.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	now := e.now().UTC()

	threshold := e.cfg.Inactive
	if e.cfg.Prolonged < threshold {
		threshold = e.cfg.Prolonged
	}

	ids, err := e.boards.SweepCandidates(ctx, now.Add(-threshold))
	if err != nil {
		return SweepResult{}, err
	}

	var mu sync.Mutex
	res := SweepResult{Candidates: len(ids)}

	var g errgroup.Group
	g.SetLimit(e.cfg.SweepConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			stage1, stage2, err := e.sweepBoard(ctx, id, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				e.logger.Error("failed to sweep board", zap.Int64("board_id", id), zap.Error(err))
				return nil
			}
			if stage1 {
				res.Stage1++
			}
			if stage2 {
				res.Stage2++
			}
			return nil
		})
	}
	g.Wait()

	if res.Candidates > 0 && res.Failed == res.Candidates {
		return res, fmt.Errorf("sweep failed for all %d boards", res.Failed)
	}
	return res, nil
}

func (e *Engine) sweepBoard(ctx context.Context, id int64, now time.Time) (bool, bool, error) {
	var stage1, stage2, silenced bool
	var snapshot db.Board

	inactiveBefore := now.Add(-e.cfg.Inactive)
	prolongedBefore := now.Add(-e.cfg.Prolonged)

	err := e.boards.WithBoardLock(ctx, id, func(b *db.Board) error {
		stage1, stage2, silenced = false, false, false
		sm := NewStateMachine(b, e.cfg.PowerOnMinVolt)

		silence := func() error {
			if !b.IsOnline {
				return nil
			}
			changed, err := sm.fire(ctx, EventSilence, &transition{board: b, at: now})
			if err != nil {
				return fmt.Errorf("failed to apply silence: %w", err)
			}
			silenced = silenced || changed
			return nil
		}

		stale := b.LastTelemetryAt == nil || !b.LastTelemetryAt.After(inactiveBefore)
		if stale && ShouldFire(b.LastOfflineNotifiedAt, b.OfflineSince) {
			if err := silence(); err != nil {
				return err
			}
			mark := now
			b.LastOfflineNotifiedAt = &mark
			stage1 = true
		}

		offlineLong := b.OfflineSince != nil && !b.OfflineSince.After(prolongedBefore)
		lastOld := b.LastTelemetryAt == nil || !b.LastTelemetryAt.After(prolongedBefore)
		if (offlineLong || lastOld) && ShouldFire(b.ProlongedOfflineNotifiedAt, b.OfflineSince) {
			if err := silence(); err != nil {
				return err
			}
			if b.OfflineSince == nil {
				since := now
				b.OfflineSince = &since
			}
			mark := now
			b.ProlongedOfflineNotifiedAt = &mark
			stage2 = true
		}

		snapshot = *b
		return nil
	})
	if err != nil {
		return false, false, err
	}

	if silenced {
		e.metrics.IncTransition(EventSilence)
		logging.WithBoard(e.logger, id, snapshot.Number).Info("board went silent")
	}

	var pending []notify.Message
	if stage1 {
		pending = append(pending, telemetryStoppedMessage(&snapshot, e.cfg.Inactive, now))
	}
	if stage2 {
		pending = append(pending, e.prolongedReport(ctx, snapshot, now).message())
	}
	e.enqueue(pending)

	return stage1, stage2, nil
}

// prolongedReport rebuilds the latest route of a board for the stage-2
// message. Reconstruction failures degrade to a report without a route.
func (e *Engine) prolongedReport(ctx context.Context, b db.Board, now time.Time) prolongedReport {
	rep := prolongedReport{board: b, now: now}

	route, err := e.routes.Reconstruct(ctx, session.Request{
		BoardID: b.ID,
		Hint:    b.CurrentSess,
		To:      b.LastTelemetryAt,
	})
	if err != nil {
		e.logger.Error("failed to reconstruct route for report",
			zap.Int64("board_id", b.ID),
			zap.Error(err),
		)
	} else {
		rep.route = route
		rep.summary = e.analyzer.Summarize(route.Points, now)
		e.logger.Info("route collected for prolonged offline report",
			zap.Int64("board_id", b.ID),
			zap.String("session", route.Session),
			zap.String("source", string(route.Source)),
			zap.Int("points", len(route.Points)),
		)
	}

	sess := ""
	if rep.route != nil && len(rep.route.Points) >= 2 {
		sess = rep.route.Session
	}
	rep.link = TrackLink(e.cfg.PublicBaseURL, b.ID, sess)
	return rep
}

func (e *Engine) enqueue(msgs []notify.Message) {
	for _, msg := range msgs {
		if !e.notifier.Enqueue(msg) {
			e.logger.Warn("notification not queued",
				zap.String("kind", string(msg.Kind)),
				zap.Int64("board", msg.BoardNumber),
			)
		}
	}
}
