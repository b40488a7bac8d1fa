package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/logging"
	"github.com/septivank/fleetwatch/internal/metrics"
	"github.com/septivank/fleetwatch/internal/mq"
	"github.com/septivank/fleetwatch/internal/presence"
	"github.com/septivank/fleetwatch/internal/repository"
	"github.com/septivank/fleetwatch/tools/timeparser"
	"go.uber.org/zap"
)

// Observer applies a stored sample to the board's presence state. inserted
// is false when the write overwrote an already stored sample key.
type Observer interface {
	ObserveWrite(ctx context.Context, boardID int64, s *db.Sample, inserted bool) (presence.Observation, error)
}

// Summary is the per-batch result returned to the sender
type Summary struct {
	Saved   int     `json:"saved"`
	Updated int     `json:"updated"`
	Errors  int     `json:"errors"`
	Boards  []int64 `json:"boards"`
}

// Config holds gateway settings
type Config struct {
	// ClockSkew is the device/server clock difference above which a sample
	// is logged as skewed. Zero disables the check.
	ClockSkew time.Duration
	// MaxDecodedBytes caps a decompressed request body. Zero means no cap.
	MaxDecodedBytes int64
}

// Gateway fans decoded telemetry records into the point store and the
// presence engine
type Gateway struct {
	boards   repository.BoardStore
	points   repository.PointStore
	observer Observer
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewGateway creates a new ingest gateway
func NewGateway(
	boards repository.BoardStore,
	points repository.PointStore,
	observer Observer,
	cfg Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Gateway {
	return &Gateway{
		boards:   boards,
		points:   points,
		observer: observer,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock overrides the clock used as the received time
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// IngestBody decodes a raw request body and ingests its records
func (g *Gateway) IngestBody(ctx context.Context, body []byte, contentType, contentEncoding string) (Summary, error) {
	batch, err := Decode(body, contentType, contentEncoding, g.cfg.MaxDecodedBytes)
	if err != nil {
		return Summary{Boards: []int64{}}, err
	}
	return g.Ingest(ctx, batch)
}

// HandleMessage ingests a telemetry batch delivered over the broker. Only
// batches that cannot be decoded at all are rejected to the dead-letter queue.
func (g *Gateway) HandleMessage(ctx context.Context, msg mq.Message) error {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/x-ndjson"
	}

	summary, err := g.IngestBody(ctx, msg.Body, contentType, msg.ContentEncoding)
	if err != nil {
		return fmt.Errorf("failed to ingest message: %w", err)
	}

	g.logger.Debug("broker batch ingested",
		zap.String("routing_key", msg.RoutingKey),
		zap.Int("saved", summary.Saved),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors),
	)
	return nil
}

// Ingest stores every record of the batch and updates presence. Malformed
// records and per-record storage failures are counted and skipped.
func (g *Gateway) Ingest(ctx context.Context, batch *Batch) (Summary, error) {
	reqLogger := logging.WithRequestID(g.logger, uuid.NewString())
	receivedAt := g.now().UTC()

	summary := Summary{Errors: batch.BadLines}
	for i := 0; i < batch.BadLines; i++ {
		g.metrics.IncSample("error")
	}

	touched := make(map[int64]struct{})
	for _, rec := range batch.Records {
		if err := ctx.Err(); err != nil {
			return summary.finish(touched), err
		}

		number, inserted, err := g.ingestRecord(ctx, rec, receivedAt, reqLogger)
		if err != nil {
			summary.Errors++
			g.metrics.IncSample("error")
			reqLogger.Warn("skipping telemetry record", zap.Error(err))
			continue
		}

		touched[number] = struct{}{}
		if inserted {
			summary.Saved++
			g.metrics.IncSample("saved")
		} else {
			summary.Updated++
			g.metrics.IncSample("updated")
		}
	}

	summary = summary.finish(touched)
	reqLogger.Info("telemetry batch ingested",
		zap.Int("records", len(batch.Records)),
		zap.Int("saved", summary.Saved),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors),
		zap.Int("boards", len(summary.Boards)),
	)
	return summary, nil
}

func (g *Gateway) ingestRecord(ctx context.Context, rec Record, receivedAt time.Time, logger *zap.Logger) (int64, bool, error) {
	number, sample, err := Normalize(rec, receivedAt)
	if err != nil {
		return 0, false, err
	}

	boardID, created, err := g.boards.UpsertBoard(ctx, number)
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve board %d: %w", number, err)
	}
	if created {
		g.metrics.IncBoardCreated()
		logger.Info("new board registered", zap.Int64("board", number), zap.Int64("board_id", boardID))
	}

	if g.cfg.ClockSkew > 0 && !timeparser.IsWithinTolerance(sample.TS, receivedAt, g.cfg.ClockSkew) {
		logger.Debug("sample timestamp outside clock skew tolerance",
			zap.Int64("board", number),
			zap.Time("ts", sample.TS),
			zap.Duration("tolerance", g.cfg.ClockSkew),
		)
	}

	sample.BoardID = boardID
	res, err := g.points.Put(ctx, sample)
	if err != nil {
		return 0, false, fmt.Errorf("failed to store sample for board %d: %w", number, err)
	}

	if _, err := g.observer.ObserveWrite(ctx, boardID, sample, res.Inserted); err != nil {
		logger.Error("failed to update board presence",
			zap.Int64("board", number),
			zap.Error(err),
		)
	}
	return number, res.Inserted, nil
}

func (s Summary) finish(touched map[int64]struct{}) Summary {
	s.Boards = make([]int64, 0, len(touched))
	for n := range touched {
		s.Boards = append(s.Boards, n)
	}
	sort.Slice(s.Boards, func(i, j int) bool { return s.Boards[i] < s.Boards[j] })
	return s
}
