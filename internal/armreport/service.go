package armreport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/ingest"
	"github.com/septivank/fleetwatch/internal/logging"
	"github.com/septivank/fleetwatch/internal/notify"
	"github.com/septivank/fleetwatch/internal/repository"
	"github.com/septivank/fleetwatch/tools/timeparser"
	"go.uber.org/zap"
)

// ErrEmptyPayload is returned when a body holds no decodable rows
var ErrEmptyPayload = errors.New("empty payload")

// Notifier accepts messages for asynchronous delivery
type Notifier interface {
	Enqueue(msg notify.Message) bool
}

// Config holds ARM report settings
type Config struct {
	Limits Limits
	// ThreadID is the notifier sub-channel reports are routed to
	ThreadID *int64
	// MaxDecodedBytes caps a body after decompression. Zero means no cap.
	MaxDecodedBytes int64
}

// Service stores ARM usage reports and queues one technical report per new row
type Service struct {
	store    repository.ArmReportStore
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a new ARM report service
func NewService(store repository.ArmReportStore, notifier Notifier, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest decodes NDJSON rows {ts, boat, arms, arm_sec, qstab_sec} and stores
// the complete ones. Duplicate rows are ignored. Notifications are queued
// after the rows committed. It returns the number of newly stored rows.
func (s *Service) Ingest(ctx context.Context, body []byte, contentEncoding string) (int, error) {
	reqLogger := logging.WithRequestID(s.logger, uuid.NewString())

	batch, err := ingest.Decode(body, "application/x-ndjson", contentEncoding, s.cfg.MaxDecodedBytes)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyBatch) || errors.Is(err, ingest.ErrUnparseableBatch) {
			return 0, fmt.Errorf("%w: %v", ErrEmptyPayload, err)
		}
		return 0, err
	}
	if batch.BadLines > 0 {
		reqLogger.Warn("arm report: skipped bad JSON lines", zap.Int("lines", batch.BadLines))
	}

	receivedAt := s.now().UTC()
	reports := make([]db.ArmReport, 0, len(batch.Records))
	for _, rec := range batch.Records {
		rep, ok := parseRow(rec, receivedAt)
		if !ok {
			reqLogger.Warn("arm report: skipping incomplete row", zap.Any("row", map[string]any(rec)))
			continue
		}
		reports = append(reports, rep)
	}

	inserted, err := s.store.InsertArmReports(ctx, reports)
	if err != nil {
		reqLogger.Error("failed to store arm reports", zap.Error(err))
		return 0, fmt.Errorf("failed to store arm reports: %w", err)
	}

	for _, rep := range inserted {
		msg := notify.NewMessage(notify.KindArmReport, rep.BoardNumber, Progress{Report: rep, Limits: s.cfg.Limits}.Text(), receivedAt)
		msg.ThreadID = s.cfg.ThreadID
		if !s.notifier.Enqueue(msg) {
			reqLogger.Warn("arm report notification not queued", zap.Int64("report_id", rep.ID))
		}
	}

	reqLogger.Info("arm reports ingested",
		zap.Int("rows", len(batch.Records)),
		zap.Int("saved", len(inserted)),
		zap.Int("duplicates", len(reports)-len(inserted)),
	)
	return len(inserted), nil
}

// parseRow requires ts, boat and arms; missing durations count as zero
func parseRow(rec ingest.Record, receivedAt time.Time) (db.ArmReport, bool) {
	tsText := rec.Text("ts")
	boat := rec.Integer("boat", "board")
	arms := rec.Integer("arms")
	if tsText == nil || boat == nil || arms == nil {
		return db.ArmReport{}, false
	}

	ts, err := timeparser.ParseTimestamp(*tsText)
	if err != nil {
		ts = receivedAt
	}

	rep := db.ArmReport{
		BoardNumber: *boat,
		TS:          ts,
		Arms:        int(*arms),
	}
	if v := rec.Number("arm_sec"); v != nil {
		rep.ArmSec = *v
	}
	if v := rec.Number("qstab_sec"); v != nil {
		rep.QStabSec = *v
	}
	return rep, true
}
