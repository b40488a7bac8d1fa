package armreport_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/septivank/fleetwatch/internal/armreport"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/notify"
	"github.com/septivank/fleetwatch/internal/repository"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	msgs []notify.Message
}

func (n *fakeNotifier) Enqueue(msg notify.Message) bool {
	n.msgs = append(n.msgs, msg)
	return true
}

func newService() (*armreport.Service, *repository.MemoryStore, *fakeNotifier) {
	store := repository.NewMemoryStore()
	notifier := &fakeNotifier{}
	thread := int64(405)
	svc := armreport.NewService(store, notifier, armreport.Config{
		Limits:   armreport.DefaultLimits(),
		ThreadID: &thread,
	}, zap.NewNop())
	return svc, store, notifier
}

func TestIngest_StoresCompleteRows(t *testing.T) {
	svc, store, notifier := newService()

	body := strings.Join([]string{
		`{"ts":"2025-09-06 18:52:28","boat":133,"arms":12,"arm_sec":60.0,"qstab_sec":30.0}`,
		`{"ts":"2025-09-06 18:53:00","boat":133}`,
		`not json`,
		`{"ts":"2025-09-06 18:54:00","boat":134,"arms":2}`,
	}, "\n")

	saved, err := svc.Ingest(context.Background(), []byte(body), "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if saved != 2 {
		t.Fatalf("Expected 2 saved rows, got %d", saved)
	}

	reports := store.ArmReports()
	if len(reports) != 2 {
		t.Fatalf("Expected 2 stored reports, got %d", len(reports))
	}
	if reports[1].ArmSec != 0 || reports[1].QStabSec != 0 {
		t.Errorf("Expected missing durations stored as zero, got %v/%v", reports[1].ArmSec, reports[1].QStabSec)
	}

	if len(notifier.msgs) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(notifier.msgs))
	}
	msg := notifier.msgs[0]
	if msg.Kind != notify.KindArmReport {
		t.Errorf("Expected kind %s, got %s", notify.KindArmReport, msg.Kind)
	}
	if msg.ThreadID == nil || *msg.ThreadID != 405 {
		t.Errorf("Expected thread 405, got %v", msg.ThreadID)
	}
	if !strings.Contains(msg.Text, "ARM count limit reached (12 / 10)") {
		t.Errorf("Expected count violation in text, got:\n%s", msg.Text)
	}
}

func TestIngest_DuplicatesIgnored(t *testing.T) {
	svc, store, notifier := newService()
	row := []byte(`{"ts":"2025-09-06 18:52:28","boat":133,"arms":3,"arm_sec":10,"qstab_sec":1}` + "\n")

	if _, err := svc.Ingest(context.Background(), row, ""); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	saved, err := svc.Ingest(context.Background(), row, "")
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if saved != 0 {
		t.Errorf("Expected 0 saved on retransmission, got %d", saved)
	}
	if len(store.ArmReports()) != 1 || len(notifier.msgs) != 1 {
		t.Errorf("Expected 1 report and 1 notification, got %d and %d", len(store.ArmReports()), len(notifier.msgs))
	}
}

func TestIngest_Gzip(t *testing.T) {
	svc, _, _ := newService()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(`{"ts":"2025-09-06 18:52:28","boat":133,"arms":1}` + "\n"))
	zw.Close()

	saved, err := svc.Ingest(context.Background(), buf.Bytes(), "gzip")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if saved != 1 {
		t.Errorf("Expected 1 saved row, got %d", saved)
	}
}

func TestIngest_EmptyPayload(t *testing.T) {
	svc, _, _ := newService()

	for _, body := range []string{"", "garbage\n"} {
		_, err := svc.Ingest(context.Background(), []byte(body), "")
		if !errors.Is(err, armreport.ErrEmptyPayload) {
			t.Errorf("Expected ErrEmptyPayload for %q, got %v", body, err)
		}
	}
}

func TestProgress(t *testing.T) {
	p := armreport.Progress{
		Report: db.ArmReport{
			BoardNumber: 133,
			TS:          time.Date(2025, 9, 6, 18, 52, 28, 0, time.UTC),
			Arms:        8,
			ArmSec:      400,
			QStabSec:    14,
		},
		Limits: armreport.DefaultLimits(),
	}

	if got := p.CountPct(); got != 80 {
		t.Errorf("Expected count 80%%, got %d", got)
	}
	if got := p.TimePct(); got != 100 {
		t.Errorf("Expected time capped at 100%%, got %d", got)
	}
	if got := p.QStabPct(); got != 47 {
		t.Errorf("Expected qstab 47%%, got %d", got)
	}

	violations := p.Violations()
	if len(violations) != 1 || violations[0] != "ARM time limit reached (6m 40s / 5m 50s)" {
		t.Errorf("Expected only the ARM time violation, got %v", violations)
	}

	text := p.Text()
	for _, want := range []string{
		"📟 Board: #133",
		"⏱️ Time: 18:52:28 06.09.2025 UTC",
		"• ARM count: 80% (8 / 10), left: 2",
		"• Time under ARM: 100% (6m 40s / 5m 50s), left: 0s",
		"• Time in QSTAB: 47% (14s / 30s), left: 16s",
		"• ARM count threshold reached: 75%",
		"• ARM time threshold reached: 100%",
		"• QSTAB time threshold reached: -",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected text to contain %q, got:\n%s", want, text)
		}
	}
}

func TestCurrentThreshold(t *testing.T) {
	tests := []struct {
		pct  int
		want int
	}{
		{0, 0},
		{49, 0},
		{50, 50},
		{74, 50},
		{89, 75},
		{90, 90},
		{100, 100},
	}
	for _, tt := range tests {
		if got := armreport.CurrentThreshold(tt.pct); got != tt.want {
			t.Errorf("CurrentThreshold(%d): expected %d, got %d", tt.pct, tt.want, got)
		}
	}
}
