package main

import (
	"testing"
	"time"

	"github.com/septivank/fleetwatch/internal/config"
	"github.com/septivank/fleetwatch/internal/ingest"
	"go.uber.org/fx"
)

func TestServeModule_GraphIsComplete(t *testing.T) {
	if err := fx.ValidateApp(serveModule(serveOptions{Migrate: true})); err != nil {
		t.Fatalf("Expected a complete dependency graph, got %v", err)
	}
}

func TestPresenceConfig(t *testing.T) {
	cfg := &config.Config{
		PublicBaseURL: "https://fleet.example",
		Presence: config.PresenceConfig{
			InactiveMinutes:  3,
			ProlongedMinutes: 10,
			SweepInterval:    30 * time.Second,
			SweepRetries:     2,
			SweepConcurrency: 4,
			PowerOnMinVolt:   11,
		},
		Ingest: config.IngestConfig{ClockSkew: 5 * time.Minute},
	}

	pc := presenceConfig(cfg)
	if pc.Inactive != 3*time.Minute || pc.Prolonged != 10*time.Minute {
		t.Errorf("Expected 3m/10m thresholds, got %v/%v", pc.Inactive, pc.Prolonged)
	}
	if pc.SweepRetries != 2 || pc.SweepConcurrency != 4 {
		t.Errorf("Expected 2 retries and concurrency 4, got %d/%d", pc.SweepRetries, pc.SweepConcurrency)
	}
	if pc.PublicBaseURL != "https://fleet.example" {
		t.Errorf("Expected base url to carry over, got %s", pc.PublicBaseURL)
	}
	if pc.MaxClockSkew != 5*time.Minute {
		t.Errorf("Expected ingest clock skew to carry over, got %v", pc.MaxClockSkew)
	}
	if pc.RetryInitialInterval <= 0 {
		t.Errorf("Expected default retry interval, got %v", pc.RetryInitialInterval)
	}
}

func TestOptionalThread(t *testing.T) {
	if optionalThread(0) != nil {
		t.Error("Expected nil thread for 0")
	}
	if th := optionalThread(405); th == nil || *th != 405 {
		t.Errorf("Expected thread 405, got %v", th)
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "sweep", "migrate", "publish"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %s, got %v (%v)", name, cmd, err)
		}
	}
}

func TestSyntheticFlight_DecodesAsOneSession(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	body, err := syntheticFlight(7, "s1", 5, now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	gz, err := gzipBody(body)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	batch, err := ingest.Decode(gz, "application/x-ndjson", "gzip", 0)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(batch.Records) != 5 || batch.BadLines != 0 {
		t.Fatalf("Expected 5 records and no bad lines, got %d/%d", len(batch.Records), batch.BadLines)
	}

	board, last, err := ingest.Normalize(batch.Records[4], now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if board != 7 {
		t.Errorf("Expected board 7, got %d", board)
	}
	if !last.TS.Equal(now) {
		t.Errorf("Expected last sample at %v, got %v", now, last.TS)
	}
	if last.Sess == nil || *last.Sess != "s1" {
		t.Errorf("Expected session s1, got %v", last.Sess)
	}
	if !last.Arm || !last.HasPosition() {
		t.Errorf("Expected an armed positioned sample, got arm=%v position=%v", last.Arm, last.HasPosition())
	}
}
