package analytics

import (
	"context"
	"testing"
	"time"

	"blackspire-bot/internal/storage"
)

func TestReportCountsEvents(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Now()
	entries := []storage.AuditLog{
		{GuildID: "g1", Level: "WARN", Event: "counting_reset", CreatedAt: now},
		{GuildID: "g1", Level: "WARN", Event: "counting_reset", CreatedAt: now},
		{GuildID: "g1", Level: "INFO", Event: "counting_milestone", CreatedAt: now},
		{GuildID: "g1", Level: "INFO", Event: "counting_setup", CreatedAt: now.AddDate(0, 0, -10)},
		{GuildID: "g2", Level: "INFO", Event: "counting_milestone", CreatedAt: now},
	}
	for _, entry := range entries {
		if err := store.AddAuditLog(ctx, entry); err != nil {
			t.Fatalf("add audit log: %v", err)
		}
	}

	report, err := New(store).Report(ctx, "g1", now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Total != 3 {
		t.Fatalf("expected 3 events, got %d", report.Total)
	}
	if report.ByLevel["WARN"] != 2 || report.ByEvent["counting_milestone"] != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}

	events := report.Events()
	if len(events) != 2 || events[0].Event != "counting_reset" || events[0].Count != 2 {
		t.Fatalf("unexpected ordering %+v", events)
	}
}
