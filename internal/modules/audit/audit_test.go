package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"blackspire-bot/internal/storage"

	"go.uber.org/zap"
)

type memorySink struct {
	entries []storage.AuditLog
	err     error
}

func (s *memorySink) AddAuditLog(ctx context.Context, log storage.AuditLog) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, log)
	return nil
}

func TestLogPersistsAndNotifies(t *testing.T) {
	sink := &memorySink{}
	logger := NewLogger(sink, zap.NewNop())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	logger.now = func() time.Time { return fixed }

	var notified []string
	logger.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
		notified = append(notified, entry.Event)
	})

	logger.Log(context.Background(), LevelInfo, "g1", "u1", EventMilestone, "channel=c1 count=100")

	if len(sink.entries) != 1 {
		t.Fatalf("expected one stored entry, got %d", len(sink.entries))
	}
	entry := sink.entries[0]
	if entry.GuildID != "g1" || entry.Event != EventMilestone || !entry.CreatedAt.Equal(fixed) {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if len(notified) != 1 || notified[0] != EventMilestone {
		t.Fatalf("expected notifier call, got %v", notified)
	}
}

func TestLogSurvivesStoreFailure(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	logger := NewLogger(sink, zap.NewNop())

	called := false
	logger.SetNotifier(func(context.Context, storage.AuditLog) { called = true })
	logger.Log(context.Background(), LevelWarn, "g1", "u1", EventReset, "")

	if !called {
		t.Fatalf("notifier should still run when the store fails")
	}
}

func TestLogWithoutStore(t *testing.T) {
	logger := NewLogger(nil, zap.NewNop())
	logger.Log(context.Background(), LevelInfo, "g1", "", EventSetup, "")
}
