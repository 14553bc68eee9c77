package audit

import (
	"context"
	"time"

	"blackspire-bot/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventSetup            = "counting_setup"
	EventDisabled         = "counting_disabled"
	EventReset            = "counting_reset"
	EventMilestone        = "counting_milestone"
	EventSettings         = "counting_settings"
	EventPermissionGrant  = "permission_grant"
	EventPermissionRevoke = "permission_revoke"
)

type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

type Logger struct {
	store  Sink
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
	now    func() time.Time
}

func NewLogger(store Sink, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger, now: time.Now}
}

// SetNotifier registers a callback run after each entry is recorded.
func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit persist failed", zap.String("guild_id", guildID), zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("audit",
		zap.String("level", level),
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.String("details", details))
}
