package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"blackspire-bot/internal/counting"
)

var ErrNotFound = errors.New("record not found")

const (
	GrantUser = "user"
	GrantRole = "role"
)

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

// CommandGrant allows one user or role to run a command in a guild.
type CommandGrant struct {
	GuildID    string
	Command    string
	TargetType string
	TargetID   string
}

// Backend is what the bot needs from either database.
type Backend interface {
	counting.Roster
	counting.Store

	AddAuditLog(ctx context.Context, log AuditLog) error
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error)
	CleanupAuditLogs(ctx context.Context, retentionDays int) error

	AddCommandGrant(ctx context.Context, grant CommandGrant) error
	RemoveCommandGrant(ctx context.Context, grant CommandGrant) error
	ListCommandGrants(ctx context.Context, guildID, command string) ([]CommandGrant, error)

	Migrate(ctx context.Context) error
	Close()
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*PGStore)(nil)
)

// Open connects to the configured driver and runs migrations.
func Open(ctx context.Context, driver, sqlitePath, postgresURL string) (Backend, error) {
	var backend Backend
	switch strings.ToLower(driver) {
	case "", "sqlite":
		store, err := New(sqlitePath)
		if err != nil {
			return nil, err
		}
		backend = store
	case "postgres", "postgresql":
		store, err := NewPG(ctx, postgresURL)
		if err != nil {
			return nil, err
		}
		backend = store
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err := backend.Migrate(ctx); err != nil {
		backend.Close()
		return nil, err
	}
	return backend, nil
}

// EncodeMilestones stores milestones as "100,500,1000".
func EncodeMilestones(values []int64) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strconv.FormatInt(v, 10))
	}
	return strings.Join(parts, ",")
}

func DecodeMilestones(raw string) ([]int64, error) {
	values := []int64{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid milestone %q: %w", part, err)
		}
		values = append(values, v)
	}
	return values, nil
}
