package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"blackspire-bot/internal/counting"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS counting_channels (
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		current_count BIGINT NOT NULL DEFAULT 0,
		last_author_id TEXT,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (guild_id, channel_id)
	)`,
	`CREATE TABLE IF NOT EXISTS counting_settings (
		guild_id TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		reset_on_wrong BOOLEAN NOT NULL DEFAULT TRUE,
		allow_double_counting BOOLEAN NOT NULL DEFAULT FALSE,
		milestones TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS command_permissions (
		guild_id TEXT NOT NULL,
		command_name TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		PRIMARY KEY (guild_id, command_name, target_type, target_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		guild_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		level TEXT NOT NULL,
		event TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_logs_guild_created ON audit_logs (guild_id, created_at)`,
}

// PGStore is the Postgres backend, for deployments that share one database
// between bot instances.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPG(ctx context.Context, url string) (*PGStore, error) {
	if url == "" {
		return nil, errors.New("postgres url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PGStore) Migrate(ctx context.Context) error {
	for i, statement := range pgSchema {
		if _, err := s.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}

func (s *PGStore) ListCountingChannels(ctx context.Context, guildID string) ([]counting.Channel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT guild_id, channel_id, current_count, last_author_id, enabled
		FROM counting_channels
		WHERE guild_id = $1 AND enabled
		ORDER BY channel_id
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []counting.Channel
	for rows.Next() {
		channel, err := scanPGChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

func (s *PGStore) GetChannel(ctx context.Context, guildID, channelID string) (counting.Channel, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT guild_id, channel_id, current_count, last_author_id, enabled
		FROM counting_channels
		WHERE guild_id = $1 AND channel_id = $2
	`, guildID, channelID)
	channel, err := scanPGChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return counting.Channel{}, false, nil
		}
		return counting.Channel{}, false, err
	}
	return channel, true, nil
}

func (s *PGStore) CreateChannel(ctx context.Context, guildID, channelID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO counting_channels (guild_id, channel_id, current_count, last_author_id, enabled, updated_at)
		VALUES ($1, $2, 0, NULL, TRUE, now())
		ON CONFLICT (guild_id, channel_id) DO NOTHING
	`, guildID, channelID)
	return err
}

func (s *PGStore) SetChannelEnabled(ctx context.Context, guildID, channelID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE counting_channels SET enabled = $3, updated_at = now()
		WHERE guild_id = $1 AND channel_id = $2
	`, guildID, channelID, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) UpsertChannelState(ctx context.Context, guildID, channelID string, count int64, lastAuthorID string) error {
	var author *string
	if lastAuthorID != "" {
		author = &lastAuthorID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO counting_channels (guild_id, channel_id, current_count, last_author_id, enabled, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, now())
		ON CONFLICT (guild_id, channel_id) DO UPDATE SET
			current_count = excluded.current_count,
			last_author_id = excluded.last_author_id,
			updated_at = excluded.updated_at
	`, guildID, channelID, count, author)
	return err
}

func (s *PGStore) ResetChannelState(ctx context.Context, guildID, channelID string) error {
	return s.UpsertChannelState(ctx, guildID, channelID, 0, "")
}

func (s *PGStore) GetSettings(ctx context.Context, guildID string) (counting.Settings, bool, error) {
	var settings counting.Settings
	var milestones *string
	err := s.pool.QueryRow(ctx, `
		SELECT enabled, reset_on_wrong, allow_double_counting, milestones
		FROM counting_settings WHERE guild_id = $1
	`, guildID).Scan(&settings.Enabled, &settings.ResetOnWrong, &settings.AllowDoubleCounting, &milestones)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return counting.Settings{}, false, nil
		}
		return counting.Settings{}, false, err
	}
	if milestones != nil {
		parsed, err := DecodeMilestones(*milestones)
		if err != nil {
			return counting.Settings{}, false, err
		}
		settings.Milestones = parsed
	}
	return settings, true, nil
}

func (s *PGStore) UpsertSettings(ctx context.Context, guildID string, settings counting.Settings) error {
	var milestones *string
	if settings.Milestones != nil {
		encoded := EncodeMilestones(settings.Milestones)
		milestones = &encoded
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO counting_settings (guild_id, enabled, reset_on_wrong, allow_double_counting, milestones, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			reset_on_wrong = excluded.reset_on_wrong,
			allow_double_counting = excluded.allow_double_counting,
			milestones = excluded.milestones,
			updated_at = excluded.updated_at
	`, guildID, settings.Enabled, settings.ResetOnWrong, settings.AllowDoubleCounting, milestones)
	return err
}

func (s *PGStore) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt)
	return err
}

func (s *PGStore) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`, guildID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &log.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *PGStore) CleanupAuditLogs(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	return err
}

func (s *PGStore) AddCommandGrant(ctx context.Context, grant CommandGrant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO command_permissions (guild_id, command_name, target_type, target_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, grant.GuildID, strings.ToLower(grant.Command), grant.TargetType, grant.TargetID)
	return err
}

func (s *PGStore) RemoveCommandGrant(ctx context.Context, grant CommandGrant) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM command_permissions
		WHERE guild_id = $1 AND command_name = $2 AND target_type = $3 AND target_id = $4
	`, grant.GuildID, strings.ToLower(grant.Command), grant.TargetType, grant.TargetID)
	return err
}

func (s *PGStore) ListCommandGrants(ctx context.Context, guildID, command string) ([]CommandGrant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT guild_id, command_name, target_type, target_id
		FROM command_permissions
		WHERE guild_id = $1 AND command_name = $2
		ORDER BY target_type, target_id
	`, guildID, strings.ToLower(command))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []CommandGrant
	for rows.Next() {
		var grant CommandGrant
		if err := rows.Scan(&grant.GuildID, &grant.Command, &grant.TargetType, &grant.TargetID); err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

func scanPGChannel(row pgx.Row) (counting.Channel, error) {
	var channel counting.Channel
	var lastAuthor *string
	if err := row.Scan(&channel.GuildID, &channel.ChannelID, &channel.Count, &lastAuthor, &channel.Enabled); err != nil {
		return counting.Channel{}, err
	}
	if lastAuthor != nil {
		channel.LastAuthorID = *lastAuthor
	}
	return channel, nil
}
