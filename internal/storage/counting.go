package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"blackspire-bot/internal/counting"
)

func (s *Store) ListCountingChannels(ctx context.Context, guildID string) ([]counting.Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT guild_id, channel_id, current_count, last_author_id, enabled
		FROM counting_channels
		WHERE guild_id = ? AND enabled = 1
		ORDER BY channel_id
	`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []counting.Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	return channels, rows.Err()
}

func (s *Store) GetChannel(ctx context.Context, guildID, channelID string) (counting.Channel, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guild_id, channel_id, current_count, last_author_id, enabled
		FROM counting_channels
		WHERE guild_id = ? AND channel_id = ?
	`, guildID, channelID)
	channel, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return counting.Channel{}, false, nil
		}
		return counting.Channel{}, false, err
	}
	return channel, true, nil
}

func (s *Store) CreateChannel(ctx context.Context, guildID, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counting_channels (guild_id, channel_id, current_count, last_author_id, enabled, updated_at)
		VALUES (?, ?, 0, NULL, 1, ?)
		ON CONFLICT(guild_id, channel_id) DO NOTHING
	`, guildID, channelID, time.Now().Unix())
	return err
}

func (s *Store) SetChannelEnabled(ctx context.Context, guildID, channelID string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE counting_channels SET enabled = ?, updated_at = ?
		WHERE guild_id = ? AND channel_id = ?
	`, boolToInt(enabled), time.Now().Unix(), guildID, channelID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpsertChannelState(ctx context.Context, guildID, channelID string, count int64, lastAuthorID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counting_channels (guild_id, channel_id, current_count, last_author_id, enabled, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(guild_id, channel_id) DO UPDATE SET
			current_count = excluded.current_count,
			last_author_id = excluded.last_author_id,
			updated_at = excluded.updated_at
	`, guildID, channelID, count, nullString(lastAuthorID), time.Now().Unix())
	return err
}

func (s *Store) ResetChannelState(ctx context.Context, guildID, channelID string) error {
	return s.UpsertChannelState(ctx, guildID, channelID, 0, "")
}

func (s *Store) GetSettings(ctx context.Context, guildID string) (counting.Settings, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT enabled, reset_on_wrong, allow_double_counting, milestones
		FROM counting_settings WHERE guild_id = ?`, guildID)

	var enabled, resetOnWrong, allowDouble int
	var milestones sql.NullString
	if err := row.Scan(&enabled, &resetOnWrong, &allowDouble, &milestones); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return counting.Settings{}, false, nil
		}
		return counting.Settings{}, false, err
	}

	settings := counting.Settings{
		Enabled:             enabled == 1,
		ResetOnWrong:        resetOnWrong == 1,
		AllowDoubleCounting: allowDouble == 1,
	}
	if milestones.Valid {
		parsed, err := DecodeMilestones(milestones.String)
		if err != nil {
			return counting.Settings{}, false, err
		}
		settings.Milestones = parsed
	}
	return settings, true, nil
}

func (s *Store) UpsertSettings(ctx context.Context, guildID string, settings counting.Settings) error {
	var milestones sql.NullString
	if settings.Milestones != nil {
		milestones = sql.NullString{String: EncodeMilestones(settings.Milestones), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counting_settings (guild_id, enabled, reset_on_wrong, allow_double_counting, milestones, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			reset_on_wrong = excluded.reset_on_wrong,
			allow_double_counting = excluded.allow_double_counting,
			milestones = excluded.milestones,
			updated_at = excluded.updated_at
	`,
		guildID,
		boolToInt(settings.Enabled),
		boolToInt(settings.ResetOnWrong),
		boolToInt(settings.AllowDoubleCounting),
		milestones,
		time.Now().Unix(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (counting.Channel, error) {
	var channel counting.Channel
	var lastAuthor sql.NullString
	var enabled int
	if err := row.Scan(&channel.GuildID, &channel.ChannelID, &channel.Count, &lastAuthor, &enabled); err != nil {
		return counting.Channel{}, err
	}
	channel.LastAuthorID = lastAuthor.String
	channel.Enabled = enabled == 1
	return channel, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
