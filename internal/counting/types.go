package counting

import (
	"context"
	"slices"
)

// DefaultMilestones applies when a guild has no milestone list of its own.
var DefaultMilestones = []int64{100, 500, 1000, 5000, 10000}

type Channel struct {
	GuildID      string
	ChannelID    string
	Count        int64
	LastAuthorID string
	Enabled      bool
}

type Settings struct {
	Enabled             bool
	ResetOnWrong        bool
	AllowDoubleCounting bool
	Milestones          []int64
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:             true,
		ResetOnWrong:        true,
		AllowDoubleCounting: false,
		Milestones:          slices.Clone(DefaultMilestones),
	}
}

func (s Settings) IsMilestone(value int64) bool {
	return slices.Contains(s.Milestones, value)
}

// NextMilestone returns the smallest milestone strictly above count.
func (s Settings) NextMilestone(count int64) (int64, bool) {
	next := int64(0)
	found := false
	for _, m := range s.Milestones {
		if m > count && (!found || m < next) {
			next = m
			found = true
		}
	}
	return next, found
}

// Roster lists the counting channels configured for a guild.
type Roster interface {
	ListCountingChannels(ctx context.Context, guildID string) ([]Channel, error)
}

// Store is the durable side of the moderator. Writes are upserts keyed by
// (guild, channel) so replaying one is harmless.
type Store interface {
	GetSettings(ctx context.Context, guildID string) (Settings, bool, error)
	UpsertSettings(ctx context.Context, guildID string, settings Settings) error
	GetChannel(ctx context.Context, guildID, channelID string) (Channel, bool, error)
	CreateChannel(ctx context.Context, guildID, channelID string) error
	SetChannelEnabled(ctx context.Context, guildID, channelID string, enabled bool) error
	UpsertChannelState(ctx context.Context, guildID, channelID string, count int64, lastAuthorID string) error
	ResetChannelState(ctx context.Context, guildID, channelID string) error
}
