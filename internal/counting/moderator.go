package counting

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var ErrNotRegistered = errors.New("channel is not a counting channel")

type Config struct {
	// Defaults seeds guilds that have never stored settings.
	Defaults    Settings
	Concurrency int
}

type channelState struct {
	mu           sync.Mutex
	count        int64
	lastAuthorID string
	removed      bool
}

type guildState struct {
	settings Settings
	channels map[string]*channelState
}

type Moderator struct {
	mu sync.RWMutex
	// settingsMu serializes UpdateSettings; it is taken before mu.
	settingsMu sync.Mutex
	cfg       Config
	roster    Roster
	store     Store
	logger    *zap.Logger
	guilds    map[string]*guildState
	ready     chan struct{}
	readyOnce sync.Once
}

func New(cfg Config, roster Roster, store Store, logger *zap.Logger) *Moderator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if isZeroSettings(cfg.Defaults) {
		cfg.Defaults = DefaultSettings()
	}
	cfg.Defaults.Milestones = normalizeMilestones(cfg.Defaults.Milestones)
	return &Moderator{
		cfg:    cfg,
		roster: roster,
		store:  store,
		logger: logger,
		guilds: make(map[string]*guildState),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the first LoadAll has finished.
func (m *Moderator) Ready() <-chan struct{} {
	return m.ready
}

func (m *Moderator) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Process evaluates one message against the channel's counting sequence.
// The channel stays locked until the durable write has returned. Callers
// must submit a channel's messages one at a time in arrival order; the
// lock alone does not order concurrent callers.
func (m *Moderator) Process(ctx context.Context, guildID, channelID, authorID, raw string) Signal {
	if !m.IsReady() {
		return ignored(ReasonNotReady)
	}
	ch, settings, ok := m.lookup(guildID, channelID)
	if !ok {
		return ignored(ReasonNotConfigured)
	}
	if !settings.Enabled {
		return ignored(ReasonDisabled)
	}
	number, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	// An integer too large for int64 is still a count attempt, and never the expected one.
	outOfRange := errors.Is(err, strconv.ErrRange)
	if err != nil && !outOfRange {
		return ignored(ReasonNotNumeric)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.removed {
		return ignored(ReasonNotConfigured)
	}

	expected := ch.count + 1
	if outOfRange || number != expected {
		return m.reject(ctx, guildID, channelID, ch, settings, expected, ViolationSequence)
	}
	if !settings.AllowDoubleCounting && ch.lastAuthorID != "" && ch.lastAuthorID == authorID {
		return m.reject(ctx, guildID, channelID, ch, settings, expected, ViolationAuthorRepeat)
	}

	ch.count = number
	ch.lastAuthorID = authorID
	if err := m.store.UpsertChannelState(ctx, guildID, channelID, number, authorID); err != nil {
		m.logger.Warn("counting state persist failed",
			zap.String("guild_id", guildID),
			zap.String("channel_id", channelID),
			zap.Int64("count", number),
			zap.Error(err))
	}
	return accepted(number, settings.IsMilestone(number))
}

// reject must be called with ch.mu held.
func (m *Moderator) reject(ctx context.Context, guildID, channelID string, ch *channelState, settings Settings, expected int64, violation Violation) Signal {
	if !settings.ResetOnWrong {
		return rejected(expected, violation, false)
	}
	ch.count = 0
	ch.lastAuthorID = ""
	if err := m.store.ResetChannelState(ctx, guildID, channelID); err != nil {
		m.logger.Warn("counting reset persist failed",
			zap.String("guild_id", guildID),
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
	return rejected(expected, violation, true)
}

// Register enables counting in a channel. A new channel starts at zero; a
// disabled one comes back with its previous count. The returned flag reports
// whether the stored channel was already enabled.
func (m *Moderator) Register(ctx context.Context, guildID, channelID string) (Channel, bool, error) {
	settings, err := m.ensureSettings(ctx, guildID)
	if err != nil {
		return Channel{}, false, err
	}

	channel, found, err := m.store.GetChannel(ctx, guildID, channelID)
	if err != nil {
		return Channel{}, false, fmt.Errorf("load channel: %w", err)
	}
	already := found && channel.Enabled
	switch {
	case !found:
		if err := m.store.CreateChannel(ctx, guildID, channelID); err != nil {
			return Channel{}, false, fmt.Errorf("create channel: %w", err)
		}
		channel = Channel{GuildID: guildID, ChannelID: channelID, Enabled: true}
	case !channel.Enabled:
		if err := m.store.SetChannelEnabled(ctx, guildID, channelID, true); err != nil {
			return Channel{}, false, fmt.Errorf("enable channel: %w", err)
		}
		channel.Enabled = true
	}

	if !m.serving(guildID) {
		// Pull the whole guild so channels from a failed hydration are not lost.
		if err := m.hydrate(ctx, guildID); err != nil {
			return channel, already, err
		}
	} else {
		m.installChannel(guildID, settings, channel)
	}

	if snap, ok := m.Snapshot(guildID, channelID); ok {
		return snap, already, nil
	}
	return channel, already, nil
}

// Serves reports whether channelID is a cached counting channel. It does not
// wait on the channel's lock.
func (m *Moderator) Serves(guildID, channelID string) bool {
	_, _, ok := m.lookup(guildID, channelID)
	return ok
}

// Deregister turns counting off for a channel but keeps its record.
func (m *Moderator) Deregister(ctx context.Context, guildID, channelID string) error {
	if _, found, err := m.store.GetChannel(ctx, guildID, channelID); err != nil {
		return fmt.Errorf("load channel: %w", err)
	} else if !found {
		return ErrNotRegistered
	}

	ch, _, cached := m.lookup(guildID, channelID)
	if cached {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		// Flush first so a later re-enable resumes from what players saw.
		if err := m.store.UpsertChannelState(ctx, guildID, channelID, ch.count, ch.lastAuthorID); err != nil {
			m.logger.Warn("counting state flush failed",
				zap.String("guild_id", guildID),
				zap.String("channel_id", channelID),
				zap.Error(err))
		}
	}

	if err := m.store.SetChannelEnabled(ctx, guildID, channelID, false); err != nil {
		return fmt.Errorf("disable channel: %w", err)
	}

	if cached {
		ch.removed = true
		m.mu.Lock()
		if guild := m.guilds[guildID]; guild != nil && guild.channels[channelID] == ch {
			delete(guild.channels, channelID)
		}
		m.mu.Unlock()
	}
	return nil
}

// LoadAll hydrates every guild in guildIDs. A guild that cannot be read is
// left out of the cache; its error is part of the returned error and the
// remaining guilds are still loaded.
func (m *Moderator) LoadAll(ctx context.Context, guildIDs []string) error {
	var (
		errMu sync.Mutex
		errs  error
	)
	var group errgroup.Group
	group.SetLimit(m.cfg.Concurrency)
	for _, guildID := range guildIDs {
		guildID := guildID
		group.Go(func() error {
			if err := m.hydrate(ctx, guildID); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	m.readyOnce.Do(func() { close(m.ready) })
	return errs
}

// Hydrate loads a single guild unless it is already served.
func (m *Moderator) Hydrate(ctx context.Context, guildID string) error {
	return m.hydrate(ctx, guildID)
}

func (m *Moderator) hydrate(ctx context.Context, guildID string) error {
	if m.serving(guildID) {
		return nil
	}
	channels, err := m.roster.ListCountingChannels(ctx, guildID)
	if err != nil {
		m.logger.Warn("counting hydration failed", zap.String("guild_id", guildID), zap.Error(err))
		return fmt.Errorf("hydrate guild %s: %w", guildID, err)
	}
	settings, found, err := m.store.GetSettings(ctx, guildID)
	if err != nil {
		m.logger.Warn("counting settings load failed", zap.String("guild_id", guildID), zap.Error(err))
		return fmt.Errorf("hydrate guild %s settings: %w", guildID, err)
	}
	if !found {
		settings = m.defaults()
	}
	settings = m.fillMilestones(settings)

	state := &guildState{settings: settings, channels: make(map[string]*channelState, len(channels))}
	for _, channel := range channels {
		if !channel.Enabled {
			continue
		}
		state.channels[channel.ChannelID] = &channelState{count: channel.Count, lastAuthorID: channel.LastAuthorID}
	}

	m.mu.Lock()
	if _, exists := m.guilds[guildID]; !exists {
		m.guilds[guildID] = state
	}
	m.mu.Unlock()
	m.logger.Debug("counting guild hydrated", zap.String("guild_id", guildID), zap.Int("channels", len(state.channels)))
	return nil
}

// Forget drops a guild from the cache, e.g. when the bot leaves it.
func (m *Moderator) Forget(guildID string) {
	m.mu.Lock()
	guild := m.guilds[guildID]
	delete(m.guilds, guildID)
	m.mu.Unlock()
	if guild == nil {
		return
	}
	for _, ch := range guild.channels {
		ch.mu.Lock()
		ch.removed = true
		ch.mu.Unlock()
	}
}

func (m *Moderator) Snapshot(guildID, channelID string) (Channel, bool) {
	ch, _, ok := m.lookup(guildID, channelID)
	if !ok {
		return Channel{}, false
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.removed {
		return Channel{}, false
	}
	return Channel{
		GuildID:      guildID,
		ChannelID:    channelID,
		Count:        ch.count,
		LastAuthorID: ch.lastAuthorID,
		Enabled:      true,
	}, true
}

func (m *Moderator) Settings(guildID string) (Settings, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	guild := m.guilds[guildID]
	if guild == nil {
		return Settings{}, false
	}
	return cloneSettings(guild.settings), true
}

// UpdateSettings applies fn to the guild's current settings and stores the
// result before it becomes visible to Process.
func (m *Moderator) UpdateSettings(ctx context.Context, guildID string, fn func(*Settings)) (Settings, error) {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()

	current, ok := m.Settings(guildID)
	if !ok {
		stored, found, err := m.store.GetSettings(ctx, guildID)
		if err != nil {
			return Settings{}, fmt.Errorf("load settings: %w", err)
		}
		current = m.defaults()
		if found {
			current = m.fillMilestones(stored)
		}
	}

	next := cloneSettings(current)
	fn(&next)
	next.Milestones = normalizeMilestones(next.Milestones)
	if err := m.store.UpsertSettings(ctx, guildID, next); err != nil {
		return Settings{}, fmt.Errorf("store settings: %w", err)
	}

	m.mu.Lock()
	if guild := m.guilds[guildID]; guild != nil {
		guild.settings = next
	}
	m.mu.Unlock()
	return cloneSettings(next), nil
}

func (m *Moderator) ensureSettings(ctx context.Context, guildID string) (Settings, error) {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()

	settings, found, err := m.store.GetSettings(ctx, guildID)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if found {
		return m.fillMilestones(settings), nil
	}
	settings = m.defaults()
	if err := m.store.UpsertSettings(ctx, guildID, settings); err != nil {
		return Settings{}, fmt.Errorf("create settings: %w", err)
	}
	return settings, nil
}

func (m *Moderator) installChannel(guildID string, settings Settings, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	guild := m.guilds[guildID]
	if guild == nil {
		guild = &guildState{settings: settings, channels: make(map[string]*channelState)}
		m.guilds[guildID] = guild
	}
	if _, exists := guild.channels[channel.ChannelID]; exists {
		return
	}
	guild.channels[channel.ChannelID] = &channelState{count: channel.Count, lastAuthorID: channel.LastAuthorID}
}

func (m *Moderator) lookup(guildID, channelID string) (*channelState, Settings, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	guild := m.guilds[guildID]
	if guild == nil {
		return nil, Settings{}, false
	}
	ch := guild.channels[channelID]
	if ch == nil {
		return nil, Settings{}, false
	}
	return ch, guild.settings, true
}

func (m *Moderator) serving(guildID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.guilds[guildID]
	return ok
}

func (m *Moderator) defaults() Settings {
	return cloneSettings(m.cfg.Defaults)
}

// fillMilestones gives stored settings without a milestone list the
// configured defaults. An empty, non-nil list means no milestones.
func (m *Moderator) fillMilestones(s Settings) Settings {
	if s.Milestones == nil {
		s.Milestones = slices.Clone(m.cfg.Defaults.Milestones)
		return s
	}
	s.Milestones = normalizeMilestones(s.Milestones)
	return s
}

func cloneSettings(s Settings) Settings {
	s.Milestones = slices.Clone(s.Milestones)
	return s
}

func isZeroSettings(s Settings) bool {
	return !s.Enabled && !s.ResetOnWrong && !s.AllowDoubleCounting && len(s.Milestones) == 0
}

func normalizeMilestones(values []int64) []int64 {
	out := make([]int64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
