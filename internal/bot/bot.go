package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"blackspire-bot/internal/analytics"
	"blackspire-bot/internal/config"
	"blackspire-bot/internal/counting"
	"blackspire-bot/internal/modules/audit"
	"blackspire-bot/internal/permissions"
	"blackspire-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     storage.Backend
	moderator *counting.Moderator
	audit     *audit.Logger
	analytics *analytics.Service
	perms     *permissions.Checker
	session   *discordgo.Session
	dispatch  *dispatcher

	loadOnce sync.Once
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg config.Config, logger *zap.Logger, store storage.Backend, moderator *counting.Moderator, auditLogger *audit.Logger, analyticsEngine *analytics.Service, perms *permissions.Checker) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	// Handlers run on the gateway reader in arrival order. Anything slow is
	// moved off it explicitly.
	session.SyncEvents = true

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		moderator: moderator,
		audit:     auditLogger,
		analytics: analyticsEngine,
		perms:     perms,
		session:   session,
	}
	b.dispatch = newDispatcher(b.decide)
	if b.audit != nil && cfg.AuditChannelID != "" {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			go b.notifyAudit(entry)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(func(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
		go b.onInteractionCreate(session, interaction)
	})

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.stop = cancel
	b.startRetention(ctx)

	return nil
}

func (b *Bot) Close(ctx context.Context) {
	if b.stop != nil {
		b.stop()
	}
	done := make(chan struct{})
	go func() {
		b.dispatch.Close()
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))

	b.loadOnce.Do(func() {
		guildIDs := make([]string, 0, len(event.Guilds))
		for _, guild := range event.Guilds {
			guildIDs = append(guildIDs, guild.ID)
		}
		go func() {
			started := time.Now()
			if err := b.moderator.LoadAll(context.Background(), guildIDs); err != nil {
				b.logger.Error("counting hydration incomplete", zap.Error(err))
			}
			b.logger.Info("counting ready", zap.Int("guilds", len(guildIDs)), zap.Duration("took", time.Since(started)))
		}()
	})
}

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	guildID := event.ID
	go func() {
		if err := b.moderator.Hydrate(context.Background(), guildID); err != nil {
			b.logger.Warn("guild hydration failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	}()
}

func (b *Bot) onGuildDelete(session *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	b.moderator.Forget(event.ID)
	b.logger.Info("left guild", zap.String("guild_id", event.ID))
}

// onMessageCreate runs on the gateway reader, so it only queues the message.
func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" || !b.moderator.Serves(msg.GuildID, msg.ChannelID) {
		return
	}
	b.dispatch.Submit(submission{
		guildID:   msg.GuildID,
		channelID: msg.ChannelID,
		messageID: msg.ID,
		authorID:  msg.Author.ID,
		content:   msg.Content,
		reference: msg.Reference(),
	})
}

func (b *Bot) decide(sub submission) {
	ctx := context.Background()
	sig := b.moderator.Process(ctx, sub.guildID, sub.channelID, sub.authorID, sub.content)
	if sig.Kind == counting.Ignored {
		if sig.Reason == counting.ReasonNotReady {
			b.logger.Debug("counting not ready", zap.String("guild_id", sub.guildID), zap.String("channel_id", sub.channelID))
		}
		return
	}

	out := renderSignal(sub.channelID, sig)
	for _, emoji := range out.Emojis {
		if err := b.session.MessageReactionAdd(sub.channelID, sub.messageID, emoji); err != nil {
			b.logger.Warn("reaction failed",
				zap.String("guild_id", sub.guildID),
				zap.String("channel_id", sub.channelID),
				zap.String("emoji", emoji),
				zap.Error(err))
			break
		}
	}
	if out.Reply != "" {
		if _, err := b.session.ChannelMessageSendReply(sub.channelID, out.Reply, sub.reference); err != nil {
			b.logger.Warn("reply failed",
				zap.String("guild_id", sub.guildID),
				zap.String("channel_id", sub.channelID),
				zap.Error(err))
		}
	}
	if out.AuditEvent != "" && b.audit != nil {
		b.audit.Log(ctx, out.AuditLevel, sub.guildID, sub.authorID, out.AuditEvent, out.AuditDetails)
	}
}

// notifyAudit posts an audit entry to the configured audit channel.
func (b *Bot) notifyAudit(entry storage.AuditLog) {
	if _, err := b.session.ChannelMessageSendEmbed(b.cfg.AuditChannelID, b.auditEmbed(entry)); err != nil {
		b.logger.Warn("audit notify failed", zap.String("guild_id", entry.GuildID), zap.String("event", entry.Event), zap.Error(err))
	}
}

func (b *Bot) auditEmbed(entry storage.AuditLog) *discordgo.MessageEmbed {
	color := b.cfg.EmbedColors.Success
	if entry.Level != audit.LevelInfo {
		color = b.cfg.EmbedColors.Warning
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Guild", Value: entry.GuildID, Inline: true},
	}
	if entry.UserID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "User", Value: "<@" + entry.UserID + ">", Inline: true})
	}
	if entry.Details != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: entry.Details})
	}
	embed := b.commandEmbed("📝 "+eventLabel(entry.Event), "", color, fields)
	embed.Timestamp = entry.CreatedAt.Format(time.RFC3339)
	return embed
}

// startRetention drops audit rows older than retention_days once a day.
func (b *Bot) startRetention(ctx context.Context) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.cleanupAudit(ctx)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.cleanupAudit(ctx)
			}
		}
	}()
}

func (b *Bot) cleanupAudit(ctx context.Context) {
	if err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays); err != nil {
		b.logger.Warn("audit cleanup failed", zap.Error(err))
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	}); err != nil {
		b.logger.Warn("interaction response failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}

func formatReport(report analytics.Report) string {
	if report.Total == 0 {
		return "No counting activity recorded."
	}
	lines := make([]string, 0, len(report.ByEvent)+1)
	lines = append(lines, fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d",
		report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit]))
	for _, row := range report.Events() {
		lines = append(lines, fmt.Sprintf("• %s: %d", eventLabel(row.Event), row.Count))
	}
	return strings.Join(lines, "\n")
}

func eventLabel(event string) string {
	switch event {
	case audit.EventSetup:
		return "Channels set up"
	case audit.EventDisabled:
		return "Channels disabled"
	case audit.EventReset:
		return "Count resets"
	case audit.EventMilestone:
		return "Milestones reached"
	case audit.EventSettings:
		return "Settings changes"
	case audit.EventPermissionGrant:
		return "Permissions granted"
	case audit.EventPermissionRevoke:
		return "Permissions revoked"
	default:
		return event
	}
}
