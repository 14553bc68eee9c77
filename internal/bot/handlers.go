package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"blackspire-bot/internal/config"
	"blackspire-bot/internal/counting"
	"blackspire-bot/internal/modules/audit"
	"blackspire-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type optionMap map[string]*discordgo.ApplicationCommandInteractionDataOption

func newOptionMap(options []*discordgo.ApplicationCommandInteractionDataOption) optionMap {
	out := make(optionMap, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("❌ Error", "This command can only be used in a server.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	if data.Name != cmdStats && !b.allowed(ctx, interaction, data.Name) {
		b.respondEmbed(session, interaction, b.commandEmbed("❌ Access Denied", "You don't have permission to use this command.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	options := newOptionMap(data.Options)
	switch data.Name {
	case cmdSetup:
		b.handleSetup(ctx, session, interaction)
	case cmdDisable:
		b.handleDisable(ctx, session, interaction, options)
	case cmdStats:
		b.handleStats(session, interaction)
	case cmdSettings:
		b.handleSettings(ctx, session, interaction, options)
	case cmdPermission:
		b.handlePermission(ctx, session, interaction, options)
	case cmdReport:
		b.handleReport(ctx, session, interaction, options)
	}
}

func (b *Bot) allowed(ctx context.Context, interaction *discordgo.InteractionCreate, command string) bool {
	member := interaction.Member
	return b.perms.Allowed(ctx, interaction.GuildID, command, member.User.ID, member.Roles, member.Permissions)
}

func (b *Bot) handleSetup(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	guildID, channelID := interaction.GuildID, interaction.ChannelID
	channel, already, err := b.moderator.Register(ctx, guildID, channelID)
	if err != nil {
		b.logger.Error("counting setup failed", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("❌ Setup Failed", "Failed to setup counting system. Please try again.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	if already {
		desc := fmt.Sprintf("Counting is already enabled in <#%s>.\nThe next number should be: **%d**", channelID, channel.Count+1)
		b.respondEmbed(session, interaction, b.commandEmbed("⚠️ Channel Already Setup", desc, b.cfg.EmbedColors.Warning, nil), true)
		return
	}

	desc := fmt.Sprintf("Counting has been enabled in <#%s>\n\n"+
		"**Rules:**\n"+
		"1️⃣ Only numbers are allowed\n"+
		"2️⃣ Start counting from 1\n"+
		"3️⃣ No back-to-back counting from the same user\n"+
		"4️⃣ Keep the sequence correct\n\n"+
		"The next number should be: **%d**", channelID, channel.Count+1)
	b.respondEmbed(session, interaction, b.commandEmbed("🔢 Counting Setup Complete!", desc, b.cfg.EmbedColors.Success, nil), false)
	b.audit.Log(ctx, audit.LevelInfo, guildID, interaction.Member.User.ID, audit.EventSetup, fmt.Sprintf("channel=%s count=%d", channelID, channel.Count))
}

func (b *Bot) handleDisable(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	channelID := interaction.ChannelID
	if opt, ok := options["channel"]; ok {
		channelID = opt.ChannelValue(nil).ID
	}

	err := b.moderator.Deregister(ctx, interaction.GuildID, channelID)
	switch {
	case errors.Is(err, counting.ErrNotRegistered):
		b.respondEmbed(session, interaction, b.commandEmbed("⚠️ Not a Counting Channel", fmt.Sprintf("<#%s> is not a counting channel.", channelID), b.cfg.EmbedColors.Warning, nil), true)
		return
	case err != nil:
		b.logger.Error("counting disable failed", zap.String("guild_id", interaction.GuildID), zap.String("channel_id", channelID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("❌ Error", "Failed to disable counting. Please try again.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	desc := fmt.Sprintf("Counting has been disabled in <#%s>. Running /%s there again resumes from the saved count.", channelID, cmdSetup)
	b.respondEmbed(session, interaction, b.commandEmbed("🛑 Counting Disabled", desc, b.cfg.EmbedColors.Success, nil), false)
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, interaction.Member.User.ID, audit.EventDisabled, "channel="+channelID)
}

func (b *Bot) handleStats(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	channel, ok := b.moderator.Snapshot(interaction.GuildID, interaction.ChannelID)
	if !ok {
		b.respondEmbed(session, interaction, b.commandEmbed("📊 Counting Statistics", "This is not a counting channel!", b.cfg.EmbedColors.Warning, nil), true)
		return
	}
	settings, _ := b.moderator.Settings(interaction.GuildID)
	b.respondEmbed(session, interaction, b.commandEmbed("📊 Counting Statistics", "", b.cfg.EmbedColors.Success, statsFields(channel, settings)), false)
}

func statsFields(channel counting.Channel, settings counting.Settings) []*discordgo.MessageEmbedField {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Current Count", Value: strconv.FormatInt(channel.Count, 10), Inline: true},
	}
	if channel.LastAuthorID != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Last Counter", Value: "<@" + channel.LastAuthorID + ">", Inline: true})
	}

	var features []string
	if settings.AllowDoubleCounting {
		features = append(features, "Double counting allowed")
	}
	if settings.ResetOnWrong {
		features = append(features, "Resets on wrong number")
	}
	if len(features) > 0 {
		lines := make([]string, len(features))
		for i, feature := range features {
			lines[i] = "• " + feature
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Features", Value: strings.Join(lines, "\n")})
	}

	if next, ok := settings.NextMilestone(channel.Count); ok {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Next Milestone", Value: strconv.FormatInt(next, 10), Inline: true})
	}
	return fields
}

// settingsPatch holds the options given to /counting_settings. Nil fields
// were not supplied.
type settingsPatch struct {
	enabled       *bool
	resetOnWrong  *bool
	allowDouble   *bool
	milestones    []int64
	setMilestones bool
}

func parseSettingsPatch(options optionMap, defaults []int64) (settingsPatch, error) {
	var patch settingsPatch
	if opt, ok := options["enabled"]; ok {
		v := opt.BoolValue()
		patch.enabled = &v
	}
	if opt, ok := options["reset_on_wrong"]; ok {
		v := opt.BoolValue()
		patch.resetOnWrong = &v
	}
	if opt, ok := options["allow_double_counting"]; ok {
		v := opt.BoolValue()
		patch.allowDouble = &v
	}
	if opt, ok := options["milestones"]; ok {
		raw := strings.TrimSpace(opt.StringValue())
		switch strings.ToLower(raw) {
		case "default":
			patch.milestones = slices.Clone(defaults)
		case "none", "":
			patch.milestones = []int64{}
		default:
			values, err := config.ParseMilestones(raw)
			if err != nil {
				return settingsPatch{}, err
			}
			patch.milestones = values
		}
		patch.setMilestones = true
	}
	return patch, nil
}

func (p settingsPatch) empty() bool {
	return p.enabled == nil && p.resetOnWrong == nil && p.allowDouble == nil && !p.setMilestones
}

func (p settingsPatch) apply(s *counting.Settings) {
	if p.enabled != nil {
		s.Enabled = *p.enabled
	}
	if p.resetOnWrong != nil {
		s.ResetOnWrong = *p.resetOnWrong
	}
	if p.allowDouble != nil {
		s.AllowDoubleCounting = *p.allowDouble
	}
	if p.setMilestones {
		s.Milestones = slices.Clone(p.milestones)
	}
}

func settingsFields(settings counting.Settings) []*discordgo.MessageEmbedField {
	milestones := "none"
	if len(settings.Milestones) > 0 {
		parts := make([]string, len(settings.Milestones))
		for i, m := range settings.Milestones {
			parts[i] = strconv.FormatInt(m, 10)
		}
		milestones = strings.Join(parts, ", ")
	}
	return []*discordgo.MessageEmbedField{
		{Name: "Enabled", Value: strconv.FormatBool(settings.Enabled), Inline: true},
		{Name: "Reset On Wrong", Value: strconv.FormatBool(settings.ResetOnWrong), Inline: true},
		{Name: "Double Counting", Value: strconv.FormatBool(settings.AllowDoubleCounting), Inline: true},
		{Name: "Milestones", Value: milestones},
	}
}

func (b *Bot) handleSettings(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	patch, err := parseSettingsPatch(options, b.cfg.Counting.Milestones)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("❌ Invalid Milestones", err.Error(), b.cfg.EmbedColors.Error, nil), true)
		return
	}

	if patch.empty() {
		settings, ok := b.moderator.Settings(interaction.GuildID)
		if !ok {
			settings, err = b.moderator.UpdateSettings(ctx, interaction.GuildID, func(*counting.Settings) {})
			if err != nil {
				b.logger.Error("counting settings load failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
				b.respondEmbed(session, interaction, b.commandEmbed("❌ Error", "Failed to load counting settings.", b.cfg.EmbedColors.Error, nil), true)
				return
			}
		}
		b.respondEmbed(session, interaction, b.commandEmbed("⚙️ Counting Settings", "", b.cfg.EmbedColors.Success, settingsFields(settings)), true)
		return
	}

	settings, err := b.moderator.UpdateSettings(ctx, interaction.GuildID, patch.apply)
	if err != nil {
		b.logger.Error("counting settings update failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("❌ Error", "Failed to update counting settings.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("⚙️ Counting Settings Updated", "", b.cfg.EmbedColors.Success, settingsFields(settings)), true)
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, interaction.Member.User.ID, audit.EventSettings,
		fmt.Sprintf("enabled=%t reset_on_wrong=%t allow_double_counting=%t milestones=%s",
			settings.Enabled, settings.ResetOnWrong, settings.AllowDoubleCounting, storage.EncodeMilestones(settings.Milestones)))
}

func (b *Bot) handlePermission(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	action := options["action"].StringValue()
	command := options["command"].StringValue()
	guildID := interaction.GuildID

	if action == "list" {
		grants, err := b.store.ListCommandGrants(ctx, guildID, command)
		if err != nil {
			b.logger.Error("permission list failed", zap.String("guild_id", guildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("❌ Error", "Failed to load permissions.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("🔐 Permissions for /"+command, formatGrants(grants), b.cfg.EmbedColors.Success, nil), true)
		return
	}

	grant, ok := grantFromOptions(guildID, command, options)
	if !ok {
		b.respondEmbed(session, interaction, b.commandEmbed("❌ Error", "Pick exactly one user or one role.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	var err error
	event := audit.EventPermissionGrant
	if action == "revoke" {
		event = audit.EventPermissionRevoke
		err = b.store.RemoveCommandGrant(ctx, grant)
	} else {
		err = b.store.AddCommandGrant(ctx, grant)
	}
	if err != nil {
		b.logger.Error("permission update failed", zap.String("guild_id", guildID), zap.String("action", action), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("❌ Error", "Failed to update permissions.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	verb := "can now use"
	if action == "revoke" {
		verb = "can no longer use"
	}
	desc := fmt.Sprintf("%s %s /%s.", mentionGrant(grant), verb, command)
	b.respondEmbed(session, interaction, b.commandEmbed("🔐 Permissions Updated", desc, b.cfg.EmbedColors.Success, nil), true)
	b.audit.Log(ctx, audit.LevelInfo, guildID, interaction.Member.User.ID, event,
		fmt.Sprintf("command=%s %s=%s", command, grant.TargetType, grant.TargetID))
}

func grantFromOptions(guildID, command string, options optionMap) (storage.CommandGrant, bool) {
	user, hasUser := options["user"]
	role, hasRole := options["role"]
	grant := storage.CommandGrant{GuildID: guildID, Command: command}
	switch {
	case hasUser && !hasRole:
		grant.TargetType = storage.GrantUser
		grant.TargetID = user.UserValue(nil).ID
	case hasRole && !hasUser:
		grant.TargetType = storage.GrantRole
		grant.TargetID = role.RoleValue(nil, guildID).ID
	default:
		return storage.CommandGrant{}, false
	}
	return grant, true
}

func mentionGrant(grant storage.CommandGrant) string {
	if grant.TargetType == storage.GrantRole {
		return "<@&" + grant.TargetID + ">"
	}
	return "<@" + grant.TargetID + ">"
}

func formatGrants(grants []storage.CommandGrant) string {
	if len(grants) == 0 {
		return "No explicit grants. Members with Administrator or Manage Server can use this command."
	}
	lines := make([]string, len(grants))
	for i, grant := range grants {
		lines[i] = "• " + mentionGrant(grant)
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) handleReport(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options optionMap) {
	period := "day"
	if opt, ok := options["period"]; ok {
		period = opt.StringValue()
	}
	since := time.Now().Add(-24 * time.Hour)
	if period == "week" {
		since = time.Now().AddDate(0, 0, -7)
	}

	report, err := b.analytics.Report(ctx, interaction.GuildID, since)
	if err != nil {
		b.logger.Error("counting report failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("❌ Error", "Failed to build the report.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("📈 Counting Report ("+period+")", formatReport(report), b.cfg.EmbedColors.Success, nil), true)
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
	if b.cfg.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: b.cfg.Footer}
	}
	return embed
}
