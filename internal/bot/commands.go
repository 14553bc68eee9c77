package bot

import "github.com/bwmarrin/discordgo"

const (
	cmdSetup      = "setup_counting"
	cmdDisable    = "disable_counting"
	cmdStats      = "counting_stats"
	cmdSettings   = "counting_settings"
	cmdPermission = "counting_permission"
	cmdReport     = "counting_report"
)

// grantableCommands are the commands counting_permission can hand out.
var grantableCommands = []string{cmdSetup, cmdDisable, cmdSettings, cmdPermission, cmdReport}

func commandDefinitions() []*discordgo.ApplicationCommand {
	commandChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(grantableCommands))
	for _, name := range grantableCommands {
		commandChoices = append(commandChoices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        cmdSetup,
			Description: "🔢 Setup counting system in this channel",
		},
		{
			Name:        cmdDisable,
			Description: "Disable counting in a channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Counting channel (defaults to this one)",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					Required:     false,
				},
			},
		},
		{
			Name:        cmdStats,
			Description: "📊 Show counting statistics for this channel",
		},
		{
			Name:        cmdSettings,
			Description: "View or change counting settings",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "Counting on or off for the whole server",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "reset_on_wrong",
					Description: "Reset the count to 0 after a mistake",
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "allow_double_counting",
					Description: "Let the same member count twice in a row",
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "milestones",
					Description: "Comma-separated milestones, \"default\" or \"none\"",
				},
			},
		},
		{
			Name:        cmdPermission,
			Description: "Manage who can use the counting commands",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "grant, revoke or list",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "grant", Value: "grant"},
						{Name: "revoke", Value: "revoke"},
						{Name: "list", Value: "list"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "command",
					Description: "Command to manage",
					Required:    true,
					Choices:     commandChoices,
				},
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "Member to grant or revoke",
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to grant or revoke",
				},
			},
		},
		{
			Name:        cmdReport,
			Description: "Counting activity report",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "day or week",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "day"},
						{Name: "week", Value: "week"},
					},
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
