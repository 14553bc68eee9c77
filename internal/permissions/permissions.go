package permissions

import (
	"context"
	"slices"

	"blackspire-bot/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type GrantSource interface {
	ListCommandGrants(ctx context.Context, guildID, command string) ([]storage.CommandGrant, error)
}

// Checker decides who may run the counting admin commands.
type Checker struct {
	grants  GrantSource
	ownerID string
	logger  *zap.Logger
}

func NewChecker(grants GrantSource, ownerID string, logger *zap.Logger) *Checker {
	return &Checker{grants: grants, ownerID: ownerID, logger: logger}
}

// Allowed applies, in order: the bot owner always passes; if the command has
// grants in this guild only granted users and roles pass; otherwise members
// with Administrator or Manage Server pass.
func (c *Checker) Allowed(ctx context.Context, guildID, command, userID string, roleIDs []string, memberPerms int64) bool {
	if c.ownerID != "" && userID == c.ownerID {
		return true
	}

	grants, err := c.grants.ListCommandGrants(ctx, guildID, command)
	if err != nil {
		c.logger.Warn("permission lookup failed",
			zap.String("guild_id", guildID),
			zap.String("command", command),
			zap.Error(err))
		return hasManagerPerms(memberPerms)
	}
	if len(grants) == 0 {
		return hasManagerPerms(memberPerms)
	}

	for _, grant := range grants {
		switch grant.TargetType {
		case storage.GrantUser:
			if grant.TargetID == userID {
				return true
			}
		case storage.GrantRole:
			if slices.Contains(roleIDs, grant.TargetID) {
				return true
			}
		}
	}
	return false
}

func hasManagerPerms(perms int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&discordgo.PermissionManageServer != 0
}
