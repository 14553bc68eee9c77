package bot

import (
	"fmt"

	"blackspire-bot/internal/counting"
	"blackspire-bot/internal/modules/audit"
)

const (
	reactionAccepted = "✅"
	reactionRejected = "❌"
)

var milestoneReactions = []string{"🎉", "🎊", "🥳"}

// reaction is what the bot sends back for one counting message.
type reaction struct {
	Emojis []string
	Reply  string

	AuditEvent   string
	AuditLevel   string
	AuditDetails string
}

func renderSignal(channelID string, sig counting.Signal) reaction {
	switch sig.Kind {
	case counting.Accepted:
		if !sig.Milestone {
			return reaction{Emojis: []string{reactionAccepted}}
		}
		return reaction{
			Emojis:       append([]string{reactionAccepted}, milestoneReactions...),
			Reply:        fmt.Sprintf("🎉 Congratulations! You've reached %d!", sig.Value),
			AuditEvent:   audit.EventMilestone,
			AuditLevel:   audit.LevelInfo,
			AuditDetails: fmt.Sprintf("channel=%s count=%d", channelID, sig.Value),
		}
	case counting.Rejected:
		out := reaction{Emojis: []string{reactionRejected}, Reply: rejectReply(sig)}
		if sig.DidReset {
			out.AuditEvent = audit.EventReset
			out.AuditLevel = audit.LevelWarn
			out.AuditDetails = fmt.Sprintf("channel=%s expected=%d reason=%s", channelID, sig.Expected, sig.Violation)
		}
		return out
	default:
		return reaction{}
	}
}

func rejectReply(sig counting.Signal) string {
	switch {
	case sig.Violation == counting.ViolationAuthorRepeat && sig.DidReset:
		return "❌ You can't count twice in a row! The count has been reset to 0."
	case sig.Violation == counting.ViolationAuthorRepeat:
		return "❌ You can't count twice in a row! Wait for someone else to continue."
	case sig.DidReset:
		return "❌ Wrong number! The count has been reset to 0. The next number should be 1."
	default:
		return fmt.Sprintf("❌ Wrong number! The next number should be %d.", sig.Expected)
	}
}
