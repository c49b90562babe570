package pipeline

import (
	"fmt"
	"strings"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
)

// NewChatConfig wires the new-chat notification stage to its owner DM
// target and optional group-metadata lookup.
type NewChatConfig struct {
	// OwnerChatID maps channel -> the chat_id to DM the owner at (for
	// WhatsApp, typically the owner's normalized JID).
	OwnerChatID map[string]string
	Groups      GroupMetadataLookup
}

// normalizeWhatsAppTarget turns a bare phone number into the canonical JID
// form; other channels pass through unchanged.
func normalizeWhatsAppTarget(channel, target string) string {
	if channel != "whatsapp" {
		return target
	}
	digits := strings.TrimPrefix(strings.TrimSpace(target), "+")
	if digits == "" || strings.Contains(digits, "@") {
		return target
	}
	allDigits := true
	for _, r := range digits {
		if r < '0' || r > '9' {
			allDigits = false
			break
		}
	}
	if !allDigits {
		return target
	}
	return digits + "@s.whatsapp.net"
}

// NewChatStage sends the owner a one-time notification the first time a
// chat_id is observed on WhatsApp, including group metadata (when
// available) and quick-approval command shortcuts.
func NewChatStage(seen SeenChats, cfg NewChatConfig) Middleware {
	return func(c *Context, next func(*Context)) {
		if seen == nil || c.Event.Channel != "whatsapp" || !c.Event.IsGroup {
			next(c)
			return
		}
		firstTime, err := seen.MarkSeen(c.Event.Channel, c.Event.ChatID)
		if err != nil || !firstTime {
			next(c)
			return
		}

		ownerChatID := cfg.OwnerChatID[c.Event.Channel]
		if ownerChatID == "" {
			next(c)
			return
		}
		ownerChatID = normalizeWhatsAppTarget(c.Event.Channel, ownerChatID)

		subject := c.Event.ChatID
		description := ""
		if cfg.Groups != nil {
			if meta, ok := cfg.Groups.LookupGroup(c.Ctx, c.Event.Channel, c.Event.ChatID); ok {
				if meta.Subject != "" {
					subject = meta.Subject
				}
				description = meta.Description
			}
		}

		var b strings.Builder
		fmt.Fprintf(&b, "New group chat: %s (%s)\n", subject, c.Event.ChatID)
		if description != "" {
			fmt.Fprintf(&b, "%s\n", description)
		}
		fmt.Fprintf(&b, "\nApprove with:\n")
		fmt.Fprintf(&b, "  /approve %s\n", c.Event.ChatID)
		fmt.Fprintf(&b, "  /approve-mention %s\n", c.Event.ChatID)
		fmt.Fprintf(&b, "  /deny %s\n", c.Event.ChatID)
		fmt.Fprintf(&b, "  /policy allow-group %s\n", c.Event.ChatID)

		c.Emit(intents.SendOutbound{Event: bus.OutboundMessage{
			Channel: c.Event.Channel, ChatID: ownerChatID, Content: b.String(),
		}})
		next(c)
	}
}
