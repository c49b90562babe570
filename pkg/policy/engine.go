package policy

import (
	"strings"

	"github.com/sipeed/picoclaw-orchestrator/pkg/identity"
)

// Event is the minimal sender/content shape Evaluate needs. The pipeline's
// InboundEvent satisfies this via an adapter in pkg/pipeline.
type Event struct {
	Channel            string
	ChatID             string
	SenderID           string
	SenderUsername     string
	SenderCanonicalID  string
	IsGroup            bool
	MentionedBot       bool
	ReplyToBot         bool
	IsVoice            bool
	NormalizedContent  string
}

func (e Event) aliasSet() map[string]struct{} {
	return identity.AliasSet(e.Channel, e.SenderID, e.SenderUsername, e.SenderCanonicalID)
}

// Evaluate resolves the policy decision for one inbound event against cp.
// It performs no I/O and allocates only the small per-call result.
func (cp *CompiledPolicy) Evaluate(ev Event) Decision {
	if _, applies := cp.applyChannels[strings.ToLower(ev.Channel)]; !applies {
		return Decision{
			AcceptMessage: true,
			ShouldRespond: true,
			AllowedTools:  cp.fallbackTools(),
			Reason:        "policy_not_applied",
			WhenToReply:   ReplyModeAll,
		}
	}

	channel := strings.ToLower(ev.Channel)
	perChat := cp.chats[channel]
	chat := perChat[ev.ChatID]
	if chat == nil {
		chat = perChat[""]
	}
	if chat == nil {
		// No default compiled for this channel: treat as fully closed.
		return Decision{Reason: "no_policy_for_channel"}
	}

	senderAliases := ev.aliasSet()
	isOwner := identity.SetsIntersect(senderAliases, cp.owners[channel])

	var reasons []string

	if identity.SetsIntersect(senderAliases, chat.blockedSenders) {
		return Decision{
			AcceptMessage: false,
			ShouldRespond: false,
			Reason:        "blocked_sender",
			IsOwner:       isOwner,
			Notes:         chat.notes,
		}
	}

	accept := evalWhoCanTalk(chat, senderAliases, isOwner)
	if !accept {
		return Decision{
			AcceptMessage: false,
			ShouldRespond: false,
			Reason:        "who_can_talk:" + string(chat.whoCanTalkMode),
			IsOwner:       isOwner,
			Notes:         chat.notes,
		}
	}
	reasons = append(reasons, "accept:ok")

	shouldRespond, replyReason := evalWhenToReply(chat, ev, senderAliases, isOwner)
	reasons = append(reasons, replyReason)

	d := Decision{
		AcceptMessage: true,
		ShouldRespond: shouldRespond,
		AllowedTools:  resolveToolAccess(chat, senderAliases, isOwner),
		Reason:        strings.Join(reasons, "|"),
		WhenToReply:   chat.whenToReplyMode,
		PersonaFile:   chat.personaFile,
		Notes:         chat.notes,
		Voice:         chat.voice,
		IsOwner:       isOwner,
	}
	return d
}

func (cp *CompiledPolicy) fallbackTools() map[string]struct{} {
	out := make(map[string]struct{}, len(cp.knownTools))
	for t := range cp.knownTools {
		out[t] = struct{}{}
	}
	return out
}

func evalWhoCanTalk(chat *compiledChat, senderAliases map[string]struct{}, isOwner bool) bool {
	switch chat.whoCanTalkMode {
	case WhoCanTalkOwnerOnly:
		return isOwner
	case WhoCanTalkAllowlist:
		return identity.SetsIntersect(senderAliases, chat.whoCanTalkSet)
	default: // everyone
		return true
	}
}

func evalWhenToReply(chat *compiledChat, ev Event, senderAliases map[string]struct{}, isOwner bool) (bool, string) {
	switch chat.whenToReplyMode {
	case ReplyModeOff:
		return false, "when_to_reply:off"
	case ReplyModeOwnerOnly:
		if isOwner {
			return true, "when_to_reply:owner_only"
		}
		return false, "when_to_reply:owner_only_denied"
	case ReplyModeAllowedSender:
		if identity.SetsIntersect(senderAliases, chat.whenToReplySet) {
			return true, "when_to_reply:allowed_sender"
		}
		return false, "when_to_reply:sender_not_allowed"
	case ReplyModeMentionOnly:
		if !ev.IsGroup {
			return true, "when_to_reply:mention_only_dm"
		}
		if ev.MentionedBot || ev.ReplyToBot {
			return true, "when_to_reply:mention_only_matched"
		}
		if ev.IsVoice && matchesWakePhrase(chat.wakePhrases, ev.NormalizedContent) {
			return true, "when_to_reply:mention_only_wake_phrase"
		}
		return false, "when_to_reply:mention_only_group"
	default: // all
		return true, "when_to_reply:all"
	}
}

func matchesWakePhrase(phrases map[string]struct{}, content string) bool {
	if len(phrases) == 0 {
		return false
	}
	normalized := normalizeForWakePhrase(content)
	for phrase := range phrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}

func normalizeForWakePhrase(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	lastSpace := true
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t' || r == '\n':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

func resolveToolAccess(chat *compiledChat, senderAliases map[string]struct{}, isOwner bool) map[string]struct{} {
	out := make(map[string]struct{}, len(chat.allowedTools))
	for tool := range chat.allowedTools {
		access, hasOverride := chat.toolAccess[tool]
		if !hasOverride {
			out[tool] = struct{}{}
			continue
		}
		switch access.mode {
		case WhoCanTalkOwnerOnly:
			if isOwner {
				out[tool] = struct{}{}
			}
		case WhoCanTalkAllowlist:
			if identity.SetsIntersect(senderAliases, access.set) {
				out[tool] = struct{}{}
			}
		default:
			out[tool] = struct{}{}
		}
	}
	if _, execOK := out["exec"]; !execOK {
		delete(out, "spawn")
	}
	return out
}
