package pipeline

import (
	"strings"
	"time"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/constants"
	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
	"github.com/sipeed/picoclaw-orchestrator/pkg/routing"
	"github.com/sipeed/picoclaw-orchestrator/pkg/security"
)

const reactionMarker = "::reaction::"

// OutboundConfig wires the assembly stage's optional collaborators and the
// configured output-security block message.
type OutboundConfig struct {
	SessionAgentID       string
	Security             SecurityOutput
	SecurityBlockMessage string
	TTS                  TTSSynthesizer
	Router               ModelRouter
	OwnerAlert           OwnerAlerter
	OwnerAlertCooldown   time.Duration
}

// OutboundAssemblyStage runs reaction detection, output security, channel
// re-routing, threading, and optional voice synthesis over c.Reply, then
// emits the SendOutbound/PersistSession intents. The owner
// diagnostic cooldown tracker lives in the returned closure, so it persists
// for the lifetime of this stage instance rather than per-call.
func OutboundAssemblyStage(cfg OutboundConfig) Middleware {
	cooldown := newOwnerAlertCooldown(cfg.OwnerAlertCooldown)

	return func(c *Context, next func(*Context)) {
		if c.Reply == "" {
			next(c)
			return
		}

		if emoji, body, isReaction := parseLeadingReactionMarker(c.Reply); isReaction {
			emitReaction(c, emoji)
			if body == "" {
				c.Emit(intents.PersistSession{
					SessionKey: buildSessionKey(cfg.SessionAgentID, c.Event), UserContent: c.Event.Content,
					AssistantContent: "[reacted with " + emoji + "]",
				})
				c.Emit(metricIntent("response_sent", 1, map[string]string{"channel": c.Event.Channel, "kind": "reaction"}))
				next(c)
				return
			}
			c.Reply = body
		} else if emoji, body, matched := parseTrailingReactionSuffix(c.Reply); matched {
			emitReaction(c, emoji)
			c.Reply = body
		}

		if cfg.Security != nil {
			verdict := cfg.Security.CheckOutput(c.Reply)
			switch verdict.Action {
			case security.ActionSanitize:
				c.Reply = verdict.Text
				c.Emit(metricIntent("security_output_sanitized", 1, map[string]string{"channel": c.Event.Channel}))
			case security.ActionBlock:
				msg := cfg.SecurityBlockMessage
				if msg == "" {
					msg = "I can't share that."
				}
				c.Reply = msg
				c.Emit(metricIntent("security_output_blocked", 1, map[string]string{"channel": c.Event.Channel}))
			}
		}

		channel, chatID, routed := resolveOutboundRoute(c.Event.Channel, c.Event.ChatID)
		if !routed {
			logger.WarnCF("pipeline", "dropping reply with unresolvable system-channel route", map[string]any{
				"chat_id": c.Event.ChatID,
			})
			c.Emit(intents.PersistSession{SessionKey: buildSessionKey(cfg.SessionAgentID, c.Event), UserContent: c.Event.Content, AssistantContent: c.Reply})
			c.Emit(metricIntent("response_route_unresolved", 1, map[string]string{"channel": c.Event.Channel}))
			next(c)
			return
		}

		out := bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: c.Reply}
		if threadReply(c.Event, c.Decision) {
			out.ReplyToMsgID = c.Event.MessageID
		}

		if voiceReady(c.Decision.Voice, c.Event) && channel == "whatsapp" {
			if media, ok := synthesizeVoice(c, cfg, channel, cooldown); ok {
				out.Media = []string{media}
				out.Content = ""
			}
		}

		c.Emit(intents.SendOutbound{Event: out})
		c.Emit(intents.PersistSession{SessionKey: buildSessionKey(cfg.SessionAgentID, c.Event), UserContent: c.Event.Content, AssistantContent: c.Reply})
		c.Emit(metricIntent("response_sent", 1, map[string]string{"channel": channel}))
		next(c)
	}
}

func emitReaction(c *Context, emoji string) {
	c.Emit(intents.SendReaction{
		Channel: c.Event.Channel, ChatID: c.Event.ChatID,
		MessageID: c.Event.MessageID, Emoji: emoji, Participant: c.Event.Participant,
	})
}

// parseLeadingReactionMarker recognizes a full-message reaction marker of
// the form "::reaction::<emoji>" optionally followed by a blank line and a
// text body.
func parseLeadingReactionMarker(reply string) (emoji, body string, ok bool) {
	if !strings.HasPrefix(reply, reactionMarker) {
		return "", "", false
	}
	rest := reply[len(reactionMarker):]
	if idx := strings.Index(rest, "\n"); idx >= 0 {
		return strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx:]), true
	}
	return strings.TrimSpace(rest), "", true
}

// parseTrailingReactionSuffix strips a "<text>\n\n::reaction::<emoji>" suffix
// left behind by model misuse of the marker.
func parseTrailingReactionSuffix(reply string) (emoji, body string, ok bool) {
	idx := strings.LastIndex(reply, "\n\n"+reactionMarker)
	if idx < 0 {
		return "", "", false
	}
	emoji = strings.TrimSpace(reply[idx+len("\n\n"+reactionMarker):])
	if emoji == "" {
		return "", "", false
	}
	return emoji, strings.TrimSpace(reply[:idx]), true
}

// resolveOutboundRoute re-routes a synthetic system-channel event to the
// real channel encoded in its chat_id ("<channel>:<real_chat_id>"). An
// unresolvable route (no separator, or an empty channel/chat segment)
// reports ok=false: the caller drops the reply rather than emitting to the
// non-existent "system" channel adapter.
func resolveOutboundRoute(channel, chatID string) (routedChannel, routedChatID string, ok bool) {
	if channel != constants.SystemChannel {
		return channel, chatID, true
	}
	idx := strings.Index(chatID, ":")
	if idx <= 0 || idx == len(chatID)-1 {
		return "", "", false
	}
	return chatID[:idx], chatID[idx+1:], true
}

// threadReply reports whether the outbound event should carry reply_to: on
// WhatsApp groups in mention_only mode, only when the inbound event was
// itself a mention or reply-to-bot.
func threadReply(ev Event, d policy.Decision) bool {
	if ev.Channel != "whatsapp" || !ev.IsGroup {
		return false
	}
	if d.WhenToReply != policy.ReplyModeMentionOnly {
		return false
	}
	return ev.MentionedBot || ev.ReplyToBot
}

func buildSessionKey(agentID string, ev Event) string {
	kind := "direct"
	if ev.IsGroup {
		kind = "group"
	}
	return routing.BuildAgentPeerSessionKey(routing.SessionKeyParams{
		AgentID: agentID,
		Channel: ev.Channel,
		Peer:    &routing.RoutePeer{Kind: kind, ID: ev.ChatID},
		DMScope: routing.DMScopePerChannelPeer,
	})
}

// voiceReady gates voice synthesis on the policy's voice output mode:
// in_kind only replies with voice when the inbound event was itself a
// voice message.
func voiceReady(v policy.VoiceConfig, ev Event) bool {
	switch v.Mode {
	case policy.VoiceOutputAlways:
	case policy.VoiceOutputInKind:
		if !ev.IsVoice {
			return false
		}
	default:
		return false
	}
	return v.Format == "opus" || v.Format == ""
}

// synthesizeVoice strips markdown, truncates to the policy budget, resolves
// a TTS profile, and synthesizes audio. On any failure (or a size overflow
// detected after synthesis) it fires a cooldown-gated owner diagnostic and
// returns ok=false so the caller falls back to text.
func synthesizeVoice(c *Context, cfg OutboundConfig, channel string, cooldown *ownerAlertCooldown) (path string, ok bool) {
	if cfg.TTS == nil || cfg.Router == nil {
		return "", false
	}
	plain := stripMarkdown(c.Reply)
	truncated := truncateForVoice(plain, c.Decision.Voice.MaxSentences, c.Decision.Voice.MaxChars)

	routeKey := c.Decision.Voice.TTSRoute
	if routeKey == "" {
		routeKey = "tts.speak"
	}
	profile, err := cfg.Router.ResolveTTSRoute(c.Ctx, channel, routeKey)
	if err != nil {
		alertVoiceFallback(c, cfg, cooldown, "route_resolve_failed", err.Error())
		return "", false
	}
	if c.Decision.Voice.Voice != "" {
		profile.Voice = c.Decision.Voice.Voice
	}
	if c.Decision.Voice.Format != "" {
		profile.Format = c.Decision.Voice.Format
	}

	audioPath, err := cfg.TTS.Synthesize(c.Ctx, profile, truncated)
	if err != nil || audioPath == "" {
		reason := "synthesis_failed"
		msg := "voice synthesis failed"
		if err != nil {
			msg = err.Error()
		}
		alertVoiceFallback(c, cfg, cooldown, reason, msg)
		return "", false
	}
	return audioPath, true
}

func alertVoiceFallback(c *Context, cfg OutboundConfig, cooldown *ownerAlertCooldown, reason, message string) {
	if cfg.OwnerAlert == nil || !cooldown.allow(reason) {
		return
	}
	_ = cfg.OwnerAlert.Alert(c.Ctx, c.Event.Channel, reason, message)
}
