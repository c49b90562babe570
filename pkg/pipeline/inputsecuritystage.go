package pipeline

import (
	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
	"github.com/sipeed/picoclaw-orchestrator/pkg/security"
)

// InputSecurityConfig names the reaction emoji used on a block verdict.
type InputSecurityConfig struct {
	BlockReactionEmoji string
	BlockMessage       string
}

func (cfg InputSecurityConfig) withDefaults() InputSecurityConfig {
	if cfg.BlockReactionEmoji == "" {
		cfg.BlockReactionEmoji = "🚫"
	}
	if cfg.BlockMessage == "" {
		cfg.BlockMessage = "I can't help with that request."
	}
	return cfg
}

// InputSecurityStage runs the input-security check on an accepted,
// should-respond event. A block verdict halts the chain after surfacing a
// reaction (or a short text reply when the event has no message_id to
// react to) instead of invoking the responder.
func InputSecurityStage(engine SecurityInput, cfg InputSecurityConfig) Middleware {
	cfg = cfg.withDefaults()
	return func(c *Context, next func(*Context)) {
		if engine == nil {
			next(c)
			return
		}
		verdict := engine.CheckInput(c.Ctx, c.Event.NormalizedContent())
		if verdict.Action != security.ActionBlock {
			next(c)
			return
		}

		if c.Event.MessageID != "" {
			c.Emit(intents.SendReaction{
				Channel: c.Event.Channel, ChatID: c.Event.ChatID,
				MessageID: c.Event.MessageID, Emoji: cfg.BlockReactionEmoji, Participant: c.Event.Participant,
			})
		} else {
			c.Emit(intents.SendOutbound{Event: bus.OutboundMessage{
				Channel: c.Event.Channel, ChatID: c.Event.ChatID, Content: cfg.BlockMessage,
			}})
		}
		c.Emit(metricIntent("security_input_blocked", 1, map[string]string{
			"channel": c.Event.Channel, "rule": verdict.Rule,
		}))
		c.Halt()
	}
}
