package pipeline

import (
	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
)

// ResponderStage invokes the responder port between a typing-on and a
// typing-off signal. Typing-off is emitted on every exit path — success,
// responder error, or empty reply — via defer, matching the
// finally-equivalent discipline typing needs.
func ResponderStage(responder Responder, typing TypingNotifier) Middleware {
	return func(c *Context, next func(*Context)) {
		setTyping(c, typing, true)
		defer setTyping(c, typing, false)

		reply, err := responder.GenerateReply(c.Ctx, c.Event, c.Decision)
		if err != nil {
			logger.ErrorCF("pipeline", "responder failed", map[string]any{
				"channel": c.Event.Channel, "chat_id": c.Event.ChatID, "error": err.Error(),
			})
			c.Reply = "Sorry, I encountered an error: " + err.Error()
			next(c)
			return
		}
		c.Reply = reply
		next(c)
	}
}

func setTyping(c *Context, typing TypingNotifier, enabled bool) {
	if typing != nil {
		if err := typing.SetTyping(c.Ctx, c.Event.Channel, c.Event.ChatID, enabled); err == nil {
			return
		}
	}
	c.Emit(intents.SetTyping{Channel: c.Event.Channel, ChatID: c.Event.ChatID, Enabled: enabled})
}
