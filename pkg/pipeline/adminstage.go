package pipeline

import (
	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
)

// AdminStage delegates to the policy admin service. A handled command (a
// slash command recognized by the admin registry) halts the chain; any
// reply text is emitted directly as an outbound intent here, since the
// later outbound-assembly stages never run on a halted chain.
func AdminStage(handler AdminCommandHandler) Middleware {
	return func(c *Context, next func(*Context)) {
		if handler == nil {
			next(c)
			return
		}
		handled, reply, err := handler.TryHandle(c.Ctx, c.Event)
		if err != nil {
			logger.ErrorCF("pipeline", "admin command handling failed", map[string]any{
				"channel": c.Event.Channel, "chat_id": c.Event.ChatID, "error": err.Error(),
			})
		}
		if !handled {
			next(c)
			return
		}
		if reply != "" {
			c.Emit(intents.SendOutbound{Event: bus.OutboundMessage{
				Channel: c.Event.Channel,
				ChatID:  c.Event.ChatID,
				Content: reply,
			}})
		}
		c.Emit(metricIntent("admin_command_handled", 1, map[string]string{"channel": c.Event.Channel}))
		c.Halt()
	}
}
