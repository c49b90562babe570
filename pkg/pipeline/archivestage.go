package pipeline

import "github.com/sipeed/picoclaw-orchestrator/pkg/logger"

// ArchiveStage records every event into the reply archive, seeding a
// synthetic row for the quoted message when the payload carried its text
// but the quoted message was never itself archived (stage 3).
func ArchiveStage(store Archive) Middleware {
	return func(c *Context, next func(*Context)) {
		if store != nil {
			if err := store.RecordInbound(c.Ctx, c.Event); err != nil {
				logger.WarnCF("pipeline", "archive record failed", map[string]any{
					"channel": c.Event.Channel, "chat_id": c.Event.ChatID, "error": err.Error(),
				})
			}
			if c.Event.ReplyToText != "" && c.Event.ReplyToMessageID != "" {
				if err := store.RecordSynthetic(c.Ctx, c.Event.Channel, c.Event.ChatID, c.Event.ReplyToMessageID,
					c.Event.ReplyToParticipant, c.Event.ReplyToText, c.Event.Timestamp.Unix()); err != nil {
					logger.WarnCF("pipeline", "synthetic archive seed failed", map[string]any{
						"channel": c.Event.Channel, "chat_id": c.Event.ChatID, "error": err.Error(),
					})
				}
			}
		}
		next(c)
	}
}
