package pipeline

import "github.com/sipeed/picoclaw-orchestrator/pkg/intents"

// AccessStage halts rejected events (accept_message=false), optionally
// queueing a background memory-notes capture first, subject to the
// resolved notes policy.
func AccessStage() Middleware {
	return func(c *Context, next func(*Context)) {
		if c.Decision.AcceptMessage {
			next(c)
			return
		}
		queueNotesCapture(c, intents.NotesSourceAccessDrop)
		c.Emit(metricIntent("policy_drop_access", 1, map[string]string{
			"channel": c.Event.Channel, "reason": c.Decision.Reason,
		}))
		c.Halt()
	}
}

// NoReplyStage halts events that were accepted but should not get a reply
// (should_respond=false), queueing the same background notes capture.
func NoReplyStage() Middleware {
	return func(c *Context, next func(*Context)) {
		if c.Decision.ShouldRespond {
			next(c)
			return
		}
		queueNotesCapture(c, intents.NotesSourceNoReplyDrop)
		c.Emit(metricIntent("policy_drop_reply", 1, map[string]string{
			"channel": c.Event.Channel, "reason": c.Decision.Reason,
		}))
		c.Halt()
	}
}

func queueNotesCapture(c *Context, source intents.NotesCaptureSource) {
	notes := c.Decision.Notes
	if !notes.Enabled {
		return
	}
	if !notes.AllowBlockedSenders && c.Decision.Reason == "blocked_sender" {
		return
	}
	c.Emit(intents.QueueMemoryNotesCapture{
		Channel: c.Event.Channel, ChatID: c.Event.ChatID, SenderID: c.Event.SenderID,
		Content: c.Event.NormalizedContent(), Source: source,
	})
}
