package pipeline

import (
	"fmt"
)

// ReplyContextConfig tunes the WhatsApp-only reply-context enrichment stage.
type ReplyContextConfig struct {
	AmbientWindowSize      int // messages before the current event
	ReplyContextWindowSize int // messages before the anchor replied-to message
	PerLineCharLimit       int
}

func (cfg ReplyContextConfig) withDefaults() ReplyContextConfig {
	if cfg.AmbientWindowSize <= 0 {
		cfg.AmbientWindowSize = 10
	}
	if cfg.ReplyContextWindowSize <= 0 {
		cfg.ReplyContextWindowSize = 10
	}
	if cfg.PerLineCharLimit <= 0 {
		cfg.PerLineCharLimit = 240
	}
	return cfg
}

// ReplyContextStage builds the ambient window and, for replies, the
// reply-context window around the quoted message, attaching both plus a
// reply_context_source tag to the Context. It is only meaningful on
// WhatsApp, where messages commonly arrive without inline quoted text.
func ReplyContextStage(store Archive, cfg ReplyContextConfig) Middleware {
	cfg = cfg.withDefaults()
	return func(c *Context, next func(*Context)) {
		if store == nil || c.Event.Channel != "whatsapp" {
			next(c)
			return
		}

		ambient, err := store.LookupMessagesBefore(c.Ctx, c.Event.Channel, c.Event.ChatID, c.Event.Timestamp.Unix(), cfg.AmbientWindowSize)
		if err == nil && len(ambient) > 0 {
			c.AmbientWindow = formatWindow(ambient, cfg.PerLineCharLimit)
			if c.Event.Metadata == nil {
				c.Event.Metadata = map[string]any{}
			}
			c.Event.Metadata["ambient_window"] = c.AmbientWindow
		}

		if c.Event.ReplyToMessageID == "" {
			next(c)
			return
		}

		quotedText := c.Event.ReplyToText
		source := "payload"
		anchorTime := c.Event.Timestamp.Unix()
		if quotedText == "" {
			source = "archive"
			if m, ok, _ := store.LookupMessage(c.Ctx, c.Event.Channel, c.Event.ChatID, c.Event.ReplyToMessageID); ok {
				quotedText = m.Text
				anchorTime = m.UnixTime
			} else if m, ok, _ := store.LookupMessageAnyChat(c.Ctx, c.Event.Channel, c.Event.ReplyToMessageID, c.Event.ChatID); ok {
				quotedText = m.Text
				anchorTime = m.UnixTime
			}
		}

		c.ReplyContextSource = source
		if c.Event.Metadata == nil {
			c.Event.Metadata = map[string]any{}
		}
		c.Event.Metadata["reply_context_source"] = source

		if source == "archive" {
			metric := "reply_context_archive_miss"
			if quotedText != "" {
				metric = "reply_context_archive_hit"
			}
			c.Emit(metricIntent(metric, 1, map[string]string{"channel": c.Event.Channel}))
		}

		contextWindow, err := store.LookupMessagesBefore(c.Ctx, c.Event.Channel, c.Event.ChatID, anchorTime, cfg.ReplyContextWindowSize)
		if err == nil {
			// Newest-first from the store call; reverse for prompt chronology.
			lines := formatWindow(contextWindow, cfg.PerLineCharLimit)
			for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
				lines[i], lines[j] = lines[j], lines[i]
			}
			c.ReplyContextWindow = lines
			c.Event.Metadata["reply_context_window"] = lines
		}

		next(c)
	}
}

func formatWindow(msgs []ArchivedMessage, limit int) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		who := m.Participant
		if who == "" {
			who = m.SenderID
		}
		text := m.Text
		if len(text) > limit {
			text = text[:limit] + "…"
		}
		out = append(out, fmt.Sprintf("%s: %s", who, text))
	}
	return out
}
