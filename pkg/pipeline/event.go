// Package pipeline runs each inbound chat event through the ordered
// middleware chain described by the core orchestration design: normalize,
// dedupe, archive, enrich with reply context, intercept admin commands,
// evaluate policy, filter by access/reply decisions, invoke the responder,
// and assemble the outbound reply.
package pipeline

import (
	"time"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
)

// Event is the immutable-by-convention value the pipeline processes. Stages
// that need to "mutate" content (normalization) replace the Context's copy
// rather than the original bus message.
type Event struct {
	Channel            string
	ChatID             string
	SenderID           string
	SenderUsername     string
	SenderCanonicalID  string
	Content            string
	MessageID          string
	Timestamp          time.Time
	Participant        string
	IsGroup            bool
	MentionedBot       bool
	ReplyToBot         bool
	ReplyToMessageID   string
	ReplyToParticipant string
	ReplyToText        string
	Media              []string
	IsVoice            bool
	Metadata           map[string]any
}

// NormalizedContent returns Content with leading/trailing whitespace
// stripped.
func (e Event) NormalizedContent() string {
	return trimSpace(e.Content)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// FromInboundMessage adapts a bus.InboundMessage into a pipeline Event.
func FromInboundMessage(msg bus.InboundMessage) Event {
	ts := time.Now()
	if msg.TimestampUnix > 0 {
		ts = time.Unix(msg.TimestampUnix, 0)
	}
	meta := make(map[string]any, len(msg.Metadata))
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	return Event{
		Channel:            msg.Channel,
		ChatID:             msg.ChatID,
		SenderID:           msg.SenderID,
		SenderUsername:     msg.Sender.Username,
		SenderCanonicalID:  msg.Sender.CanonicalID,
		Content:            msg.Content,
		MessageID:          msg.MessageID,
		Timestamp:          ts,
		Participant:        msg.Participant,
		IsGroup:            msg.IsGroup,
		MentionedBot:       msg.MentionedBot,
		ReplyToBot:         msg.ReplyToBot,
		ReplyToMessageID:   msg.ReplyToMessageID,
		ReplyToParticipant: msg.ReplyToParticipant,
		ReplyToText:        msg.ReplyToText,
		Media:              msg.Media,
		Metadata:           meta,
	}
}
