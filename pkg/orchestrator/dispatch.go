package orchestrator

import (
	"context"
	"fmt"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
)

// dispatch executes one intent. The type switch is exhaustive over the
// closed intents.Intent set; the default arm can only be reached by adding
// a new variant without updating this dispatcher, which is a programmer
// error, never a data-dependent one.
func (s *Service) dispatch(ctx context.Context, intent intents.Intent) {
	switch it := intent.(type) {
	case intents.SetTyping:
		if s.ports.Typing == nil {
			return
		}
		if err := s.ports.Typing.SetTyping(ctx, it.Channel, it.ChatID, it.Enabled); err != nil {
			logger.DebugCF("orchestrator", "typing notify failed", map[string]any{
				"channel": it.Channel, "error": err.Error(),
			})
		}

	case intents.SendOutbound:
		if err := s.bus.PublishOutbound(ctx, it.Event); err != nil {
			logger.ErrorCF("orchestrator", "outbound publish failed", map[string]any{
				"channel": it.Event.Channel, "error": err.Error(),
			})
		}

	case intents.SendReaction:
		err := s.bus.PublishReaction(ctx, bus.ReactionMessage{
			Channel: it.Channel, ChatID: it.ChatID, MessageID: it.MessageID,
			Emoji: it.Emoji, Participant: it.Participant,
		})
		if err != nil {
			logger.ErrorCF("orchestrator", "reaction publish failed", map[string]any{
				"channel": it.Channel, "error": err.Error(),
			})
		}

	case intents.PersistSession:
		if s.ports.Sessions == nil {
			return
		}
		if err := s.ports.Sessions.Append(ctx, it.SessionKey, it.UserContent, it.AssistantContent); err != nil {
			logger.WarnCF("orchestrator", "session persist failed", map[string]any{
				"session_key": it.SessionKey, "error": err.Error(),
			})
		}

	case intents.QueueMemoryNotesCapture:
		if s.ports.Notes == nil {
			return
		}
		if err := s.ports.Notes.Enqueue(ctx, it); err != nil {
			logger.WarnCF("orchestrator", "notes capture enqueue failed", map[string]any{
				"channel": it.Channel, "error": err.Error(),
			})
		}

	case intents.RecordManualMemory:
		if s.ports.Memory == nil {
			return
		}
		if err := s.ports.Memory.Record(ctx, it); err != nil {
			logger.WarnCF("orchestrator", "manual memory record failed", map[string]any{
				"channel": it.Channel, "kind": string(it.Kind), "error": err.Error(),
			})
		}

	case intents.RecordMetric:
		s.ports.Metrics.Record(it.Name, it.Value, it.Labels)

	default:
		panic(fmt.Sprintf("unhandled intent type %T", intent))
	}
}
