// Package orchestrator owns the inbound consumer loop: it drains the
// message bus, drives each event through the middleware pipeline, and
// dispatches the intents the pipeline emitted.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/constants"
	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
	"github.com/sipeed/picoclaw-orchestrator/pkg/pipeline"
)

// SessionStore persists one user/assistant exchange under a session key.
type SessionStore interface {
	Append(ctx context.Context, sessionKey, userContent, assistantContent string) error
}

// NotesQueue accepts background memory-notes capture requests for dropped
// events. Implementations batch and process them off the hot path.
type NotesQueue interface {
	Enqueue(ctx context.Context, capture intents.QueueMemoryNotesCapture) error
}

// ManualMemoryStore records explicit idea/backlog captures.
type ManualMemoryStore interface {
	Record(ctx context.Context, memory intents.RecordManualMemory) error
}

// LastRouteRecorder remembers the most recent real channel/chat a message
// arrived on, which heartbeat and cron use as their default delivery
// target. *state.Manager satisfies it.
type LastRouteRecorder interface {
	SetLastChannel(channel string) error
	SetLastChatID(chatID string) error
}

// Ports bundles the optional collaborators the intent dispatcher hands
// work to. A nil port drops its intents with a debug log rather than
// failing the event.
type Ports struct {
	Typing   pipeline.TypingNotifier
	Sessions SessionStore
	Notes    NotesQueue
	Memory   ManualMemoryStore
	Metrics  *CounterSink
	Route    LastRouteRecorder
}

// Service is the single consumer of the inbound queue.
type Service struct {
	bus    *bus.MessageBus
	runner *pipeline.Runner
	ports  Ports
}

func NewService(msgBus *bus.MessageBus, runner *pipeline.Runner, ports Ports) *Service {
	if ports.Metrics == nil {
		ports.Metrics = NewCounterSink()
	}
	return &Service{bus: msgBus, runner: runner, ports: ports}
}

// Metrics exposes the counter sink for /status diagnostics.
func (s *Service) Metrics() *CounterSink {
	return s.ports.Metrics
}

// Run drains the inbound queue until ctx is canceled or the bus closes.
// Events from a single chat are processed in arrival order because this is
// the only consumer.
func (s *Service) Run(ctx context.Context) {
	logger.InfoC("orchestrator", "inbound consumer started")
	for {
		msg, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("orchestrator", "inbound consumer stopped")
			return
		}
		s.handle(ctx, msg)
	}
}

// handle runs one event through the pipeline and dispatches its intents in
// append order. A panic anywhere in the chain is contained to the event: an
// apology is published to the originating chat and the loop continues.
func (s *Service) handle(ctx context.Context, msg bus.InboundMessage) {
	ev := pipeline.FromInboundMessage(msg)
	pipeline.AnnotateMediaKinds(&ev)

	if s.ports.Route != nil && !constants.IsInternalChannel(ev.Channel) {
		_ = s.ports.Route.SetLastChannel(ev.Channel)
		_ = s.ports.Route.SetLastChatID(ev.ChatID)
	}

	c := &pipeline.Context{Ctx: ctx, Event: ev}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("orchestrator", "pipeline panicked", map[string]any{
				"channel": ev.Channel, "chat_id": ev.ChatID, "panic": fmt.Sprint(r),
			})
			_ = s.bus.PublishOutbound(ctx, bus.OutboundMessage{
				Channel: ev.Channel, ChatID: ev.ChatID,
				Content: fmt.Sprintf("Sorry, I encountered an error: %v", r),
			})
		}
	}()

	s.runner.Run(c)
	for _, intent := range c.Intents {
		s.dispatch(ctx, intent)
	}
}
