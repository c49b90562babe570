package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
	"github.com/sipeed/picoclaw-orchestrator/pkg/pipeline"
	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
)

type recordingSessions struct {
	keys []string
}

func (r *recordingSessions) Append(_ context.Context, key, _, _ string) error {
	r.keys = append(r.keys, key)
	return nil
}

type recordingMemory struct {
	records []intents.RecordManualMemory
}

func (r *recordingMemory) Record(_ context.Context, m intents.RecordManualMemory) error {
	r.records = append(r.records, m)
	return nil
}

type recordingNotes struct {
	captures []intents.QueueMemoryNotesCapture
	err      error
}

func (r *recordingNotes) Enqueue(_ context.Context, c intents.QueueMemoryNotesCapture) error {
	r.captures = append(r.captures, c)
	return r.err
}

type staticResponder struct {
	reply string
}

func (s staticResponder) GenerateReply(context.Context, pipeline.Event, policy.Decision) (string, error) {
	return s.reply, nil
}

type panickyResponder struct{}

func (panickyResponder) GenerateReply(context.Context, pipeline.Event, policy.Decision) (string, error) {
	panic("responder blew up")
}

func allowAllStage() pipeline.Middleware {
	return pipeline.PolicyStage(staticEvaluator{})
}

type staticEvaluator struct{}

func (staticEvaluator) Evaluate(policy.Event) policy.Decision {
	return policy.Decision{AcceptMessage: true, ShouldRespond: true}
}

func TestHandle_ReplyReachesOutboundQueue(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	runner := pipeline.NewRunner(
		pipeline.NormalizationStage(),
		allowAllStage(),
		pipeline.ResponderStage(staticResponder{reply: "hello back"}, nil),
		pipeline.OutboundAssemblyStage(pipeline.OutboundConfig{}),
	)
	svc := NewService(msgBus, runner, Ports{Sessions: &recordingSessions{}})

	svc.handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", ChatID: "c1", SenderID: "u1", Content: "hi", MessageID: "m1",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, ok := msgBus.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "telegram", out.Channel)
	assert.Equal(t, "hello back", out.Content)

	assert.EqualValues(t, 1, svc.Metrics().Get("response_sent", map[string]string{"channel": "telegram"}))
}

func TestHandle_ReactionIntentLandsOnReactionQueue(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	runner := pipeline.NewRunner(
		allowAllStage(),
		pipeline.ResponderStage(staticResponder{reply: "::reaction::😂"}, nil),
		pipeline.OutboundAssemblyStage(pipeline.OutboundConfig{}),
	)
	sessions := &recordingSessions{}
	svc := NewService(msgBus, runner, Ports{Sessions: sessions})

	svc.handle(context.Background(), bus.InboundMessage{
		Channel: "whatsapp", ChatID: "c1", SenderID: "u1", Content: "funny", MessageID: "m2",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reaction, ok := msgBus.SubscribeReaction(ctx)
	require.True(t, ok)
	assert.Equal(t, "😂", reaction.Emoji)
	assert.Equal(t, "m2", reaction.MessageID)

	require.Len(t, sessions.keys, 1)
	assert.Equal(t, 0, msgBus.Stats().OutboundLen)
}

func TestHandle_ManualMemoryAndNotesDispatch(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	memory := &recordingMemory{}
	notes := &recordingNotes{}

	runner := pipeline.NewRunner(
		allowAllStage(),
		pipeline.IdeaCaptureStage(nil),
	)
	svc := NewService(msgBus, runner, Ports{Memory: memory, Notes: notes})

	svc.handle(context.Background(), bus.InboundMessage{
		Channel: "whatsapp", ChatID: "c1", SenderID: "u1", Content: "[idea] ship it", MessageID: "m3",
	})

	require.Len(t, memory.records, 1)
	assert.Equal(t, intents.MemoryKindIdea, memory.records[0].Kind)
	assert.EqualValues(t, 1, svc.Metrics().Get("idea_capture_saved", map[string]string{"kind": "idea"}))
}

// A pipeline panic is contained to the event: an apology goes to the
// originating chat and the consumer survives.
func TestHandle_PanicPublishesApology(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	runner := pipeline.NewRunner(
		allowAllStage(),
		pipeline.ResponderStage(panickyResponder{}, nil),
	)
	svc := NewService(msgBus, runner, Ports{})

	svc.handle(context.Background(), bus.InboundMessage{
		Channel: "telegram", ChatID: "c9", SenderID: "u1", Content: "boom",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, ok := msgBus.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "c9", out.ChatID)
	assert.Contains(t, out.Content, "Sorry, I encountered an error")
}

func TestRun_StopsWhenContextCanceled(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	svc := NewService(msgBus, pipeline.NewRunner(), Ports{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestDispatch_PortErrorsDoNotPropagate(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	notes := &recordingNotes{err: errors.New("queue full")}
	svc := NewService(msgBus, pipeline.NewRunner(), Ports{Notes: notes})

	// Must not panic even when the port fails.
	svc.dispatch(context.Background(), intents.QueueMemoryNotesCapture{Channel: "whatsapp"})
	require.Len(t, notes.captures, 1)
}

func TestCounterSink_LabelsKeyedIndependently(t *testing.T) {
	sink := NewCounterSink()
	sink.Record("drops", 1, map[string]string{"reason": "empty"})
	sink.Record("drops", 1, map[string]string{"reason": "dup"})
	sink.Record("drops", 2, map[string]string{"reason": "empty"})

	assert.EqualValues(t, 3, sink.Get("drops", map[string]string{"reason": "empty"}))
	assert.EqualValues(t, 1, sink.Get("drops", map[string]string{"reason": "dup"}))
	assert.Len(t, sink.Snapshot(), 2)
}
