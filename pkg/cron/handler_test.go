package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/constants"
	"github.com/sipeed/picoclaw-orchestrator/pkg/tools"
)

func TestBusJobHandler_PublishesSystemEvent(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	handler := NewBusJobHandler(msgBus, nil, nil)
	job := &CronJob{
		ID: "job1",
		Payload: CronPayload{
			Kind: PayloadText, Message: "morning summary",
			Channel: "telegram", To: "12345",
		},
	}

	status, err := handler(job)
	require.NoError(t, err)
	assert.Equal(t, "published", status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, constants.SystemChannel, msg.Channel)
	assert.Equal(t, "telegram:12345", msg.ChatID)
	assert.Equal(t, "morning summary", msg.Content)
	assert.Equal(t, "cron:job1", msg.SenderID)
}

func TestBusJobHandler_FallbackTarget(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	handler := NewBusJobHandler(msgBus, nil, func() string { return "whatsapp:owner@s.whatsapp.net" })
	job := &CronJob{ID: "job2", Payload: CronPayload{Kind: PayloadText, Message: "ping"}}

	_, err := handler(job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := msgBus.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "whatsapp:owner@s.whatsapp.net", msg.ChatID)
}

func TestBusJobHandler_NoTargetErrors(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	handler := NewBusJobHandler(msgBus, nil, func() string { return "" })
	job := &CronJob{ID: "job3", Payload: CronPayload{Kind: PayloadText, Message: "lost"}}

	_, err := handler(job)
	assert.Error(t, err)
}

type fakeVoiceTool struct {
	messages []string
}

func (f *fakeVoiceTool) Name() string            { return "send_voice" }
func (f *fakeVoiceTool) Description() string     { return "speak a message" }
func (f *fakeVoiceTool) Schema() map[string]any  { return map[string]any{} }
func (f *fakeVoiceTool) Execute(_ context.Context, args map[string]any) (*tools.ToolResult, error) {
	f.messages = append(f.messages, args["message"].(string))
	return tools.SilentResult("spoken"), nil
}

func TestBusJobHandler_VoiceBroadcastUsesTool(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	registry := tools.NewRegistry()
	voice := &fakeVoiceTool{}
	registry.Register(voice)

	handler := NewBusJobHandler(msgBus, registry, nil)
	job := &CronJob{
		ID: "job4",
		Payload: CronPayload{
			Kind: PayloadVoiceBroadcast, Channel: "whatsapp", To: "owner@s.whatsapp.net",
			Phrases: []string{"time to stretch"},
		},
	}

	status, err := handler(job)
	require.NoError(t, err)
	assert.Contains(t, status, "time to stretch")
	require.Len(t, voice.messages, 1)
	assert.Equal(t, "time to stretch", voice.messages[0])

	// Nothing goes through the pipeline for a voice broadcast.
	assert.Equal(t, 0, msgBus.Stats().InboundLen)
}

func TestBusJobHandler_VoiceBroadcastWithoutRegistryErrors(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	handler := NewBusJobHandler(msgBus, nil, nil)
	job := &CronJob{ID: "job5", Payload: CronPayload{Kind: PayloadVoiceBroadcast, Phrases: []string{"x"}}}

	_, err := handler(job)
	assert.Error(t, err)
}
