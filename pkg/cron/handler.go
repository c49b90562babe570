package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/constants"
	"github.com/sipeed/picoclaw-orchestrator/pkg/tools"
)

// NewBusJobHandler returns a JobHandler that publishes a job's payload as a
// synthetic inbound event on the system channel, so scheduled prompts pass
// through policy, security, and the reply archive exactly like traffic from
// a real channel adapter. A job with an explicit payload.channel/to pair
// addresses the event there; otherwise it falls back to fallbackChatID
// (typically the last channel the owner was active on).
//
// voice_broadcast jobs bypass the pipeline: they pick a phrase and invoke
// the send_voice tool directly through the registry.
func NewBusJobHandler(msgBus *bus.MessageBus, registry *tools.Registry, fallbackChatID func() string) JobHandler {
	return func(job *CronJob) (string, error) {
		if job.Payload.Kind == PayloadVoiceBroadcast {
			return runVoiceBroadcast(job, registry)
		}

		chatID := job.Payload.Channel + ":" + job.Payload.To
		if job.Payload.Channel == "" || job.Payload.To == "" {
			if fallbackChatID == nil {
				return "", fmt.Errorf("cron job %s has no delivery target and no fallback channel", job.ID)
			}
			chatID = fallbackChatID()
			if chatID == "" {
				return "", fmt.Errorf("cron job %s has no delivery target and no last active channel", job.ID)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := msgBus.PublishInbound(ctx, bus.InboundMessage{
			Channel:       constants.SystemChannel,
			ChatID:        chatID,
			SenderID:      "cron:" + job.ID,
			Content:       job.Payload.Message,
			TimestampUnix: time.Now().Unix(),
			Metadata:      map[string]string{"cron_payload_kind": job.Payload.Kind, "cron_job_id": job.ID},
		}); err != nil {
			return "", err
		}
		return "published", nil
	}
}

// runVoiceBroadcast picks a phrase and speaks it via the send_voice tool.
// The phrase rotates with wall-clock time so repeated firings of the same
// job vary without any per-job state.
func runVoiceBroadcast(job *CronJob, registry *tools.Registry) (string, error) {
	if registry == nil {
		return "", fmt.Errorf("cron job %s is a voice broadcast but no tool registry is wired", job.ID)
	}
	phrases := job.Payload.Phrases
	if len(phrases) == 0 && job.Payload.Message != "" {
		phrases = []string{job.Payload.Message}
	}
	if len(phrases) == 0 {
		return "", fmt.Errorf("cron job %s has no phrases to broadcast", job.ID)
	}
	phrase := phrases[int(time.Now().Unix())%len(phrases)]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := registry.Execute(ctx, "send_voice", job.Payload.Channel, job.Payload.To, map[string]any{
		"message": phrase,
	})
	if err != nil {
		return "", err
	}
	if result != nil && result.IsError {
		return "", fmt.Errorf("send_voice failed: %s", result.ForLLM)
	}
	return "voiced: " + phrase, nil
}
