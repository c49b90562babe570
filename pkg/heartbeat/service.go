package heartbeat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/constants"
	"github.com/sipeed/picoclaw-orchestrator/pkg/fileutil"
	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
	"github.com/sipeed/picoclaw-orchestrator/pkg/state"
)

const (
	minIntervalMinutes     = 5
	defaultIntervalMinutes = 30
)

// HeartbeatService periodically publishes a synthetic inbound event onto
// the system channel, addressed at the last channel the owner was active
// on, so a scheduled proactive check runs through the same policy,
// security, and archive stages as a real message instead of invoking the
// responder directly.
type HeartbeatService struct {
	workspace string
	bus       *bus.MessageBus
	state     *state.Manager
	interval  time.Duration
	enabled   bool
	mu        sync.RWMutex
	stopChan  chan struct{}
}

// NewHeartbeatService creates a new heartbeat service.
func NewHeartbeatService(workspace string, intervalMinutes int, enabled bool) *HeartbeatService {
	if intervalMinutes < minIntervalMinutes && intervalMinutes != 0 {
		intervalMinutes = minIntervalMinutes
	}
	if intervalMinutes == 0 {
		intervalMinutes = defaultIntervalMinutes
	}

	return &HeartbeatService{
		workspace: workspace,
		interval:  time.Duration(intervalMinutes) * time.Minute,
		enabled:   enabled,
		state:     state.NewManager(workspace),
	}
}

// SetBus sets the message bus the heartbeat publishes its synthetic events
// onto.
func (hs *HeartbeatService) SetBus(msgBus *bus.MessageBus) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.bus = msgBus
}

// Start begins the heartbeat service.
func (hs *HeartbeatService) Start() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.stopChan != nil {
		logger.InfoC("heartbeat", "heartbeat service already running")
		return nil
	}
	if !hs.enabled {
		logger.InfoC("heartbeat", "heartbeat service disabled")
		return nil
	}

	hs.stopChan = make(chan struct{})
	go hs.runLoop(hs.stopChan)

	logger.InfoCF("heartbeat", "heartbeat service started", map[string]any{
		"interval_minutes": hs.interval.Minutes(),
	})
	return nil
}

// Stop gracefully stops the heartbeat service.
func (hs *HeartbeatService) Stop() {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.stopChan == nil {
		return
	}
	logger.InfoC("heartbeat", "stopping heartbeat service")
	close(hs.stopChan)
	hs.stopChan = nil
}

// IsRunning returns whether the service is running.
func (hs *HeartbeatService) IsRunning() bool {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.stopChan != nil
}

func (hs *HeartbeatService) runLoop(stopChan chan struct{}) {
	ticker := time.NewTicker(hs.interval)
	defer ticker.Stop()

	time.AfterFunc(time.Second, func() {
		hs.executeHeartbeat()
	})

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			hs.executeHeartbeat()
		}
	}
}

// executeHeartbeat builds the prompt and publishes it as a synthetic
// inbound event on the system channel, addressed at the last channel the
// owner was seen on. It does nothing (and logs nothing noisy) when there
// is no prompt or no prior channel to address the event to — a freshly
// bootstrapped instance that has never seen a real message has nowhere to
// route a heartbeat.
func (hs *HeartbeatService) executeHeartbeat() {
	hs.mu.RLock()
	enabled := hs.enabled
	msgBus := hs.bus
	running := hs.stopChan != nil
	hs.mu.RUnlock()

	if !enabled || !running {
		return
	}

	logger.DebugC("heartbeat", "executing heartbeat")

	prompt := hs.buildPrompt()
	if prompt == "" {
		logger.InfoC("heartbeat", "no heartbeat prompt (HEARTBEAT.md empty or missing)")
		return
	}

	if msgBus == nil {
		logger.WarnC("heartbeat", "no message bus configured, heartbeat skipped")
		return
	}

	lastChannel := hs.state.GetLastChannel()
	if lastChannel == "" {
		logger.InfoC("heartbeat", "no last active channel recorded, heartbeat skipped")
		return
	}
	// The system-channel chat_id is "<channel>:<chat>"; older state files
	// may already hold the composite form in last_channel.
	target := lastChannel
	if lastChat := hs.state.GetLastChatID(); lastChat != "" && !strings.Contains(lastChannel, ":") {
		target = lastChannel + ":" + lastChat
	}

	pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pubCancel()

	err := msgBus.PublishInbound(pubCtx, bus.InboundMessage{
		Channel:       constants.SystemChannel,
		ChatID:        target,
		SenderID:      "heartbeat",
		Content:       prompt,
		TimestampUnix: time.Now().Unix(),
	})
	if err != nil {
		logger.WarnCF("heartbeat", "heartbeat event not published", map[string]any{"error": err.Error()})
		return
	}

	logger.InfoCF("heartbeat", "heartbeat event published", map[string]any{
		"chat_id": target,
	})
}

// buildPrompt builds the heartbeat prompt from HEARTBEAT.md.
func (hs *HeartbeatService) buildPrompt() string {
	heartbeatPath := filepath.Join(hs.workspace, "HEARTBEAT.md")

	data, err := os.ReadFile(heartbeatPath)
	if err != nil {
		if os.IsNotExist(err) {
			hs.createDefaultHeartbeatTemplate()
			return ""
		}
		logger.ErrorCF("heartbeat", "error reading HEARTBEAT.md", map[string]any{"error": err.Error()})
		return ""
	}

	content := string(data)
	if len(content) == 0 {
		return ""
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	return fmt.Sprintf(`# Heartbeat Check

Current time: %s

This is a scheduled proactive check, not a message from the owner. Review
the tasks below and take any necessary action. If nothing needs attention,
respond ONLY with: HEARTBEAT_OK

%s
`, now, content)
}

// createDefaultHeartbeatTemplate creates the default HEARTBEAT.md file.
func (hs *HeartbeatService) createDefaultHeartbeatTemplate() {
	heartbeatPath := filepath.Join(hs.workspace, "HEARTBEAT.md")

	defaultContent := `# Heartbeat Check List

This file contains tasks for the heartbeat service to check periodically.

## Examples

- Check for unread messages that still need a response
- Review upcoming reminders or calendar events
- Follow up on anything left pending from the last conversation

## Instructions

- Review every task listed below on each heartbeat run.
- Only respond with HEARTBEAT_OK when nothing needs attention.

---

Add your heartbeat tasks below this line:
`

	if err := fileutil.WriteFileAtomic(heartbeatPath, []byte(defaultContent), 0o644); err != nil {
		logger.ErrorCF("heartbeat", "failed to create default HEARTBEAT.md", map[string]any{"error": err.Error()})
	} else {
		logger.InfoC("heartbeat", "created default HEARTBEAT.md template")
	}
}
