// Package serve wires the core together: bus, policy engine, admin
// service, archive, pipeline, orchestrator, and schedulers. Channel
// adapters and the LLM responder are external collaborators; the engine
// runs the full mediation plane without them and an embedding build plugs
// its responder in through ResponderFactory.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sipeed/picoclaw-orchestrator/pkg/archive"
	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/config"
	"github.com/sipeed/picoclaw-orchestrator/pkg/cron"
	"github.com/sipeed/picoclaw-orchestrator/pkg/heartbeat"
	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
	"github.com/sipeed/picoclaw-orchestrator/pkg/orchestrator"
	"github.com/sipeed/picoclaw-orchestrator/pkg/pipeline"
	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
	"github.com/sipeed/picoclaw-orchestrator/pkg/policyadmin"
	"github.com/sipeed/picoclaw-orchestrator/pkg/security"
	"github.com/sipeed/picoclaw-orchestrator/pkg/state"
	"github.com/sipeed/picoclaw-orchestrator/pkg/tools"
)

// ResponderFactory builds the reply-generation port. The default produces
// a responder that generates no replies, which still exercises the whole
// mediation plane (policy, security, archive, admin commands, captures);
// an embedding build overrides this with its LLM-backed responder.
var ResponderFactory = func(cfg *config.Config) pipeline.Responder {
	logger.WarnC("serve", "no responder configured; events will be mediated but not answered")
	return silentResponder{}
}

type silentResponder struct{}

func (silentResponder) GenerateReply(context.Context, pipeline.Event, policy.Decision) (string, error) {
	return "", nil
}

// seedDefaultPolicy writes a conservative starter policy on first run so
// the engine has something valid to load: everyone may talk, groups only
// get replies on mention, all registered tools available.
func seedDefaultPolicy(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	starter := &policy.Config{
		Version:       1,
		ApplyChannels: []string{"whatsapp"},
		Defaults: policy.ChatPolicy{
			WhoCanTalk:   policy.WhoCanTalk{Mode: policy.WhoCanTalkEveryone},
			WhenToReply:  policy.WhenToReply{Mode: policy.ReplyModeMentionOnly},
			AllowedTools: policy.AllowedTools{Mode: policy.ToolsModeAll},
		},
	}
	logger.InfoCF("serve", "seeded starter policy", map[string]any{"path": path})
	return policy.SaveFile(path, starter)
}

func serveCmd(configPath string, debug bool, logFilter string) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
	if logFilter != "" {
		logger.SetComponentFilter(logFilter)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("error creating data dir: %w", err)
	}

	registry := tools.NewRegistry()
	knownTools := tools.DefaultToolNames()
	for name := range registry.Names() {
		knownTools[name] = struct{}{}
	}

	if err := seedDefaultPolicy(cfg.PolicyPath()); err != nil {
		return fmt.Errorf("error seeding default policy: %w", err)
	}
	policyEngine, err := policy.NewEngine(
		cfg.PolicyPath(),
		cfg.WorkspacePath(),
		knownTools,
		time.Duration(cfg.Policy.ReloadIntervalSeconds)*time.Second,
	)
	if err != nil {
		// Startup policy validation is the one fatal error in the core.
		return fmt.Errorf("policy validation failed: %w", err)
	}

	journal := policyadmin.NewJournal(filepath.Dir(cfg.PolicyPath()))
	adminSvc := policyadmin.NewService(
		cfg.PolicyPath(),
		cfg.WorkspacePath(),
		knownTools,
		policyEngine.Reload,
		nil, // group directory is provided by a running bridge; nil disables group-ref lookup
		journal,
		10,
		true,
	)

	store, err := archive.Open(cfg.ArchivePath(), time.Duration(cfg.Archive.RetentionDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("error opening reply archive: %w", err)
	}
	defer store.Close()

	seenChats, err := state.NewSeenChats(cfg.SeenChatsPath())
	if err != nil {
		return fmt.Errorf("error loading seen-chats registry: %w", err)
	}

	securityEngine := security.NewEngine(security.Config{})

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	dedup := pipeline.NewDeduplicator(time.Duration(cfg.Pipeline.DedupTTLMinutes) * time.Minute)
	runner := pipeline.NewRunner(
		pipeline.NormalizationStage(),
		dedup.Stage(),
		pipeline.ArchiveStage(store),
		pipeline.ReplyContextStage(store, pipeline.ReplyContextConfig{
			AmbientWindowSize:      cfg.Pipeline.AmbientWindowSize,
			ReplyContextWindowSize: cfg.Pipeline.ReplyContextWindowSize,
			PerLineCharLimit:       cfg.Pipeline.WindowLineCharLimit,
		}),
		pipeline.AdminStage(policyadmin.NewHandler(adminSvc)),
		pipeline.PolicyStage(policyEngine),
		pipeline.IdeaCaptureStage(securityEngine),
		pipeline.AccessStage(),
		pipeline.NewChatStage(seenChats, pipeline.NewChatConfig{OwnerChatID: cfg.OwnerChatID}),
		pipeline.NoReplyStage(),
		pipeline.InputSecurityStage(securityEngine, pipeline.InputSecurityConfig{
			BlockReactionEmoji: cfg.Pipeline.BlockReactionEmoji,
			BlockMessage:       cfg.Pipeline.SecurityBlockMessage,
		}),
		pipeline.ResponderStage(ResponderFactory(cfg), nil),
		pipeline.OutboundAssemblyStage(pipeline.OutboundConfig{
			Security:             securityEngine,
			SecurityBlockMessage: cfg.Pipeline.SecurityBlockMessage,
			OwnerAlertCooldown:   time.Duration(cfg.Voice.OwnerAlertCooldownSeconds) * time.Second,
		}),
	)

	stateManager := state.NewManager(cfg.WorkspacePath())
	svc := orchestrator.NewService(msgBus, runner, orchestrator.Ports{Route: stateManager})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go policyEngine.Watch(ctx)
	go svc.Run(ctx)
	cronSvc := cron.NewCronService(cfg.CronStorePath(), cron.NewBusJobHandler(msgBus, registry, func() string {
		channel, chatID := stateManager.GetLastChannel(), stateManager.GetLastChatID()
		if channel == "" || chatID == "" {
			return ""
		}
		return channel + ":" + chatID
	}))
	if err := cronSvc.Start(); err != nil {
		return fmt.Errorf("error starting cron service: %w", err)
	}
	defer cronSvc.Stop()

	hb := heartbeat.NewHeartbeatService(cfg.WorkspacePath(), cfg.Heartbeat.IntervalMinutes, cfg.Heartbeat.Enabled)
	hb.SetBus(msgBus)
	if err := hb.Start(); err != nil {
		return fmt.Errorf("error starting heartbeat service: %w", err)
	}
	defer hb.Stop()

	logger.InfoCF("serve", "orchestration engine running", map[string]any{
		"policy":  cfg.PolicyPath(),
		"archive": cfg.ArchivePath(),
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.InfoC("serve", "shutting down")
	return registry.CloseAll()
}
