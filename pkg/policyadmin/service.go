package policyadmin

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
)

// GroupDirectory lists the group chats a channel's bridge currently knows
// about, for group-reference resolution.
type GroupDirectory interface {
	ListGroups(channel string) []GroupRef
}

// Service parses and executes policy admin commands: validate, journal,
// and atomically apply mutations, with rollback support.
type Service struct {
	PolicyPath   string
	Workspace    string
	KnownTools   map[string]struct{}
	Reload       func() error
	Groups       GroupDirectory
	Journal      *Journal
	RateLimiter  *slidingWindowLimiter
	RequireConfirmRisky bool
	DefaultChannel string // channel group-reference commands resolve against
}

// NewService wires a Service with its rate limiter sized from
// runtime.adminRateLimitPerMinute.
func NewService(policyPath, workspace string, knownTools map[string]struct{}, reload func() error, groups GroupDirectory, journal *Journal, ratePerMinute int, requireConfirmRisky bool) *Service {
	return &Service{
		PolicyPath:     policyPath,
		Workspace:      workspace,
		KnownTools:     knownTools,
		Reload:         reload,
		Groups:         groups,
		Journal:        journal,
		RateLimiter:    newSlidingWindowLimiter(ratePerMinute),
		RequireConfirmRisky: requireConfirmRisky,
		DefaultChannel: "whatsapp",
	}
}

// Execute parses and runs cmdText on behalf of actor.
func (s *Service) Execute(actor ActorContext, cmdText string) Result {
	parsed, ok := Parse(cmdText)
	if !ok {
		return Result{Outcome: OutcomeUnknown, Message: "not a policy command"}
	}
	if parsed.Subcommand == "" {
		return s.help()
	}

	meta, known := lookupCommand(parsed.Subcommand)
	if !known {
		return Result{Outcome: OutcomeUnknown, Message: fmt.Sprintf("unknown subcommand %q", parsed.Subcommand)}
	}

	if actor.Source == ActorDM && !actor.IsOwner {
		return Result{Outcome: OutcomeDenied, Message: "only the owner may run policy commands"}
	}
	if !s.RateLimiter.Allow(actor.ActorID) {
		return Result{Outcome: OutcomeDenied, Message: "rate limit exceeded, try again shortly"}
	}
	if meta.Risky && s.RequireConfirmRisky && !parsed.Options.Confirm {
		return Result{Outcome: OutcomeDenied, Message: fmt.Sprintf("%s is risky; re-run with --confirm", parsed.Subcommand)}
	}

	if !meta.Mutating {
		return s.dispatchReadonly(parsed)
	}
	return s.dispatchMutation(actor, parsed, false)
}

func (s *Service) help() Result {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return Result{Outcome: OutcomeInvalid, Message: "usage: policy <" + strings.Join(names, "|") + "> [args...] [--dry-run] [--confirm]"}
}

func (s *Service) dispatchReadonly(p ParsedCommand) Result {
	switch p.Subcommand {
	case "help":
		return s.help()
	case "list-groups":
		return s.listGroups()
	case "resolve-group":
		return s.resolveGroupCommand(p)
	case "status-group", "explain-group":
		return s.statusGroup(p)
	case "list-blocked":
		return s.listBlocked()
	case "history":
		return s.history(p)
	default:
		return Result{Outcome: OutcomeUnknown, Message: fmt.Sprintf("unhandled readonly subcommand %q", p.Subcommand)}
	}
}

func (s *Service) listGroups() Result {
	if s.Groups == nil {
		return Result{Outcome: OutcomeInvalid, Message: "no group directory available"}
	}
	refs := s.Groups.ListGroups(s.DefaultChannel)
	lines := make([]string, 0, len(refs))
	for _, r := range refs {
		label := r.Tag
		if label == "" {
			label = r.Subject
		}
		lines = append(lines, fmt.Sprintf("%s — %s (%s)", GroupAlias(r.ChatID), label, r.ChatID))
	}
	return Result{Outcome: OutcomeApplied, Message: strings.Join(lines, "\n")}
}

func (s *Service) resolveGroupCommand(p ParsedCommand) Result {
	if len(p.Args) == 0 {
		return Result{Outcome: OutcomeInvalid, Message: "usage: policy resolve-group <ref>"}
	}
	ref, err := s.resolveGroup(p.Args[0])
	if err != nil {
		return Result{Outcome: OutcomeInvalid, Message: err.Error()}
	}
	return Result{Outcome: OutcomeApplied, Message: fmt.Sprintf("%s -> %s", p.Args[0], ref.ChatID)}
}

func (s *Service) statusGroup(p ParsedCommand) Result {
	if len(p.Args) == 0 {
		return Result{Outcome: OutcomeInvalid, Message: "usage: policy status-group <ref>"}
	}
	ref, err := s.resolveGroup(p.Args[0])
	if err != nil {
		return Result{Outcome: OutcomeInvalid, Message: err.Error()}
	}
	cfg, err := policy.LoadFile(s.PolicyPath)
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error(), Err: err}
	}
	ch := cfg.Channels[s.DefaultChannel]
	override, hasOverride := ch.Chats[ref.ChatID]
	if !hasOverride {
		return Result{Outcome: OutcomeApplied, Message: fmt.Sprintf("%s: no chat-specific override (inherits channel default)", ref.ChatID)}
	}
	hash, _ := policy.ContentHash(&policy.Config{Defaults: policy.ChatPolicy{}, Channels: map[string]policy.ChannelPolicy{
		s.DefaultChannel: {Chats: map[string]policy.ChatPolicyOverride{ref.ChatID: override}},
	}})
	return Result{Outcome: OutcomeApplied, Message: fmt.Sprintf("%s: override present (hash %s)", ref.ChatID, hash)}
}

func (s *Service) listBlocked() Result {
	cfg, err := policy.LoadFile(s.PolicyPath)
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error(), Err: err}
	}
	return Result{Outcome: OutcomeApplied, Message: strings.Join(cfg.Defaults.BlockedSenders, ", ")}
}

func (s *Service) history(p ParsedCommand) Result {
	n := 10
	if len(p.Args) > 0 {
		fmt.Sscanf(p.Args[0], "%d", &n)
	}
	rows, err := s.Journal.History(n)
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error(), Err: err}
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s  %s  %s  %s", r.Timestamp.Format("2006-01-02T15:04:05Z"), r.ChangeID, r.Command, r.Result))
	}
	return Result{Outcome: OutcomeApplied, Message: strings.Join(lines, "\n")}
}

func (s *Service) resolveGroup(query string) (GroupRef, error) {
	trimmed := strings.TrimSpace(query)
	// A full JID resolves verbatim even when the bridge doesn't list the
	// group (yet): approving a brand-new chat must not depend on a running
	// bridge or on directory freshness.
	if strings.HasSuffix(strings.ToLower(trimmed), "@g.us") {
		return GroupRef{ChatID: trimmed}, nil
	}
	if s.Groups == nil {
		return GroupRef{}, fmt.Errorf("no group directory available to resolve %q", query)
	}
	return ResolveGroup(query, s.Groups.ListGroups(s.DefaultChannel))
}

// dispatchMutation runs the full mutation pipeline: clone,
// apply, hash, dry-run short-circuit, validate, backup, atomic write,
// journal, reload.
func (s *Service) dispatchMutation(actor ActorContext, p ParsedCommand, isRollback bool) Result {
	current, err := policy.LoadFile(s.PolicyPath)
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error(), Err: err}
	}
	beforeHash, err := policy.ContentHash(current)
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error(), Err: err}
	}

	var candidate *policy.Config
	if p.Subcommand == "rollback" {
		candidate, err = s.buildRollbackCandidate(p)
	} else {
		candidate, err = s.applyMutation(current, p)
	}
	if err != nil {
		return Result{Outcome: OutcomeInvalid, Message: err.Error()}
	}

	afterHash, err := policy.ContentHash(candidate)
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error(), Err: err}
	}
	if afterHash == beforeHash {
		return Result{Outcome: OutcomeNoop, Message: "no change", BeforeHash: beforeHash, AfterHash: afterHash}
	}

	if err := policy.Validate(candidate, s.Workspace, s.KnownTools); err != nil {
		return Result{Outcome: OutcomeInvalid, Message: err.Error()}
	}

	if p.Options.DryRun {
		return Result{Outcome: OutcomeApplied, DryRun: true, Message: "validated (dry run, not applied)", BeforeHash: beforeHash, AfterHash: afterHash}
	}

	changeID := uuid.NewString()
	backupRef, err := s.Journal.Backup(changeID, current)
	if err != nil {
		return Result{Outcome: OutcomeError, Message: err.Error(), Err: err}
	}
	if err := policy.SaveFile(s.PolicyPath, candidate); err != nil {
		s.appendAudit(actor, p, changeID, beforeHash, afterHash, backupRef, OutcomeError, err, isRollback)
		return Result{Outcome: OutcomeError, Message: err.Error(), Err: err}
	}

	auditFailed := false
	if err := s.appendAudit(actor, p, changeID, beforeHash, afterHash, backupRef, OutcomeApplied, nil, isRollback); err != nil {
		auditFailed = true
		logger.ErrorCF("policyadmin", "audit append failed after policy write", map[string]any{"error": err.Error(), "change_id": changeID})
	}

	if s.Reload != nil {
		if err := s.Reload(); err != nil {
			logger.ErrorCF("policyadmin", "reload callback failed after policy mutation", map[string]any{"error": err.Error()})
		}
	}

	return Result{
		Outcome: OutcomeApplied, ChangeID: changeID, BeforeHash: beforeHash, AfterHash: afterHash,
		AuditWriteFailed: auditFailed, Message: fmt.Sprintf("applied (change %s)", changeID),
	}
}

func (s *Service) appendAudit(actor ActorContext, p ParsedCommand, changeID, before, after, backupRef string, outcome Outcome, mutationErr error, isRollback bool) error {
	entry := AuditEntry{
		ChangeID: changeID, Timestamp: time.Now().UTC(), ActorSource: actor.Source, ActorID: actor.ActorID,
		Channel: actor.Channel, ChatID: actor.ChatID, Command: p.Raw, DryRun: p.Options.DryRun,
		Result: outcome, BeforeHash: before, AfterHash: after, BackupRef: backupRef, IsRollback: isRollback,
	}
	if mutationErr != nil {
		entry.Error = mutationErr.Error()
	}
	return s.Journal.Append(entry)
}

// Rollback handles "rollback <change-id>" by loading the backup addressed by
// that change's audit row and re-committing it through the same mutation
// pipeline.
func (s *Service) buildRollbackCandidate(p ParsedCommand) (*policy.Config, error) {
	if len(p.Args) == 0 {
		return nil, fmt.Errorf("usage: policy rollback <change-id>")
	}
	entry, found, err := s.Journal.FindByChangeID(p.Args[0])
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no audit entry for change %q", p.Args[0])
	}
	if entry.BackupRef == "" {
		return nil, fmt.Errorf("change %q has no backup to roll back to", p.Args[0])
	}
	return s.Journal.LoadBackup(entry.BackupRef)
}

// applyMutation clones current and applies the minimal override change for
// every non-rollback mutating subcommand.
func (s *Service) applyMutation(current *policy.Config, p ParsedCommand) (*policy.Config, error) {
	clone, err := policy.CloneConfig(current)
	if err != nil {
		return nil, err
	}
	if clone.Channels == nil {
		clone.Channels = map[string]policy.ChannelPolicy{}
	}

	switch p.Subcommand {
	case "allow-group", "block-group":
		return s.applyGroupGate(clone, p)
	case "set-when":
		return s.applySetWhen(clone, p)
	case "set-persona":
		return s.applySetPersona(clone, p, false)
	case "clear-persona":
		return s.applySetPersona(clone, p, true)
	case "block-sender":
		return s.applySenderBlock(clone, p, true)
	case "unblock-sender":
		return s.applySenderBlock(clone, p, false)
	default:
		return nil, fmt.Errorf("unhandled mutating subcommand %q", p.Subcommand)
	}
}

func (s *Service) chatOverride(cfg *policy.Config, chatID string) policy.ChatPolicyOverride {
	ch := cfg.Channels[s.DefaultChannel]
	if ch.Chats == nil {
		ch.Chats = map[string]policy.ChatPolicyOverride{}
	}
	cfg.Channels[s.DefaultChannel] = ch
	return ch.Chats[chatID]
}

func (s *Service) saveChatOverride(cfg *policy.Config, chatID string, ov policy.ChatPolicyOverride) {
	ch := cfg.Channels[s.DefaultChannel]
	if ch.Chats == nil {
		ch.Chats = map[string]policy.ChatPolicyOverride{}
	}
	ch.Chats[chatID] = ov
	cfg.Channels[s.DefaultChannel] = ch
}

func (s *Service) applyGroupGate(cfg *policy.Config, p ParsedCommand) (*policy.Config, error) {
	if len(p.Args) == 0 {
		return nil, fmt.Errorf("usage: policy %s <group-ref>", p.Subcommand)
	}
	ref, err := s.resolveGroup(p.Args[0])
	if err != nil {
		return nil, err
	}
	mode := policy.WhoCanTalkEveryone
	replyMode := policy.ReplyModeMentionOnly
	if p.Subcommand == "block-group" {
		mode = policy.WhoCanTalkOwnerOnly // closest non-destructive "no one but owner" posture
		replyMode = policy.ReplyModeOff
	}
	ov := s.chatOverride(cfg, ref.ChatID)
	ov.WhoCanTalk = &policy.WhoCanTalk{Mode: mode}
	ov.WhenToReply = &policy.WhenToReply{Mode: replyMode}
	s.saveChatOverride(cfg, ref.ChatID, ov)
	return cfg, nil
}

func (s *Service) applySetWhen(cfg *policy.Config, p ParsedCommand) (*policy.Config, error) {
	if len(p.Args) < 2 {
		return nil, fmt.Errorf("usage: policy set-when <group-ref> <all|mention_only|allowed_senders|owner_only|off>")
	}
	ref, err := s.resolveGroup(p.Args[0])
	if err != nil {
		return nil, err
	}
	mode := policy.ReplyMode(p.Args[1])
	switch mode {
	case policy.ReplyModeAll, policy.ReplyModeMentionOnly, policy.ReplyModeAllowedSender, policy.ReplyModeOwnerOnly, policy.ReplyModeOff:
	default:
		return nil, fmt.Errorf("invalid when_to_reply mode %q", p.Args[1])
	}
	ov := s.chatOverride(cfg, ref.ChatID)
	ov.WhenToReply = &policy.WhenToReply{Mode: mode}
	s.saveChatOverride(cfg, ref.ChatID, ov)
	return cfg, nil
}

func (s *Service) applySetPersona(cfg *policy.Config, p ParsedCommand, clear bool) (*policy.Config, error) {
	if len(p.Args) == 0 {
		return nil, fmt.Errorf("usage: policy set-persona <group-ref> <persona-file>")
	}
	ref, err := s.resolveGroup(p.Args[0])
	if err != nil {
		return nil, err
	}
	ov := s.chatOverride(cfg, ref.ChatID)
	if clear {
		empty := ""
		ov.PersonaFile = &empty
	} else {
		if len(p.Args) < 2 {
			return nil, fmt.Errorf("usage: policy set-persona <group-ref> <persona-file>")
		}
		file := p.Args[1]
		ov.PersonaFile = &file
	}
	s.saveChatOverride(cfg, ref.ChatID, ov)
	return cfg, nil
}

func (s *Service) applySenderBlock(cfg *policy.Config, p ParsedCommand, block bool) (*policy.Config, error) {
	if len(p.Args) == 0 {
		return nil, fmt.Errorf("usage: policy %s <sender>", p.Subcommand)
	}
	sender := strings.ToLower(strings.TrimSpace(p.Args[0]))
	blocked := cfg.Defaults.BlockedSenders
	if block {
		for _, b := range blocked {
			if b == sender {
				return cfg, nil
			}
		}
		cfg.Defaults.BlockedSenders = append(blocked, sender)
	} else {
		out := blocked[:0]
		for _, b := range blocked {
			if b != sender {
				out = append(out, b)
			}
		}
		cfg.Defaults.BlockedSenders = out
	}
	return cfg, nil
}
