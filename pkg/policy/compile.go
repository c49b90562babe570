package policy

import "github.com/sipeed/picoclaw-orchestrator/pkg/identity"

// compiledChat is the fully-merged, set-normalized form of a ChatPolicy used
// on the per-event evaluate path. Evaluate never touches raw config again.
type compiledChat struct {
	whoCanTalkMode WhoCanTalkMode
	whoCanTalkSet  map[string]struct{}

	whenToReplyMode ReplyMode
	whenToReplySet  map[string]struct{}
	wakePhrases     map[string]struct{}

	blockedSenders map[string]struct{}

	allowedTools map[string]struct{} // fully resolved base set (mode+deny applied)
	toolAccess   map[string]compiledToolAccess

	personaFile string
	notes       NotesConfig
	voice       VoiceConfig
}

type compiledToolAccess struct {
	mode  WhoCanTalkMode
	set   map[string]struct{}
}

// CompiledPolicy is the read-optimized snapshot evaluate() runs against. It
// is swapped in atomically on every successful reload.
type CompiledPolicy struct {
	owners        map[string]map[string]struct{} // channel -> normalized owner token set
	applyChannels map[string]struct{}
	runtime       RuntimeConfig
	chats         map[string]map[string]*compiledChat // channel -> chat_id -> compiled; "" key is channel default
	knownTools    map[string]struct{}
	raw           *Config // retained for admin mutation cloning and content-hashing
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		tok := identity.NormalizeToken(it)
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// Compile merges defaults -> channel default -> chat override for every
// channel in ApplyChannels and every chat override present, producing a
// read-optimized CompiledPolicy. It does not validate; call Validate first.
func Compile(cfg *Config, knownTools []string) *CompiledPolicy {
	cp := &CompiledPolicy{
		owners:        map[string]map[string]struct{}{},
		applyChannels: toSet(cfg.ApplyChannels),
		runtime:       cfg.Runtime,
		chats:         map[string]map[string]*compiledChat{},
		knownTools:    toSet(knownTools),
		raw:           cfg,
	}

	for ch, owners := range cfg.Owners {
		cp.owners[ch] = toSet(owners)
	}

	for channel := range cp.applyChannels {
		chPolicy := cfg.Channels[channel]
		base := applyOverride(cfg.Defaults, chPolicy.Default)
		perChat := map[string]*compiledChat{
			"": compileChat(base, cp.knownTools),
		}
		for chatID, override := range chPolicy.Chats {
			merged := applyOverride(base, override)
			perChat[chatID] = compileChat(merged, cp.knownTools)
		}
		cp.chats[channel] = perChat
	}

	return cp
}

// applyOverride deep-merges an override onto a base ChatPolicy. List-valued
// fields replace rather than concatenate; absent sub-sections inherit.
func applyOverride(base ChatPolicy, ov ChatPolicyOverride) ChatPolicy {
	out := base
	if ov.WhoCanTalk != nil {
		out.WhoCanTalk = *ov.WhoCanTalk
	}
	if ov.WhenToReply != nil {
		out.WhenToReply = *ov.WhenToReply
	}
	if ov.BlockedSenders != nil {
		out.BlockedSenders = ov.BlockedSenders
	}
	if ov.AllowedTools != nil {
		out.AllowedTools = *ov.AllowedTools
	}
	if ov.ToolAccess != nil {
		merged := make(map[string]ToolAccess, len(base.ToolAccess)+len(ov.ToolAccess))
		for k, v := range base.ToolAccess {
			merged[k] = v
		}
		for k, v := range ov.ToolAccess {
			v.Comment = "" // human annotation, stripped before merge
			merged[k] = v
		}
		out.ToolAccess = merged
	}
	if ov.PersonaFile != nil {
		out.PersonaFile = *ov.PersonaFile
	}
	if ov.Notes != nil {
		out.Notes = *ov.Notes
	}
	if ov.Voice != nil {
		out.Voice = *ov.Voice
	}
	return out
}

func compileChat(cp ChatPolicy, knownTools map[string]struct{}) *compiledChat {
	out := &compiledChat{
		whoCanTalkMode:  cp.WhoCanTalk.Mode,
		whoCanTalkSet:   toSet(cp.WhoCanTalk.Senders),
		whenToReplyMode: cp.WhenToReply.Mode,
		whenToReplySet:  toSet(cp.WhenToReply.Senders),
		wakePhrases:     toSet(cp.WhenToReply.WakePhrases),
		blockedSenders:  toSet(cp.BlockedSenders),
		personaFile:     cp.PersonaFile,
		notes:           cp.Notes,
		voice:           cp.Voice,
		toolAccess:      map[string]compiledToolAccess{},
	}

	base := resolveBaseTools(cp.AllowedTools, knownTools)
	for tool, access := range cp.ToolAccess {
		out.toolAccess[tool] = compiledToolAccess{mode: access.Mode, set: toSet(access.Senders)}
	}

	// Guardrail: exec denied implies spawn denied, regardless of explicit config.
	if _, execOK := base["exec"]; !execOK {
		delete(base, "spawn")
	}
	out.allowedTools = base
	return out
}

func resolveBaseTools(at AllowedTools, known map[string]struct{}) map[string]struct{} {
	result := map[string]struct{}{}
	switch at.Mode {
	case ToolsModeAllowlist:
		for _, t := range at.Tools {
			if _, ok := known[t]; ok {
				result[t] = struct{}{}
			}
		}
	default: // "all" or unset
		for t := range known {
			result[t] = struct{}{}
		}
	}
	for _, d := range at.Deny {
		delete(result, d)
	}
	return result
}
