package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidationError aggregates every offending field path found during a single
// validation pass, so a reload or startup failure can point at all of them
// at once rather than stopping at the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "policy validation failed: " + strings.Join(e.Problems, "; ")
}

// Validate checks cfg for the load-time invariants. workspace is used to
// reject persona file paths that escape it; knownTools is the runtime's
// registered tool set.
func Validate(cfg *Config, workspace string, knownTools map[string]struct{}) error {
	var problems []string

	check := func(channel, chatID string, policy ChatPolicy, pathPrefix string) {
		if policy.WhoCanTalk.Mode == WhoCanTalkOwnerOnly {
			if len(cfg.Owners[channel]) == 0 {
				problems = append(problems, fmt.Sprintf(
					"%s.whoCanTalk.mode=owner_only requires a non-empty owners[%q] list", pathPrefix, channel))
			}
		}
		if policy.WhenToReply.Mode == ReplyModeOwnerOnly {
			if len(cfg.Owners[channel]) == 0 {
				problems = append(problems, fmt.Sprintf(
					"%s.whenToReply.mode=owner_only requires a non-empty owners[%q] list", pathPrefix, channel))
			}
		}
		for _, t := range policy.AllowedTools.Tools {
			if _, ok := knownTools[t]; !ok {
				problems = append(problems, fmt.Sprintf("%s.allowedTools.tools contains unknown tool %q", pathPrefix, t))
			}
		}
		for _, t := range policy.AllowedTools.Deny {
			if _, ok := knownTools[t]; !ok {
				problems = append(problems, fmt.Sprintf("%s.allowedTools.deny contains unknown tool %q", pathPrefix, t))
			}
		}
		for tool := range policy.ToolAccess {
			if _, ok := knownTools[tool]; !ok {
				problems = append(problems, fmt.Sprintf("%s.toolAccess contains unknown tool %q", pathPrefix, tool))
			}
		}
		if policy.PersonaFile != "" {
			if err := validatePersonaPath(workspace, policy.PersonaFile); err != nil {
				problems = append(problems, fmt.Sprintf("%s.personaFile: %v", pathPrefix, err))
			}
		}
	}

	check("", "", cfg.Defaults, "defaults")

	for channel, chPolicy := range cfg.Channels {
		merged := applyOverride(cfg.Defaults, chPolicy.Default)
		check(channel, "", merged, fmt.Sprintf("channels[%s].default", channel))
		for chatID, override := range chPolicy.Chats {
			chatMerged := applyOverride(merged, override)
			check(channel, chatID, chatMerged, fmt.Sprintf("channels[%s].chats[%s]", channel, chatID))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// validatePersonaPath rejects absolute paths and ".." segments that would
// resolve outside workspace after Clean+Join.
func validatePersonaPath(workspace, personaFile string) error {
	if filepath.IsAbs(personaFile) {
		return fmt.Errorf("must be workspace-relative, got absolute path %q", personaFile)
	}
	joined := filepath.Join(workspace, personaFile)
	cleanWorkspace := filepath.Clean(workspace)
	rel, err := filepath.Rel(cleanWorkspace, joined)
	if err != nil {
		return fmt.Errorf("cannot resolve relative to workspace: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("resolves outside workspace: %q", personaFile)
	}
	return nil
}
