package tools

// DefaultToolNames is the canonical tool universe policy documents may
// reference. A running gateway derives the known-tools set from its live
// Registry; offline surfaces (the policy CLI, config linting) fall back to
// this list so a valid policy isn't rejected just because no tools are
// loaded in-process.
func DefaultToolNames() map[string]struct{} {
	names := []string{
		"fs_read", "fs_write", "fs_list",
		"exec", "spawn",
		"web_fetch", "web_search",
		"send_message", "send_voice",
		"memory_save", "memory_search",
		"cron",
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
