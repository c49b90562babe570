package pipeline

import (
	"strings"

	"github.com/h2non/filetype"
)

// AnnotateMediaKinds sniffs the content type of each media attachment on ev
// and records the kinds ("audio", "image", "video", ...) under
// Metadata["media_kinds"]. An audio attachment marks the event as a voice
// message, which feeds both the wake-phrase path in policy evaluation and
// the in-kind voice-reply decision in outbound assembly.
func AnnotateMediaKinds(ev *Event) {
	if v, ok := ev.Metadata["is_voice"]; ok {
		if s, ok := v.(string); ok && s == "true" {
			ev.IsVoice = true
		}
		if b, ok := v.(bool); ok && b {
			ev.IsVoice = true
		}
	}
	if len(ev.Media) == 0 {
		return
	}

	kinds := make([]string, 0, len(ev.Media))
	for _, path := range ev.Media {
		kind := sniffMediaKind(path)
		kinds = append(kinds, kind)
		if kind == "audio" {
			ev.IsVoice = true
		}
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	ev.Metadata["media_kinds"] = kinds
}

// sniffMediaKind reads the file header to classify the attachment,
// falling back to the extension when the file is unreadable (e.g. a
// media:// store ref rather than a local path).
func sniffMediaKind(path string) string {
	if t, err := filetype.MatchFile(path); err == nil && t.MIME.Type != "" {
		return t.MIME.Type
	}
	lower := strings.ToLower(path)
	switch {
	case hasAnySuffix(lower, ".ogg", ".opus", ".mp3", ".m4a", ".wav", ".flac"):
		return "audio"
	case hasAnySuffix(lower, ".jpg", ".jpeg", ".png", ".gif", ".webp"):
		return "image"
	case hasAnySuffix(lower, ".mp4", ".mov", ".webm", ".mkv"):
		return "video"
	default:
		return "file"
	}
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
