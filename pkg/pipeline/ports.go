package pipeline

import (
	"context"

	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
	"github.com/sipeed/picoclaw-orchestrator/pkg/security"
)

// Responder generates a reply for an accepted, should-respond event. Tool
// execution, memory lookups, and LLM calls all happen behind this port;
// the pipeline never touches them directly.
type Responder interface {
	GenerateReply(ctx context.Context, ev Event, decision policy.Decision) (string, error)
}

// TypingNotifier toggles the channel-native typing indicator. When absent,
// stages emit SetTyping intents instead and the Orchestrator dispatches them.
type TypingNotifier interface {
	SetTyping(ctx context.Context, channel, chatID string, enabled bool) error
}

// ArchivedMessage is one row returned by the reply archive.
type ArchivedMessage struct {
	Channel     string
	ChatID      string
	MessageID   string
	Participant string
	SenderID    string
	Text        string
	UnixTime    int64
}

// Archive is the reply-archive port: record inbound traffic and look it up
// for quoted-message and ambient-window resolution.
type Archive interface {
	RecordInbound(ctx context.Context, ev Event) error
	// RecordSynthetic seeds a row addressed by messageID when ev carries
	// ReplyToText but the quoted message was never itself archived.
	RecordSynthetic(ctx context.Context, channel, chatID, messageID, participant, text string, unixTime int64) error
	LookupMessage(ctx context.Context, channel, chatID, messageID string) (ArchivedMessage, bool, error)
	LookupMessageAnyChat(ctx context.Context, channel, messageID, preferredChatID string) (ArchivedMessage, bool, error)
	LookupMessagesBefore(ctx context.Context, channel, chatID string, anchorUnixTime int64, limit int) ([]ArchivedMessage, error)
}

// AdminCommandHandler intercepts admin slash-commands; it reports whether it
// handled the event (in which case the pipeline halts after it runs) and any
// reply text to send back to the caller.
type AdminCommandHandler interface {
	TryHandle(ctx context.Context, ev Event) (handled bool, reply string, err error)
}

// SecurityInput is the subset of security.Engine the input-security stage needs.
type SecurityInput interface {
	CheckInput(ctx context.Context, text string) security.Verdict
}

// SecurityOutput is the subset of security.Engine the outbound stage needs.
type SecurityOutput interface {
	CheckOutput(text string) security.Verdict
}

// GroupMetadata is the readable name/description a channel adapter can
// supply for a newly-observed group chat.
type GroupMetadata struct {
	Subject     string
	Description string
}

// GroupMetadataLookup resolves display metadata for a chat_id, when the
// channel adapter supports it. Implementations return ok=false rather than
// an error when metadata simply isn't available.
type GroupMetadataLookup interface {
	LookupGroup(ctx context.Context, channel, chatID string) (GroupMetadata, bool)
}

// SeenChats is the persistent registry of chat_ids the core has already
// sent a new-chat notification for.
type SeenChats interface {
	MarkSeen(channel, chatID string) (firstTime bool, err error)
}

// TTSProfile is a resolved text-to-speech provider profile for a route key.
type TTSProfile struct {
	Route  string
	Voice  string
	Format string
}

// ModelRouter resolves a logical route key (optionally channel-scoped) to a
// concrete TTS profile. The core never talks to a TTS provider directly.
type ModelRouter interface {
	ResolveTTSRoute(ctx context.Context, channel, routeKey string) (TTSProfile, error)
}

// TTSSynthesizer turns text into a spoken audio file behind the resolved
// profile, returning a local path the channel adapter can attach as media.
type TTSSynthesizer interface {
	Synthesize(ctx context.Context, profile TTSProfile, text string) (audioPath string, err error)
}

// OwnerAlerter surfaces a rate-limited diagnostic message to the owner, used
// when voice synthesis falls back to text.
type OwnerAlerter interface {
	Alert(ctx context.Context, channel, reason, message string) error
}
