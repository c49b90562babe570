package pipeline

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/sipeed/picoclaw-orchestrator/pkg/bus"
	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
)

// ideaWords and backlogWords are the multilingual single-word prefix forms
// recognized after accent-folding and lowercasing, beyond the literal
// "[idea]"/"idea:"/"#idea" markers.
var ideaWords = map[string]struct{}{
	"idea": {}, "idee": {}, "ideia": {}, "идея": {}, "아이디어": {}, "アイデア": {}, "想法": {},
}

var backlogWords = map[string]struct{}{
	"backlog": {}, "todo": {}, "aufgabe": {}, "tache": {}, "tarea": {}, "задача": {}, "任务": {}, "할일": {},
}

var ideaPhrases = []string{"new idea", "inbox idea"}
var backlogPhrases = []string{"to do"}

// DetectMemoryKind inspects the first word(s) of a normalized message for an
// idea/backlog prefix marker. It returns the kind and the content with the
// marker stripped, or ok=false if no marker was found.
func DetectMemoryKind(content string) (kind intents.MemoryKind, rest string, ok bool) {
	trimmed := strings.TrimSpace(content)
	lower := foldAccents(strings.ToLower(trimmed))

	for _, form := range []string{"[idea]", "idea:", "#idea"} {
		if strings.HasPrefix(lower, form) {
			return intents.MemoryKindIdea, strings.TrimSpace(trimmed[len(form):]), true
		}
	}
	for _, form := range []string{"[backlog]", "backlog:", "#backlog"} {
		if strings.HasPrefix(lower, form) {
			return intents.MemoryKindBacklog, strings.TrimSpace(trimmed[len(form):]), true
		}
	}

	for _, phrase := range ideaPhrases {
		if rest, matched := stripWordPrefix(lower, trimmed, phrase); matched {
			return intents.MemoryKindIdea, rest, true
		}
	}
	for _, phrase := range backlogPhrases {
		if rest, matched := stripWordPrefix(lower, trimmed, phrase); matched {
			return intents.MemoryKindBacklog, rest, true
		}
	}

	firstWord, remainder := splitFirstWord(lower, trimmed)
	if _, isIdea := ideaWords[firstWord]; isIdea {
		return intents.MemoryKindIdea, remainder, true
	}
	if _, isBacklog := backlogWords[firstWord]; isBacklog {
		return intents.MemoryKindBacklog, remainder, true
	}

	return "", "", false
}

func stripWordPrefix(lower, original, phrase string) (string, bool) {
	if !strings.HasPrefix(lower, phrase) {
		return "", false
	}
	rest := original[len(phrase):]
	rest = strings.TrimPrefix(strings.TrimSpace(rest), ":")
	return strings.TrimSpace(rest), true
}

func splitFirstWord(lower, original string) (word, remainder string) {
	idx := strings.IndexFunc(lower, unicode.IsSpace)
	if idx < 0 {
		return strings.Trim(lower, ":"), ""
	}
	word = strings.Trim(lower[:idx], ":")
	remainder = strings.TrimSpace(original[idx:])
	return word, remainder
}

// foldAccents strips combining diacritical marks so "idée"/"ideia" match
// "idea"-family comparisons consistently; it does not attempt full Unicode
// normalization beyond NFD decomposition + mark removal.
func foldAccents(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const ideaReactionEmoji = "💡"
const backlogReactionEmoji = "📌"

// IdeaCaptureStage detects an idea/backlog marker on an accepted WhatsApp
// event, runs input security on the canonical (marker-stripped) form, and
// on a clean result records a manual memory plus a reaction, halting the
// chain before policy's access/reply gates run.
func IdeaCaptureStage(security SecurityInput) Middleware {
	return func(c *Context, next func(*Context)) {
		if c.Event.Channel != "whatsapp" || !c.Decision.AcceptMessage {
			next(c)
			return
		}
		kind, rest, ok := DetectMemoryKind(c.Event.NormalizedContent())
		if !ok {
			next(c)
			return
		}

		canonical := strings.ToUpper(string(kind)) + ": " + rest
		if security != nil {
			verdict := security.CheckInput(c.Ctx, canonical)
			if verdict.Action == "block" {
				next(c)
				return
			}
		}

		label := "[IDEA] "
		emoji := ideaReactionEmoji
		if kind == intents.MemoryKindBacklog {
			label = "[BACKLOG] "
			emoji = backlogReactionEmoji
		}
		content := label + rest

		c.Emit(intents.RecordManualMemory{
			Channel: c.Event.Channel, ChatID: c.Event.ChatID, SenderID: c.Event.SenderID,
			Content: content, Kind: kind,
		})
		if c.Event.MessageID != "" {
			c.Emit(intents.SendReaction{
				Channel: c.Event.Channel, ChatID: c.Event.ChatID,
				MessageID: c.Event.MessageID, Emoji: emoji, Participant: c.Event.Participant,
			})
		} else {
			c.Emit(intents.SendOutbound{Event: bus.OutboundMessage{
				Channel: c.Event.Channel, ChatID: c.Event.ChatID, Content: emoji,
			}})
		}
		c.Emit(metricIntent("idea_capture_saved", 1, map[string]string{"kind": string(kind)}))
		c.Halt()
	}
}
