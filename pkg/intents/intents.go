// Package intents defines the closed set of side-effecting actions a
// pipeline run can request. The Orchestrator dispatches each one after the
// pipeline completes; middleware never performs I/O directly.
package intents

import "github.com/sipeed/picoclaw-orchestrator/pkg/bus"

// Intent is the tagged-union interface every intent variant implements.
// isIntent is unexported so no package outside intents can add a variant,
// keeping every dispatcher's type switch exhaustive and compiler-checked.
type Intent interface {
	isIntent()
}

type SetTyping struct {
	Channel string
	ChatID  string
	Enabled bool
}

func (SetTyping) isIntent() {}

type SendOutbound struct {
	Event bus.OutboundMessage
}

func (SendOutbound) isIntent() {}

type SendReaction struct {
	Channel     string
	ChatID      string
	MessageID   string
	Emoji       string
	Participant string
}

func (SendReaction) isIntent() {}

type PersistSession struct {
	SessionKey       string
	UserContent      string
	AssistantContent string
}

func (PersistSession) isIntent() {}

// NotesCaptureSource describes why a notes capture was queued, for metrics
// and debugging.
type NotesCaptureSource string

const (
	NotesSourceAccessDrop NotesCaptureSource = "access_drop"
	NotesSourceNoReplyDrop NotesCaptureSource = "no_reply_drop"
)

type QueueMemoryNotesCapture struct {
	Channel  string
	ChatID   string
	SenderID string
	Content  string
	Source   NotesCaptureSource
}

func (QueueMemoryNotesCapture) isIntent() {}

// MemoryKind distinguishes an idea capture from a backlog/todo capture.
type MemoryKind string

const (
	MemoryKindIdea    MemoryKind = "idea"
	MemoryKindBacklog MemoryKind = "backlog"
)

type RecordManualMemory struct {
	Channel  string
	ChatID   string
	SenderID string
	Content  string
	Kind     MemoryKind
}

func (RecordManualMemory) isIntent() {}

type RecordMetric struct {
	Name   string
	Value  float64
	Labels map[string]string
}

func (RecordMetric) isIntent() {}
