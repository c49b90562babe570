package pipeline

import (
	"context"

	"github.com/sipeed/picoclaw-orchestrator/pkg/intents"
	"github.com/sipeed/picoclaw-orchestrator/pkg/policy"
)

// Context is the mutable per-event state threaded through the middleware
// chain. Middleware reads/writes it directly rather than passing values
// through return types, matching the chain-of-responsibility shape the
// chat-platform dispatch loop already uses elsewhere in this codebase.
type Context struct {
	Ctx     context.Context
	Event   Event
	Decision policy.Decision
	Reply   string
	Intents []intents.Intent
	Halted  bool

	// Source tags set by enrichment stages, kept on Context rather than
	// Event.Metadata so middleware doesn't need to know the metadata key
	// names of stages that ran earlier in the chain.
	AmbientWindow     []string
	ReplyContextWindow []string
	ReplyContextSource string
}

// Emit appends an intent to be dispatched once the pipeline completes.
func (c *Context) Emit(i intents.Intent) {
	c.Intents = append(c.Intents, i)
}

// Halt marks the chain as finished; no further middleware runs.
func (c *Context) Halt() {
	c.Halted = true
}

// Middleware is one pipeline stage. It must call next(c) to continue the
// chain (pass-through or post-process) or simply return without calling it
// to short-circuit (after setting c.Halted and emitting any final intents).
type Middleware func(c *Context, next func(*Context))

// Runner walks an ordered list of middleware against one Context.
type Runner struct {
	stages []Middleware
}

func NewRunner(stages ...Middleware) *Runner {
	return &Runner{stages: stages}
}

// Run executes the chain starting from stage 0 until a stage halts it or
// the chain is exhausted.
func (r *Runner) Run(c *Context) {
	r.runFrom(0, c)
}

func (r *Runner) runFrom(idx int, c *Context) {
	if c.Halted || idx >= len(r.stages) {
		return
	}
	stage := r.stages[idx]
	stage(c, func(c *Context) {
		r.runFrom(idx+1, c)
	})
}
