package tools

import (
	"context"
	"fmt"
	"sync"
)

// Tool is the closed interface every runtime tool implements. Tool
// implementations themselves (filesystem, shell, web fetch, TTS) live
// outside the core; the core only needs names for policy resolution and a
// uniform execute surface for the few places (cron voice broadcast) that
// invoke a tool directly.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// SupportsContext is implemented by tools that want to know the channel and
// chat a call originated from before executing.
type SupportsContext interface {
	SetContext(channel, chatID string)
}

// SupportsClose is implemented by tools holding resources that need
// releasing at shutdown.
type SupportsClose interface {
	Close() error
}

// Registry owns the runtime's tool set. Its name set doubles as the
// known-tools universe the policy engine validates allow/deny lists
// against.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names as a set, the shape the policy
// engine consumes.
func (r *Registry) Names() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.tools))
	for name := range r.tools {
		out[name] = struct{}{}
	}
	return out
}

// Execute runs the named tool, applying the optional context hook first.
func (r *Registry) Execute(ctx context.Context, name, channel, chatID string, args map[string]any) (*ToolResult, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if sc, ok := t.(SupportsContext); ok {
		sc.SetContext(channel, chatID)
	}
	return t.Execute(ctx, args)
}

// CloseAll releases every tool that supports closing. The first error is
// returned; remaining tools are still closed.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, t := range r.tools {
		if c, ok := t.(SupportsClose); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
