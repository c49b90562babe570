package policy

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
)

// Engine owns the live CompiledPolicy and polls the backing file for changes.
// Readers call Evaluate/Current which always observe a fully consistent
// snapshot; a failed reload never mutates the live pointer.
type Engine struct {
	path       string
	workspace  string
	knownTools map[string]struct{}
	interval   time.Duration

	current atomic.Pointer[CompiledPolicy]
	persona *PersonaLoader
	lastMod atomic.Int64

	onReload func(*CompiledPolicy)
}

// NewEngine loads, validates, and compiles the policy at path once. It
// returns an error if the initial load fails — startup must not proceed on
// an invalid policy.
func NewEngine(path, workspace string, knownTools map[string]struct{}, reloadInterval time.Duration) (*Engine, error) {
	e := &Engine{
		path:       path,
		workspace:  workspace,
		knownTools: knownTools,
		interval:   reloadInterval,
		persona:    NewPersonaLoader(workspace),
	}
	if err := e.loadOnce(); err != nil {
		return nil, err
	}
	return e, nil
}

// SetOnReload registers a callback invoked after every successful reload
// (including the implicit one performed by NewEngine), so other in-process
// consumers (e.g. the admin service) can react to the swap.
func (e *Engine) SetOnReload(fn func(*CompiledPolicy)) {
	e.onReload = fn
}

func (e *Engine) loadOnce() error {
	cfg, err := LoadFile(e.path)
	if err != nil {
		return err
	}
	if err := Validate(cfg, e.workspace, e.knownTools); err != nil {
		return err
	}
	compiled := Compile(cfg, toolSlice(e.knownTools))
	e.current.Store(compiled)
	e.persona.Reset()
	if info, statErr := os.Stat(e.path); statErr == nil {
		e.lastMod.Store(info.ModTime().UnixNano())
	}
	if e.onReload != nil {
		e.onReload(compiled)
	}
	return nil
}

func toolSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// Current returns the live compiled policy snapshot.
func (e *Engine) Current() *CompiledPolicy {
	return e.current.Load()
}

// Evaluate resolves a decision against the current compiled policy, and
// attaches resolved persona text if a persona file is set.
func (e *Engine) Evaluate(ev Event) Decision {
	d := e.current.Load().Evaluate(ev)
	if d.PersonaFile != "" {
		text, err := e.persona.Load(d.PersonaFile)
		if err != nil {
			logger.WarnCF("policy", "failed to load persona file", map[string]any{
				"persona_file": d.PersonaFile,
				"error":        err.Error(),
			})
		} else {
			d.PersonaText = text
		}
	}
	return d
}

// Reload re-reads and re-validates the policy file, atomically swapping the
// live pointer only on success. A failure is logged and the previous policy
// remains in effect.
func (e *Engine) Reload() error {
	if err := e.loadOnce(); err != nil {
		logger.ErrorCF("policy", "policy reload failed, keeping previous policy", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	logger.InfoC("policy", "policy reloaded")
	return nil
}

// Watch polls the file's mtime at e.interval and reloads on change until ctx
// is canceled. Intended to run as a background goroutine.
func (e *Engine) Watch(ctx context.Context) {
	if e.interval <= 0 {
		return
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(e.path)
			if err != nil {
				continue
			}
			if info.ModTime().UnixNano() != e.lastMod.Load() {
				_ = e.Reload()
			}
		}
	}
}
