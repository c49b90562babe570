// Package supervisor defines the contract the core uses to talk to
// out-of-process subordinates (channel bridges). The core only asks for
// readiness; how a bridge is started, repaired, or health-checked is the
// implementation's business.
package supervisor

import "context"

// ReadyReport describes what EnsureReady did and the subordinate's state
// afterwards.
type ReadyReport struct {
	Started  bool           `json:"started"`
	Repaired bool           `json:"repaired"`
	PIDs     []int          `json:"pids,omitempty"`
	Health   map[string]any `json:"health,omitempty"`
	LogPath  string         `json:"log_path,omitempty"`
}

// EnsureOptions controls how far EnsureReady may go to reach readiness.
type EnsureOptions struct {
	// AutoRepair permits destructive fixes (reinstalling artifacts,
	// rotating shared tokens).
	AutoRepair bool
	// StartIfNeeded permits spawning the subordinate when it isn't running.
	StartIfNeeded bool
}

// RuntimeSupervisor is the port the core consumes.
type RuntimeSupervisor interface {
	EnsureReady(ctx context.Context, opts EnsureOptions) (ReadyReport, error)
	// Stop terminates the subordinate if this supervisor started it.
	Stop(ctx context.Context) error
}
