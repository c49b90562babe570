package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipeed/picoclaw-orchestrator/pkg/logger"
)

// BridgeConfig describes one out-of-process bridge: the command to spawn it
// and the WebSocket endpoint it serves health payloads on.
type BridgeConfig struct {
	Name      string
	Command   []string
	Dir       string
	Env       []string
	LogPath   string
	HealthURL string // ws:// endpoint; the bridge sends one JSON health payload per connection
	// HealthTimeout bounds the whole handshake. Zero means 5s.
	HealthTimeout time.Duration
	// StartupGrace is how long to wait after spawning before the first
	// health probe. Zero means 2s.
	StartupGrace time.Duration
}

// BridgeSupervisor runs one bridge as a child process and checks readiness
// with a WebSocket health handshake.
type BridgeSupervisor struct {
	cfg BridgeConfig

	mu  sync.Mutex
	cmd *exec.Cmd
}

var _ RuntimeSupervisor = (*BridgeSupervisor)(nil)

func NewBridgeSupervisor(cfg BridgeConfig) *BridgeSupervisor {
	return &BridgeSupervisor{cfg: cfg}
}

// EnsureReady probes the bridge's health endpoint, spawning the process
// first when permitted and necessary.
func (b *BridgeSupervisor) EnsureReady(ctx context.Context, opts EnsureOptions) (ReadyReport, error) {
	report := ReadyReport{LogPath: b.cfg.LogPath}

	if health, err := b.probeHealth(ctx); err == nil {
		report.Health = health
		b.mu.Lock()
		if b.cmd != nil && b.cmd.Process != nil {
			report.PIDs = []int{b.cmd.Process.Pid}
		}
		b.mu.Unlock()
		return report, nil
	}

	if !opts.StartIfNeeded {
		return report, fmt.Errorf("bridge %s is not healthy and starting was not permitted", b.cfg.Name)
	}

	pid, err := b.start()
	if err != nil {
		return report, fmt.Errorf("failed to start bridge %s: %w", b.cfg.Name, err)
	}
	report.Started = true
	report.PIDs = []int{pid}

	grace := b.cfg.StartupGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	select {
	case <-time.After(grace):
	case <-ctx.Done():
		return report, ctx.Err()
	}

	health, err := b.probeHealth(ctx)
	if err != nil {
		return report, fmt.Errorf("bridge %s started but failed its health handshake: %w", b.cfg.Name, err)
	}
	report.Health = health
	return report, nil
}

// Stop terminates the child process if this supervisor started one.
func (b *BridgeSupervisor) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	if err := b.cmd.Process.Kill(); err != nil {
		return err
	}
	_ = b.cmd.Wait()
	b.cmd = nil
	return nil
}

func (b *BridgeSupervisor) start() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.cfg.Command) == 0 {
		return 0, fmt.Errorf("bridge %s has no command configured", b.cfg.Name)
	}
	cmd := exec.Command(b.cfg.Command[0], b.cfg.Command[1:]...)
	cmd.Dir = b.cfg.Dir
	cmd.Env = append(os.Environ(), b.cfg.Env...)

	if b.cfg.LogPath != "" {
		logFile, err := os.OpenFile(b.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, err
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	b.cmd = cmd
	logger.InfoCF("supervisor", "bridge started", map[string]any{
		"bridge": b.cfg.Name, "pid": cmd.Process.Pid,
	})
	return cmd.Process.Pid, nil
}

// probeHealth dials the bridge's WebSocket endpoint and reads one JSON
// health payload.
func (b *BridgeSupervisor) probeHealth(ctx context.Context) (map[string]any, error) {
	if b.cfg.HealthURL == "" {
		return nil, fmt.Errorf("bridge %s has no health endpoint configured", b.cfg.Name)
	}
	timeout := b.cfg.HealthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, b.cfg.HealthURL, nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var health map[string]any
	if err := json.Unmarshal(payload, &health); err != nil {
		return nil, fmt.Errorf("bridge %s sent a malformed health payload: %w", b.cfg.Name, err)
	}
	return health, nil
}
