// Package config loads the orchestrator's own configuration: a JSON
// document on disk with an environment-variable overlay. The policy file is
// a sibling config surface with its own loader in pkg/policy.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/sipeed/picoclaw-orchestrator/pkg/fileutil"
)

// PipelineConfig tunes the middleware chain.
type PipelineConfig struct {
	DedupTTLMinutes        int    `json:"dedup_ttl_minutes"`
	AmbientWindowSize      int    `json:"ambient_window_size"`
	ReplyContextWindowSize int    `json:"reply_context_window_size"`
	WindowLineCharLimit    int    `json:"window_line_char_limit"`
	BlockReactionEmoji     string `json:"block_reaction_emoji,omitempty"`
	SecurityBlockMessage   string `json:"security_block_message,omitempty"`
}

// ArchiveConfig tunes the reply archive.
type ArchiveConfig struct {
	RetentionDays int `json:"retention_days"`
}

// PolicyRuntimeConfig holds the policy engine wiring that lives outside the
// policy document itself.
type PolicyRuntimeConfig struct {
	Path                  string `json:"path,omitempty"`
	ReloadIntervalSeconds int    `json:"reload_interval_seconds"`
}

// HeartbeatConfig tunes the heartbeat scheduler.
type HeartbeatConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes"`
}

// VoiceConfig tunes the outbound voice-synthesis path.
type VoiceConfig struct {
	OwnerAlertCooldownSeconds int `json:"owner_alert_cooldown_seconds"`
}

// Config is the orchestrator's runtime configuration.
type Config struct {
	// HomeDirOverride relocates the data directory; normally unset.
	HomeDirOverride string `json:"-" env:"HOME_DIR_OVERRIDE"`

	Workspace string `json:"workspace,omitempty"`

	// OwnerChatID maps channel -> the chat the owner is reachable at, for
	// new-chat notifications and voice-failure diagnostics.
	OwnerChatID map[string]string `json:"owner_chat_id,omitempty"`

	Pipeline  PipelineConfig      `json:"pipeline"`
	Archive   ArchiveConfig       `json:"archive"`
	Policy    PolicyRuntimeConfig `json:"policy"`
	Heartbeat HeartbeatConfig     `json:"heartbeat"`
	Voice     VoiceConfig         `json:"voice"`
}

// DefaultConfig returns the built-in defaults; LoadConfig overlays the JSON
// file and environment on top of it.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			DedupTTLMinutes:        20,
			AmbientWindowSize:      10,
			ReplyContextWindowSize: 10,
			WindowLineCharLimit:    240,
		},
		Archive:   ArchiveConfig{RetentionDays: 30},
		Policy:    PolicyRuntimeConfig{ReloadIntervalSeconds: 5},
		Heartbeat: HeartbeatConfig{Enabled: true, IntervalMinutes: 30},
		Voice:     VoiceConfig{OwnerAlertCooldownSeconds: 300},
	}
}

// LoadConfig reads path (a missing file is not an error: defaults apply),
// then applies the environment overlay.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg atomically.
func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o600)
}

// DataDir is the root of all orchestrator state:
// $HOME_DIR_OVERRIDE/.picoclaw-orchestrator when the override is set,
// otherwise ~/.picoclaw-orchestrator.
func (c *Config) DataDir() string {
	home := c.HomeDirOverride
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".picoclaw-orchestrator")
}

// WorkspacePath resolves the workspace directory, defaulting to
// <data>/workspace.
func (c *Config) WorkspacePath() string {
	if c.Workspace != "" {
		return expandHome(c.Workspace)
	}
	return filepath.Join(c.DataDir(), "workspace")
}

// PolicyPath resolves the policy document location, defaulting to
// <data>/policy/policy.json.
func (c *Config) PolicyPath() string {
	if c.Policy.Path != "" {
		return expandHome(c.Policy.Path)
	}
	return filepath.Join(c.DataDir(), "policy", "policy.json")
}

// AuditDir is where the policy audit journal and backups live.
func (c *Config) AuditDir() string {
	return filepath.Join(filepath.Dir(c.PolicyPath()), "audit")
}

// ArchivePath is the reply archive's SQLite database file.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir(), "archive", "inbound.db")
}

// SeenChatsPath is the persistent new-chat registry.
func (c *Config) SeenChatsPath() string {
	return filepath.Join(c.DataDir(), "seen_chats.json")
}

// CronStorePath is the persistent cron job store.
func (c *Config) CronStorePath() string {
	return filepath.Join(c.DataDir(), "cron", "jobs.json")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
