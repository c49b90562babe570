// Package policyctl exposes the policy admin service on the command line.
// It drives the exact same Service the DM interception stage uses; the only
// difference is the actor context (source=cli, always owner).
package policyctl

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sipeed/picoclaw-orchestrator/pkg/config"
	"github.com/sipeed/picoclaw-orchestrator/pkg/policyadmin"
	"github.com/sipeed/picoclaw-orchestrator/pkg/tools"
)

func NewPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy <subcommand> [args...]",
		Short: "Inspect and mutate the chat policy",
		Long: "Runs a policy admin command (the same set available over owner DM):\n" +
			"  picoclaw-orchestrator policy list-groups\n" +
			"  picoclaw-orchestrator policy allow-group g1@g.us\n" +
			"  picoclaw-orchestrator policy rollback <change-id> --confirm",
		Args: cobra.MinimumNArgs(1),
		// The admin parser owns --dry-run/--confirm; cobra must not eat them.
		DisableFlagParsing: true,
		RunE: func(_ *cobra.Command, args []string) error {
			configPath, rest := extractConfigFlag(args)
			return runPolicy(configPath, rest)
		},
	}
	return cmd
}

// extractConfigFlag pulls a leading/inline "--config <path>" out of the raw
// argument list, leaving everything else for the admin parser.
func extractConfigFlag(args []string) (configPath string, rest []string) {
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
			continue
		}
		if v, ok := strings.CutPrefix(args[i], "--config="); ok {
			configPath = v
			continue
		}
		rest = append(rest, args[i])
	}
	return configPath, rest
}

func runPolicy(configPath string, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	svc := policyadmin.NewService(
		cfg.PolicyPath(),
		cfg.WorkspacePath(),
		tools.DefaultToolNames(),
		nil, // no in-process consumers to reload from the CLI
		nil, // group directory requires a running bridge
		policyadmin.NewJournal(filepath.Dir(cfg.PolicyPath())),
		0, // no rate limit for the local CLI
		true,
	)

	actor := policyadmin.ActorContext{Source: policyadmin.ActorCLI, ActorID: "cli", IsOwner: true}
	result := svc.Execute(actor, "policy "+strings.Join(args, " "))

	if result.Message != "" {
		fmt.Println(result.Message)
	}
	if result.Outcome == policyadmin.OutcomeError {
		return result.Err
	}
	return nil
}
