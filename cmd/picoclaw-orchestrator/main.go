package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sipeed/picoclaw-orchestrator/cmd/picoclaw-orchestrator/internal/policyctl"
	"github.com/sipeed/picoclaw-orchestrator/cmd/picoclaw-orchestrator/internal/serve"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "picoclaw-orchestrator",
		Short:         "Core orchestration engine for a multi-channel assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serve.NewServeCommand())
	root.AddCommand(policyctl.NewPolicyCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
