package serve

import (
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	var debug bool
	var logFilter string
	var configPath string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Start the orchestration engine",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serveCmd(configPath, debug, logFilter)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&logFilter, "log-filter", "", "Filter logs by component (comma separated)")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to the orchestrator config file")

	return cmd
}
