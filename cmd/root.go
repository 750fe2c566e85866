package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "af",
		Short:         "AgentForge CLI (af): stream multi-agent generation runs",
		Long:          "af (AgentForge CLI) sends a product idea to the AgentForge service, follows the agent pipeline live as each role works, keeps a local history of runs and refines their artifacts with follow-up instructions.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/agentforge/config.toml)")
	rootCmd.PersistentFlags().StringVar(&a.traceFile, "trace-file", "", "Write OpenTelemetry spans of each run to this file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newGenerateCmd(a),
		newRefineCmd(a),
		newReplayCmd(a),
		newHistoryCmd(a),
		newTokenCmd(a),
	)

	return rootCmd
}
