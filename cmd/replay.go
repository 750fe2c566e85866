package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/bnema/agentforge-cli/internal/adapters/render/progress"
	"github.com/bnema/agentforge-cli/internal/application"
	"github.com/spf13/cobra"
)

func newReplayCmd(a *app) *cobra.Command {
	var (
		refinement  bool
		instruction string
		plain       bool
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file|->",
		Short: "Play a recorded NDJSON event stream through the progress view",
		Long:  "replay feeds a captured pipeline or refinement stream through the same state tracking and views as a live run. Nothing is sent to the service and nothing is stored.",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			body, err := openReplaySource(cmd, args[0])
			if err != nil {
				return err
			}

			if refinement {
				reporter := progress.NewRefinementReporter(cmd.OutOrStdout())
				unsubscribe := a.refinement.Subscribe(reporter.Update)
				defer unsubscribe()

				_, err := a.refinement.Replay(cmd.Context(), body, instruction)
				return err
			}

			result, err := a.generation.Replay(cmd.Context(), body, application.GenerateCommand{
				Prompt:     instruction,
				View:       pipelineView(cmd, plain, verbose, false),
				Instrument: a.instrument(),
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d events (%d malformed, %d unknown)\n",
				result.Stats.Events, result.Stats.Malformed, result.Stats.Unknown)
			return err
		}),
	}

	cmd.Flags().BoolVar(&refinement, "refinement", false, "The file holds a refinement stream")
	cmd.Flags().StringVar(&instruction, "label", "replay", "Instruction or prompt shown for the replayed operation")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print progress as lines instead of the live view")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Include agent commentary in line output")

	return cmd
}

func openReplaySource(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recorded stream: %w", err)
	}
	return file, nil
}
