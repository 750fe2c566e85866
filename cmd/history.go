package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bnema/agentforge-cli/internal/adapters/render/progress"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect locally recorded runs",
	}

	cmd.AddCommand(newHistoryListCmd(a), newHistoryShowCmd(a))
	return cmd
}

func newHistoryListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			runs, err := a.history.List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), runs)
			}

			progress.ConfigureInteraction(false, nil)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), progress.RenderHistory(runs))
			return err
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	var (
		asJSON   bool
		artifact string
	)

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run by id or unique id prefix",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			run, err := a.history.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if artifact != "" {
				raw, ok := run.Result.Artifacts[artifact]
				if !ok {
					names := make([]string, 0, len(run.Result.Artifacts))
					for name := range run.Result.Artifacts {
						names = append(names, name)
					}
					sort.Strings(names)
					return fmt.Errorf("run %s has no artifact %q (available: %s)", run.ID, artifact, strings.Join(names, ", "))
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), string(raw))
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), run)
			}

			progress.ConfigureInteraction(false, nil)
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, progress.RenderRecord(run)); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "prompt: %s\n", run.Prompt)
			for i, refinement := range run.Refinements {
				outcome := refinement.Message
				if refinement.Error != "" {
					outcome = "failed: " + refinement.Error
				}
				_, _ = fmt.Fprintf(out, "refinement %d: %s -> %s\n", i+1, refinement.Instruction, outcome)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().StringVar(&artifact, "artifact", "", "Print only the named artifact as JSON")
	return cmd
}
