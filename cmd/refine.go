package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bnema/agentforge-cli/internal/adapters/render/progress"
	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/spf13/cobra"
)

var errRefinementFailed = errors.New("refinement failed")

func newRefineCmd(a *app) *cobra.Command {
	var (
		runRef      string
		interactive bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "refine [instruction]",
		Short: "Refine the artifacts of a stored run with a follow-up instruction",
		Long:  "refine sends the artifacts of a stored run together with an instruction and applies the returned edits to the local history. Without --run the latest run with artifacts is used.",
		Args: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			run, err := resolveRefinementTarget(cmd, a, runRef)
			if err != nil {
				return err
			}

			reporter := progress.NewRefinementReporter(refinementOutput(cmd, asJSON))
			unsubscribe := a.refinement.Subscribe(reporter.Update)
			defer unsubscribe()

			if interactive {
				return refineInteractively(cmd, a, run.ID)
			}

			result, err := a.refinement.Refine(cmd.Context(), run.ID, args[0])
			if asJSON && result.Operation.Instruction != "" {
				if encodeErr := writeJSON(cmd.OutOrStdout(), result.Operation.Record()); encodeErr != nil {
					return errors.Join(err, encodeErr)
				}
			}
			if err != nil {
				return err
			}
			if result.Operation.Phase == domain.PhaseError {
				return fmt.Errorf("%w: %s", errRefinementFailed, result.Operation.Error)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&runRef, "run", "", "Run id or unique id prefix (default: latest run with artifacts)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Read instructions line by line from stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the refinement outcome as JSON; progress goes to stderr")

	return cmd
}

func resolveRefinementTarget(cmd *cobra.Command, a *app, ref string) (domain.RunRecord, error) {
	if strings.TrimSpace(ref) != "" {
		return a.history.Resolve(cmd.Context(), ref)
	}

	run, err := a.history.Latest(cmd.Context())
	if errors.Is(err, domain.ErrNoActiveRun) {
		return domain.RunRecord{}, errors.New("no stored run has artifacts to refine; run `af generate` first")
	}
	return run, err
}

func refinementOutput(cmd *cobra.Command, asJSON bool) io.Writer {
	if asJSON {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// refineInteractively applies one instruction per input line until EOF or
// "exit". A failed refinement is reported and the loop continues.
func refineInteractively(cmd *cobra.Command, a *app, runID domain.RunID) error {
	stderr := cmd.ErrOrStderr()
	scanner := bufio.NewScanner(cmd.InOrStdin())

	_, _ = fmt.Fprintf(stderr, "refining run %s; one instruction per line, \"exit\" to stop\n", runID)
	for {
		_, _ = fmt.Fprint(stderr, "refine> ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(stderr)
			return scanner.Err()
		}

		instruction := strings.TrimSpace(scanner.Text())
		switch instruction {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		if _, err := a.refinement.Refine(cmd.Context(), runID, instruction); err != nil {
			if cmd.Context().Err() != nil {
				return err
			}
			_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		}
	}
}
