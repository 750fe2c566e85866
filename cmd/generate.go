package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/agentforge-cli/internal/application"
	"github.com/bnema/agentforge-cli/internal/config"
	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/spf13/cobra"
)

var errRunFailed = errors.New("run failed")

func newGenerateCmd(a *app) *cobra.Command {
	var (
		specPath  string
		options   map[string]string
		asJSON    bool
		plain     bool
		verbose   bool
		publish   bool
		noHistory bool
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate a product design and follow the agent pipeline live",
		Example: strings.Join([]string{
			`  af generate "A habit tracker with streaks"`,
			`  af generate --spec request.yaml --option platform=mobile`,
		}, "\n"),
		Args: cobra.MaximumNArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			var request config.RequestSpec
			if specPath != "" {
				loaded, err := config.LoadRequestSpec(specPath)
				if err != nil {
					return err
				}
				request = loaded
			}

			prompt := ""
			if len(args) == 1 {
				prompt = args[0]
			}
			request = request.Merge(prompt, options)
			if request.Prompt == "" {
				return errors.New("a prompt is required: pass it as an argument or with --spec")
			}

			result, err := a.generation.Generate(cmd.Context(), application.GenerateCommand{
				Prompt:      request.Prompt,
				Options:     request.Options,
				View:        pipelineView(cmd, plain, verbose, asJSON),
				Instrument:  a.instrument(),
				Publish:     publish,
				SkipHistory: noHistory,
			})
			if result.Record.ID == "" {
				return err
			}

			if asJSON {
				if encodeErr := writeJSON(cmd.OutOrStdout(), result.Record); encodeErr != nil {
					return errors.Join(err, encodeErr)
				}
			} else if result.Saved {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "saved run %s\n", result.Record.ID)
			}

			if err != nil {
				return err
			}
			if result.Record.Status == domain.RunFailed {
				return fmt.Errorf("%w: %s", errRunFailed, result.Record.Error)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&specPath, "spec", "", "YAML file with prompt and options")
	cmd.Flags().StringToStringVar(&options, "option", nil, "Generation option as key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the finished run as JSON; progress goes to stderr")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print progress as lines instead of the live view")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Include agent commentary in line output")
	cmd.Flags().BoolVar(&publish, "publish", false, "Send the finished run to the service's save endpoint")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the run in local history")

	return cmd
}
