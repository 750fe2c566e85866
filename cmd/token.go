package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the API token sent to the AgentForge service",
		Long:  "The token is looked up in the AF_API_TOKEN environment variable first, then in the file store under the secrets directory.",
	}

	cmd.AddCommand(newTokenSetCmd(a), newTokenRemoveCmd(a), newTokenStatusCmd(a))
	return cmd
}

func newTokenSetCmd(a *app) *cobra.Command {
	var (
		value     string
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the API token in the file store",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			if fromStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && strings.TrimSpace(line) == "" {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				value = line
			}

			if err := a.token.Set(cmd.Context(), value); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "token stored as %s\n", a.token.Ref())
			return err
		}),
	}

	cmd.Flags().StringVar(&value, "value", "", "Token value")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read the token from stdin")
	cmd.MarkFlagsMutuallyExclusive("value", "stdin")
	cmd.MarkFlagsOneRequired("value", "stdin")

	return cmd
}

func newTokenRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Remove the stored API token",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			if err := a.token.Remove(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "token removed")
			return err
		}),
	}
}

func newTokenStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether an API token is configured",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			configured, err := a.token.Configured(cmd.Context())
			if err != nil {
				return err
			}
			state := "not configured"
			if configured {
				state = "configured"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", a.token.Ref(), state)
			return err
		}),
	}
}
