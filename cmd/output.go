package cmd

import (
	"encoding/json"
	"io"
	"os"

	"github.com/bnema/agentforge-cli/internal/adapters/render/progress"
	"github.com/bnema/agentforge-cli/internal/application"
	"github.com/spf13/cobra"
)

// pipelineView picks the live view for an interactive stdout and line output
// otherwise. With toStderr set, progress goes to stderr so stdout stays
// machine readable.
func pipelineView(cmd *cobra.Command, forcePlain bool, verbose bool, toStderr bool) application.PipelineView {
	out := cmd.OutOrStdout()
	if toStderr {
		out = cmd.ErrOrStderr()
	}

	file, isFile := out.(*os.File)
	if !isFile {
		progress.ConfigureInteraction(true, nil)
		return progress.NewPlain(out, verbose)
	}
	if progress.ConfigureInteraction(forcePlain || toStderr, file) {
		return progress.NewLive(file)
	}
	return progress.NewPlain(file, verbose)
}

func writeJSON(out io.Writer, value any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
