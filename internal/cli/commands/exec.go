package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewExecCommand creates the exec command.
func NewExecCommand() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "exec <file.star>",
		Short: "Run an analysis script in the sandbox",
		Long: `Run a Starlark analysis script against the indexed datasets.

The script loads data with load_sheet("<file name>") and assigns its output to
the global "result". Use "-" to read the script from stdin. With --target the
script may only load that dataset.`,
		Example: `  leapask exec revenue.star
  leapask exec --target sales.xlsx - < revenue.star`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, args[0], target)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Dataset the script is restricted to")
	_ = cmd.RegisterFlagCompletionFunc("target", completeDatasets)

	return cmd
}

func runExec(cmd *cobra.Command, path, target string) error {
	var (
		src []byte
		err error
	)
	if path == "-" {
		src, err = io.ReadAll(cmd.InOrStdin())
	} else {
		src, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	res := cc.App.Pipeline.Execute(cmd.Context(), string(src), target)
	if err := cc.Renderer.Execution(res); err != nil {
		return err
	}
	if res.Failed() {
		return ErrAnalysisFailed
	}
	return nil
}
