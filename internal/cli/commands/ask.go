package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

// ErrAnalysisFailed is returned when an analysis finishes with an error, after
// the response has been rendered.
var ErrAnalysisFailed = errors.New("analysis failed")

// AskOptions holds options for the ask command.
type AskOptions struct {
	Plan bool
	Code bool
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	opts := &AskOptions{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question about the indexed spreadsheets",
		Long: `Resolve the question into an intent, pick the best matching dataset,
generate analysis code for it and run the code in the sandbox.

--plan stops after file matching and --code stops before execution.`,
		Example: `  # Full analysis
  leapask ask "total revenue by region"

  # Only show which file and columns would be used
  leapask ask --plan "monthly sales trend"

  # Show the generated code without running it
  leapask ask --code "top 5 cities by units" -o json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Plan, "plan", false, "Stop after resolving the intent and matching a file")
	cmd.Flags().BoolVar(&opts.Code, "code", false, "Stop after generating code")
	cmd.MarkFlagsMutuallyExclusive("plan", "code")

	return cmd
}

func runAsk(cmd *cobra.Command, question string, opts *AskOptions) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	p := cc.App.Pipeline
	switch {
	case opts.Plan:
		res := p.Plan(ctx, question)
		if err := cc.Renderer.Plan(res); err != nil {
			return err
		}
		if res.Error != nil {
			return ErrAnalysisFailed
		}
	case opts.Code:
		res := p.Code(ctx, question)
		if err := cc.Renderer.Code(res); err != nil {
			return err
		}
		if res.Error != nil {
			return ErrAnalysisFailed
		}
	default:
		resp := p.Analyze(ctx, question)
		if err := cc.Renderer.Response(resp); err != nil {
			return err
		}
		if resp.Error != nil {
			return ErrAnalysisFailed
		}
	}
	return nil
}
