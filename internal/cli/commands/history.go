package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapask/internal/state"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent analyses",
		Long:  `Show recorded analyses, newest first.`,
		Example: `  leapask history
  leapask history --limit 5 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := cc.App.Store.ListAnalyses(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			return cc.Renderer.Analyses(records)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", state.DefaultHistoryLimit, "Maximum number of analyses to show")

	return cmd
}
