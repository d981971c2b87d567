package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GitCommit string `json:"git_commit"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display leapask version and build information.`,
		Run: func(cmd *cobra.Command, _ []string) {
			r := NewCommandContextWithoutApp(cmd).Renderer
			if r.Mode() == ModeJSON {
				_ = r.JSON(info)
				return
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "leapask v%s (%s, built %s)\n", info.Version, info.GitCommit, info.BuildDate)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Natural-language analysis over spreadsheets, %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
