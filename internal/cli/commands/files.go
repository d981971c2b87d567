package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapask/pkg/core"
	"github.com/spf13/cobra"
)

// NewFilesCommand creates the files command and its subcommands.
func NewFilesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage the dataset index",
		Long: `Manage the spreadsheets questions are answered against.

Files are preprocessed when they are added: header rows are flattened, merged
cells filled and empty rows and columns dropped.`,
	}

	cmd.AddCommand(newFilesListCommand())
	cmd.AddCommand(newFilesAddCommand())
	cmd.AddCommand(newFilesRemoveCommand())
	cmd.AddCommand(newFilesReindexCommand())

	return cmd
}

func newFilesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List indexed datasets",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return cc.Renderer.Datasets(cc.App.Catalog.List())
		},
	}
}

func newFilesAddCommand() *cobra.Command {
	var copyIn bool

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Preprocess and index files",
		Long: `Preprocess and index spreadsheets. Supported types are .xlsx, .xlsm,
.csv, .tsv and .parquet. With --copy the files are first copied into the
data directory.`,
		Example: `  leapask files add sales.xlsx
  leapask files add --copy ~/Downloads/*.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var (
				added []core.Dataset
				errs  []error
			)
			for _, path := range args {
				if copyIn {
					path, err = copyIntoDir(path, cc.Cfg.DataDir)
					if err != nil {
						errs = append(errs, err)
						continue
					}
				}
				ds, err := cc.App.Catalog.Register(cmd.Context(), path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				cc.Logger.Info("dataset indexed", "file", ds.Name, "rows", ds.RowCount, "columns", ds.NumColumns())
				added = append(added, ds)
			}
			if err := cc.Renderer.Datasets(added); err != nil {
				return err
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&copyIn, "copy", false, "Copy files into the data directory before indexing")

	return cmd
}

func newFilesRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "rm <name>...",
		Aliases:           []string{"remove"},
		Short:             "Remove datasets from the index",
		Long:              `Remove datasets from the index. The files themselves are left in place.`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeDatasets,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var errs []error
			for _, name := range args {
				if err := cc.App.Catalog.Remove(cmd.Context(), name); err != nil {
					errs = append(errs, err)
					continue
				}
				cc.Renderer.Println("Removed", name)
			}
			return errors.Join(errs...)
		},
	}
}

func newFilesReindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from the data directory",
		Long: `Re-read every supported file in the data directory. Files that no longer
exist are dropped from the index; files that fail to load are reported and
skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			datasets, rebuildErr := cc.App.Catalog.Rebuild(cmd.Context())
			if err := cc.Renderer.Datasets(datasets); err != nil {
				return err
			}
			return rebuildErr
		},
	}
}

// copyIntoDir copies src into dir and returns the new path.
func copyIntoDir(src, dir string) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return dst, nil
}

// completeDatasets completes indexed dataset names.
func completeDatasets(cmd *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer cleanup()

	var names []string
	for _, ds := range cc.App.Catalog.List() {
		names = append(names, ds.Name)
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
