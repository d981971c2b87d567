package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const replPrompt = "leapask> "

// lineReader is the part of readline the REPL loop uses.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Ask questions interactively",
		Long: `Start an interactive session. Each line is a question; lines starting with
a dot are commands (type .help).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			historyFile := ""
			if cc.Cfg.StatePath != ":memory:" {
				historyFile = filepath.Join(filepath.Dir(cc.Cfg.StatePath), "repl_history")
			}
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          replPrompt,
				HistoryFile:     historyFile,
				AutoComplete:    newREPLCompleter(cc),
				InterruptPrompt: "^C",
				EOFPrompt:       ".quit",
			})
			if err != nil {
				return fmt.Errorf("failed to initialize REPL: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "leapask REPL (%d datasets in %s)\n", len(cc.App.Catalog.List()), cc.Cfg.DataDir)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Type a question, .help for commands, .quit to exit")
			_, _ = fmt.Fprintln(cmd.OutOrStdout())

			return runREPL(cmd.Context(), cc, rl, cmd.ErrOrStderr())
		},
	}
}

// runREPL reads lines from rl until EOF or .quit.
func runREPL(ctx context.Context, cc *CommandContext, rl lineReader, errOut io.Writer) error {
	defer func() { _ = rl.Close() }()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		if strings.HasPrefix(line, ".") {
			if quit := handleDotCommand(ctx, cc, line, errOut); quit {
				return nil
			}
			continue
		}

		if err := cc.Renderer.Response(cc.App.Pipeline.Analyze(ctx, line)); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}
		cc.Renderer.Println()
	}
}

// handleDotCommand runs one dot-command and reports whether the REPL should exit.
func handleDotCommand(ctx context.Context, cc *CommandContext, line string, errOut io.Writer) bool {
	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	r := cc.Renderer

	var err error
	switch strings.ToLower(command) {
	case ".quit", ".exit":
		return true
	case ".help":
		printREPLHelp(r)
	case ".files":
		err = r.Datasets(cc.App.Catalog.List())
	case ".history":
		limit := 10
		if rest != "" {
			if limit, err = strconv.Atoi(rest); err != nil || limit < 0 {
				_, _ = fmt.Fprintln(errOut, "Usage: .history [n]")
				return false
			}
		}
		records, lerr := cc.App.Store.ListAnalyses(ctx, limit)
		if lerr != nil {
			err = lerr
			break
		}
		err = r.Analyses(records)
	case ".plan":
		if rest == "" {
			_, _ = fmt.Fprintln(errOut, "Usage: .plan <question>")
			return false
		}
		err = r.Plan(cc.App.Pipeline.Plan(ctx, rest))
	case ".code":
		if rest == "" {
			_, _ = fmt.Fprintln(errOut, "Usage: .code <question>")
			return false
		}
		err = r.Code(cc.App.Pipeline.Code(ctx, rest))
	case ".reindex":
		datasets, rerr := cc.App.Catalog.Rebuild(ctx)
		if rerr != nil {
			_, _ = fmt.Fprintf(errOut, "Warning: %v\n", rerr)
		}
		err = r.Datasets(datasets)
	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
	}
	return false
}

func printREPLHelp(r *Renderer) {
	r.Println(`Commands:
  .help            Show this help message
  .files           List indexed datasets
  .history [n]     Show the last n analyses (default 10)
  .plan <question> Resolve and match without running code
  .code <question> Generate code without running it
  .reindex         Rebuild the index from the data directory
  .quit / .exit    Exit the REPL

Anything else is answered as a question.`)
}

// newREPLCompleter completes dot-commands and, after .plan and .code, the
// columns of the indexed datasets.
func newREPLCompleter(cc *CommandContext) *readline.PrefixCompleter {
	var columns []readline.PrefixCompleterInterface
	for _, c := range cc.App.Catalog.Snapshot().KnownColumns() {
		columns = append(columns, readline.PcItem(c))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".files"),
		readline.PcItem(".history"),
		readline.PcItem(".plan", columns...),
		readline.PcItem(".code", columns...),
		readline.PcItem(".reindex"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
