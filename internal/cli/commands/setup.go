package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapask/internal/catalog"
	"github.com/leapstack-labs/leapask/internal/cli/config"
	"github.com/leapstack-labs/leapask/internal/codegen"
	"github.com/leapstack-labs/leapask/internal/colmatch"
	"github.com/leapstack-labs/leapask/internal/intent"
	"github.com/leapstack-labs/leapask/internal/matcher"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/internal/sandbox"
	"github.com/leapstack-labs/leapask/internal/server"
	"github.com/leapstack-labs/leapask/internal/sheet"
	"github.com/leapstack-labs/leapask/internal/state"
	"github.com/spf13/cobra"
)

// App wires the dataset index, the classifier and the pipeline together.
type App struct {
	Store    *state.SQLiteStore
	Catalog  *catalog.Catalog
	Executor *sandbox.Executor
	Pipeline *pipeline.Pipeline
	Metrics  *server.Metrics
}

// Close releases the catalog's loader and the state database.
func (a *App) Close() error {
	var errs []error
	if a.Catalog != nil {
		errs = append(errs, a.Catalog.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// NewApp opens the state database, restores the dataset index and builds the
// pipeline from cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.StatePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}
	app := &App{Store: store}
	if err := store.InitSchema(); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("failed to migrate state: %w", err)
	}

	app.Catalog = catalog.New(catalog.Config{
		DataDir: cfg.DataDir,
		Store:   store,
		Loader: sheet.NewLoader(sheet.Options{
			MaxHeaderRows: cfg.Sheet.MaxHeaderRows,
			NoForwardFill: !cfg.Sheet.ForwardFill,
			Logger:        logger,
		}),
		Logger: logger,
	})
	if err := app.Catalog.Load(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}

	llm, err := newClassifier(cfg, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	cmp := colmatch.New(colmatch.Options{
		MinSimilarity: cfg.Matching.MinSimilarity,
		Aliases:       cfg.Matching.Aliases,
	})
	resolver, err := intent.New(intent.Config{
		LLM:        llm,
		Comparator: cmp,
		Timeout:    cfg.Classifier.Timeout,
		Logger:     logger,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Executor, err = sandbox.New(sandbox.Config{
		Source:        app.Catalog,
		Timeout:       cfg.Executor.Timeout,
		MaxSteps:      cfg.Executor.MaxSteps,
		PreviewLimit:  cfg.Executor.PreviewLimit,
		MaxConcurrent: cfg.Executor.MaxConcurrent,
		Logger:        logger,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	if cfg.Server.Metrics {
		app.Metrics = server.NewMetrics(func() int { return len(app.Catalog.List()) })
	}
	pcfg := pipeline.Config{
		Index:     app.Catalog,
		Resolver:  resolver,
		Matcher:   matcher.New(cmp),
		Generator: codegen.New(cmp),
		Executor:  app.Executor,
		History:   store,
		Logger:    logger,
	}
	if app.Metrics != nil {
		pcfg.Observer = app.Metrics
	}
	app.Pipeline, err = pipeline.New(pcfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

// newClassifier returns the configured intent classifier.
func newClassifier(cfg *config.Config, logger *slog.Logger) (intent.LLMClient, error) {
	switch cfg.Classifier.Provider {
	case config.ProviderScripted:
		return intent.LoadScript(cfg.Classifier.Script)
	case config.ProviderAnthropic:
		return intent.NewAnthropicClient(intent.AnthropicConfig{
			Model:     cfg.Classifier.Model,
			MaxTokens: cfg.Classifier.MaxTokens,
			APIKey:    cfg.Classifier.APIKey,
			Logger:    logger,
		}), nil
	}
	return nil, fmt.Errorf("unknown classifier provider %q", cfg.Classifier.Provider)
}

// CommandContext holds common dependencies for command execution.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	App      *App
	Renderer *Renderer
}

// NewCommandContext builds the app for cmd. Call cleanup when done.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutApp(cmd)
	app, err := NewApp(cmd.Context(), cc.Cfg, cc.Logger)
	if err != nil {
		return nil, nil, err
	}
	cc.App = app
	cleanup := func() {
		if err := app.Close(); err != nil {
			cc.Logger.Warn("failed to close app", "error", err)
		}
	}
	return cc, cleanup, nil
}

// NewCommandContextWithoutApp creates a CommandContext for commands that do
// not touch the index or the classifier.
func NewCommandContextWithoutApp(cmd *cobra.Command) *CommandContext {
	cfg := getConfig(cmd)
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: NewRenderer(cmd.OutOrStdout(), Mode(cfg.Output)),
	}
}

// getConfig returns the config loaded by the root command, or the defaults.
func getConfig(cmd *cobra.Command) *config.Config {
	if cfg := config.FromContext(cmd.Context()); cfg != nil {
		return cfg
	}
	cfg, err := config.NewLoader().Load("", nil)
	if err != nil {
		return &config.Config{Output: config.DefaultOutput, DataDir: config.DefaultDataDir, StatePath: config.DefaultStateFile}
	}
	return cfg
}
