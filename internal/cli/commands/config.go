package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/leapstack-labs/leapask/internal/cli/config"
	"github.com/leapstack-labs/leapask/internal/colmatch"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// starterConfig is the file written by "config init". Paths stay relative so
// the file can be committed with the project.
type starterConfig struct {
	DataDir    string `yaml:"data_dir"`
	StatePath  string `yaml:"state_path"`
	LogLevel   string `yaml:"log_level"`
	Classifier struct {
		Provider  string `yaml:"provider"`
		Model     string `yaml:"model"`
		MaxTokens int64  `yaml:"max_tokens"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"classifier"`
	Executor struct {
		Timeout      string `yaml:"timeout"`
		PreviewLimit int    `yaml:"preview_limit"`
	} `yaml:"executor"`
	Matching struct {
		MinSimilarity float64             `yaml:"min_similarity"`
		Aliases       map[string][]string `yaml:"aliases"`
	} `yaml:"matching"`
	Server struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
		Watch       bool     `yaml:"watch"`
	} `yaml:"server"`
}

func newStarterConfig(cfg *config.Config) starterConfig {
	var s starterConfig
	s.DataDir = config.DefaultDataDir
	s.StatePath = config.DefaultStateFile
	s.LogLevel = config.DefaultLogLevel
	s.Classifier.Provider = config.ProviderAnthropic
	s.Classifier.Model = cfg.Classifier.Model
	s.Classifier.MaxTokens = cfg.Classifier.MaxTokens
	s.Classifier.Timeout = cfg.Classifier.Timeout.String()
	s.Executor.Timeout = cfg.Executor.Timeout.String()
	s.Executor.PreviewLimit = cfg.Executor.PreviewLimit
	s.Matching.MinSimilarity = cfg.Matching.MinSimilarity
	s.Matching.Aliases = colmatch.DefaultAliases
	s.Server.Addr = cfg.Server.Addr
	s.Server.CORSOrigins = []string{"http://localhost:5173"}
	s.Server.Watch = true
	return s
}

// NewConfigCommand creates the config command and its subcommands.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create configuration",
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a starter leapask.yaml",
		Long: `Write a starter leapask.yaml and create the data directory.

Secrets do not belong in the file: put ANTHROPIC_API_KEY in the environment
or in a .env file next to it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			return runConfigInit(cmd, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing leapask.yaml")

	return cmd
}

func runConfigInit(cmd *cobra.Command, dir string, force bool) error {
	path := filepath.Join(dir, config.ConfigFileNames[0])
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cc := NewCommandContextWithoutApp(cmd)
	data, err := yaml.Marshal(newStarterConfig(cc.Cfg))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	header := fmt.Sprintf("# leapask configuration, generated %s\n", time.Now().Format(time.DateOnly))

	if err := os.MkdirAll(filepath.Join(dir, config.DefaultDataDir), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	cc.Renderer.Println("Wrote", path)
	return nil
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContextWithoutApp(cmd)
			shown := *cc.Cfg
			if shown.Classifier.APIKey != "" {
				shown.Classifier.APIKey = "********"
			}
			if cc.Renderer.Mode() == ModeJSON {
				return cc.Renderer.JSON(shown)
			}
			data, err := yaml.Marshal(shown)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
