// Package config provides configuration management for the leapask CLI.
//
// Values are layered, lowest to highest: built-in defaults, leapask.yaml,
// LEAPASK_ environment variables and explicitly set command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/leapask/internal/colmatch"
	"github.com/leapstack-labs/leapask/internal/intent"
	"github.com/leapstack-labs/leapask/internal/sandbox"
	"github.com/leapstack-labs/leapask/internal/server"
	"github.com/leapstack-labs/leapask/internal/sheet"
	"github.com/leapstack-labs/leapask/pkg/core"
)

// Default values for the top-level settings.
const (
	DefaultDataDir   = "data"
	DefaultStateFile = ".leapask/state.db"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
	DefaultOutput    = "text"
	DefaultAddr      = "127.0.0.1:8000"
	DefaultModel     = "claude-3-5-haiku-latest"
	DefaultMaxTokens = 512
)

// Classifier providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderScripted  = "scripted"
)

// ClassifierConfig selects and tunes the intent classifier.
type ClassifierConfig struct {
	// Provider is "anthropic" or "scripted".
	Provider  string        `koanf:"provider" yaml:"provider" json:"provider"`
	Model     string        `koanf:"model" yaml:"model" json:"model"`
	MaxTokens int64         `koanf:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout" json:"timeout"`
	// Script is the YAML rule file used by the scripted provider.
	Script string `koanf:"script" yaml:"script" json:"script"`
	// APIKey overrides ANTHROPIC_API_KEY.
	APIKey string `koanf:"api_key" yaml:"api_key" json:"api_key"`
}

// ExecutorConfig bounds sandboxed execution.
type ExecutorConfig struct {
	Timeout       time.Duration `koanf:"timeout" yaml:"timeout" json:"timeout"`
	PreviewLimit  int           `koanf:"preview_limit" yaml:"preview_limit" json:"preview_limit"`
	MaxSteps      int64         `koanf:"max_steps" yaml:"max_steps" json:"max_steps"`
	MaxConcurrent int64         `koanf:"max_concurrent" yaml:"max_concurrent" json:"max_concurrent"`
}

// MatchingConfig tunes column name comparison.
type MatchingConfig struct {
	MinSimilarity float64             `koanf:"min_similarity" yaml:"min_similarity" json:"min_similarity"`
	Aliases       map[string][]string `koanf:"aliases" yaml:"aliases" json:"aliases"`
}

// SheetConfig tunes spreadsheet preprocessing.
type SheetConfig struct {
	MaxHeaderRows int  `koanf:"max_header_rows" yaml:"max_header_rows" json:"max_header_rows"`
	ForwardFill   bool `koanf:"forward_fill" yaml:"forward_fill" json:"forward_fill"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string   `koanf:"addr" yaml:"addr" json:"addr"`
	CORSOrigins []string `koanf:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
	Watch       bool     `koanf:"watch" yaml:"watch" json:"watch"`
	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit   float64 `koanf:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	Burst       int     `koanf:"burst" yaml:"burst" json:"burst"`
	MaxUploadMB int64   `koanf:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	Metrics     bool    `koanf:"metrics" yaml:"metrics" json:"metrics"`
}

// Config holds all CLI configuration options.
type Config struct {
	DataDir    string           `koanf:"data_dir" yaml:"data_dir" json:"data_dir"`
	StatePath  string           `koanf:"state_path" yaml:"state_path" json:"state_path"`
	LogLevel   string           `koanf:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat  string           `koanf:"log_format" yaml:"log_format" json:"log_format"`
	Output     string           `koanf:"output" yaml:"output" json:"output"`
	Classifier ClassifierConfig `koanf:"classifier" yaml:"classifier" json:"classifier"`
	Executor   ExecutorConfig   `koanf:"executor" yaml:"executor" json:"executor"`
	Matching   MatchingConfig   `koanf:"matching" yaml:"matching" json:"matching"`
	Sheet      SheetConfig      `koanf:"sheet" yaml:"sheet" json:"sheet"`
	Server     ServerConfig     `koanf:"server" yaml:"server" json:"server"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-" yaml:"project_root" json:"project_root"`
}

// Defaults returns the default settings as a flat koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"data_dir":   DefaultDataDir,
		"state_path": DefaultStateFile,
		"log_level":  DefaultLogLevel,
		"log_format": DefaultLogFormat,
		"output":     DefaultOutput,

		"classifier.provider":   ProviderAnthropic,
		"classifier.model":      DefaultModel,
		"classifier.max_tokens": DefaultMaxTokens,
		"classifier.timeout":    intent.DefaultTimeout.String(),

		"executor.timeout":        sandbox.DefaultTimeout.String(),
		"executor.preview_limit":  core.DefaultPreviewLimit,
		"executor.max_steps":      sandbox.DefaultMaxSteps,
		"executor.max_concurrent": sandbox.DefaultMaxConcurrent,

		"matching.min_similarity": colmatch.DefaultMinSimilarity,

		"sheet.max_header_rows": sheet.DefaultMaxHeaderRows,
		"sheet.forward_fill":    true,

		"server.addr":          DefaultAddr,
		"server.watch":         true,
		"server.rate_limit":    0.0,
		"server.burst":         0,
		"server.max_upload_mb": server.DefaultMaxUploadMB,
		"server.metrics":       true,
	}
}
