package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"gopkg.in/yaml.v3"
)

// LLMClient is the classifier capability: one prompt in, one completion out.
type LLMClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AnthropicClient implements LLMClient using the Anthropic API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	logger    *slog.Logger
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	Model     string
	MaxTokens int64
	// APIKey overrides ANTHROPIC_API_KEY from the environment.
	APIKey string
	Logger *slog.Logger
}

// NewAnthropicClient creates an Anthropic-backed classifier. The SDK's own
// retries are disabled; a failed call surfaces immediately.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Complete sends a prompt to the model and returns the response text.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	c.logger.Debug("classifier call starting", "model", c.model, "max_tokens", c.maxTokens, "prompt_len", len(userPrompt))

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("classifier call failed", "duration", duration, "error", err)
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	c.logger.Debug("classifier call completed", "duration", duration, "stop_reason", msg.StopReason)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}

// ScriptRule answers every question containing Contains (case-insensitive)
// with Response.
type ScriptRule struct {
	Contains string `yaml:"contains"`
	Response string `yaml:"response"`
}

// ScriptedClient is a deterministic classifier for tests and offline use.
// Rules are tried in order against the question; the first match answers.
type ScriptedClient struct {
	Rules []ScriptRule `yaml:"rules"`
	// Default answers questions no rule matches. Empty means an error.
	Default string `yaml:"default"`
	// Err, when set, fails every call as a transport error would.
	Err error `yaml:"-"`
	// Delay holds each call, honoring cancellation.
	Delay time.Duration `yaml:"-"`

	calls atomic.Int64
}

// ErrNoScriptedResponse is returned when no rule matches and there is no default.
var ErrNoScriptedResponse = errors.New("no scripted response for question")

// NewScriptedClient creates a scripted classifier from rules.
func NewScriptedClient(rules ...ScriptRule) *ScriptedClient {
	return &ScriptedClient{Rules: rules}
}

// LoadScript reads a YAML script file with rules and an optional default.
func LoadScript(path string) (*ScriptedClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier script: %w", err)
	}
	c := &ScriptedClient{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse classifier script %s: %w", path, err)
	}
	return c, nil
}

// Complete implements LLMClient.
func (c *ScriptedClient) Complete(ctx context.Context, _, userPrompt string) (string, error) {
	c.calls.Add(1)
	if c.Delay > 0 {
		timer := time.NewTimer(c.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if c.Err != nil {
		return "", c.Err
	}

	question := strings.ToLower(QuestionFromPrompt(userPrompt))
	for _, r := range c.Rules {
		if strings.Contains(question, strings.ToLower(r.Contains)) {
			return r.Response, nil
		}
	}
	if c.Default != "" {
		return c.Default, nil
	}
	return "", ErrNoScriptedResponse
}

// Calls returns how many times Complete was invoked.
func (c *ScriptedClient) Calls() int {
	return int(c.calls.Load())
}
