package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that every setting is in range.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, levelErr := ParseLevel(c.LogLevel)
	check(levelErr == nil, "log_level must be debug, info, warn or error, got %q", c.LogLevel)
	check(oneOf(c.LogFormat, "text", "json"), "log_format must be text or json, got %q", c.LogFormat)
	check(oneOf(c.Output, "text", "json", "markdown"), "output must be text, json or markdown, got %q", c.Output)

	check(oneOf(c.Classifier.Provider, ProviderAnthropic, ProviderScripted),
		"classifier.provider must be %s or %s, got %q", ProviderAnthropic, ProviderScripted, c.Classifier.Provider)
	if c.Classifier.Provider == ProviderScripted {
		check(c.Classifier.Script != "", "classifier.script is required for the scripted provider")
	}
	if c.Classifier.Provider == ProviderAnthropic {
		check(c.Classifier.Model != "", "classifier.model is required")
	}
	check(c.Classifier.MaxTokens > 0, "classifier.max_tokens must be positive")
	check(c.Classifier.Timeout > 0, "classifier.timeout must be positive")

	check(c.Executor.Timeout > 0, "executor.timeout must be positive")
	check(c.Executor.PreviewLimit > 0, "executor.preview_limit must be positive")
	check(c.Executor.MaxConcurrent > 0, "executor.max_concurrent must be positive")

	check(c.Matching.MinSimilarity > 0 && c.Matching.MinSimilarity <= 1,
		"matching.min_similarity must be in (0, 1], got %v", c.Matching.MinSimilarity)
	check(c.Sheet.MaxHeaderRows > 0, "sheet.max_header_rows must be positive")

	check(c.Server.Addr != "", "server.addr is required")
	check(c.Server.RateLimit >= 0, "server.rate_limit must not be negative")
	check(c.Server.Burst >= 0, "server.burst must not be negative")
	check(c.Server.MaxUploadMB > 0, "server.max_upload_mb must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
