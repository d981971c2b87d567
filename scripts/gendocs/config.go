package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapask/internal/cli/config"
)

// configDescriptions documents every key returned by config.Defaults, plus
// keys that have no default.
var configDescriptions = map[string]string{
	"data_dir":                "Directory holding the spreadsheets",
	"state_path":              "SQLite file for the dataset index and analysis history, or :memory:",
	"log_level":               "debug, info, warn or error",
	"log_format":              "text or json",
	"output":                  "CLI output format: text, json or markdown",
	"classifier.provider":     "anthropic or scripted",
	"classifier.model":        "Model used by the anthropic provider",
	"classifier.max_tokens":   "Completion token limit for intent extraction",
	"classifier.timeout":      "Deadline for one classification call",
	"classifier.script":       "Rule file for the scripted provider",
	"classifier.api_key":      "Overrides ANTHROPIC_API_KEY",
	"executor.timeout":        "Wall-clock limit for one snippet",
	"executor.preview_limit":  "Rows kept in result_preview",
	"executor.max_steps":      "Starlark step budget per snippet",
	"executor.max_concurrent": "Snippets allowed to run at once",
	"matching.min_similarity": "Lowest fuzzy score that counts as a column match",
	"matching.aliases":        "Semantic word to column name synonyms",
	"sheet.max_header_rows":   "Leading rows scanned for the header",
	"sheet.forward_fill":      "Fill merged-cell gaps in workbook key columns",
	"server.addr":             "HTTP listen address",
	"server.cors_origins":     "Origins allowed by CORS",
	"server.watch":            "Reindex when files in the data directory change",
	"server.rate_limit":       "Requests per second per client, 0 disables",
	"server.burst":            "Rate limiter burst",
	"server.max_upload_mb":    "Upload size limit",
	"server.metrics":          "Expose /metrics",
}

// generateConfigDocs generates the configuration reference page.
func generateConfigDocs(outDir string) error {
	log.Printf("Generating config docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	defaults := config.Defaults()
	keys := make([]string, 0, len(configDescriptions))
	for key := range configDescriptions {
		keys = append(keys, key)
	}
	for key := range defaults {
		if _, ok := configDescriptions[key]; !ok {
			log.Printf("  warning: %s has no description", key)
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	w := NewMarkdownWriter()
	w.Frontmatter("Configuration", "leapask configuration reference")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph("leapask reads `" + config.ConfigFileNames[0] + "` from the working directory or the nearest parent. Relative paths in the file are resolved against its directory. Run `leapask config init` to write a starter file.")

	headers := []string{"Key", "Environment", "Default", "Description"}
	var rows [][]string
	for _, key := range keys {
		def := "-"
		if v, ok := defaults[key]; ok {
			def = InlineCode(fmt.Sprint(v))
		}
		desc := configDescriptions[key]
		if desc == "" {
			desc = "-"
		}
		rows = append(rows, []string{InlineCode(key), InlineCode(envName(key)), def, desc})
	}
	w.Table(headers, rows)

	w.Header(2, "Example")
	w.CodeBlock("yaml", `data_dir: data
state_path: .leapask/state.db
classifier:
  provider: anthropic
  model: claude-3-5-haiku-latest
executor:
  timeout: 10s
  preview_limit: 20
matching:
  aliases:
    region: [city, state, country]
server:
  addr: 127.0.0.1:8000
  cors_origins: [http://localhost:5173]`)

	filename := filepath.Join(outDir, "configuration.md")
	if err := os.WriteFile(filename, w.Bytes(), 0600); err != nil {
		return err
	}
	log.Printf("  Generated configuration.md")
	return nil
}

// envName returns the environment variable for a dotted key.
func envName(key string) string {
	return config.EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "__"))
}
