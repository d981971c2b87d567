package commands

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapask/internal/cli/config"
	"github.com/leapstack-labs/leapask/internal/testutil"
	"github.com/leapstack-labs/leapask/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAskCommand(t *testing.T) {
	cmd := NewAskCommand()

	assert.Equal(t, "ask <question>", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Example)
	for _, flag := range []string{"plan", "code"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewFilesCommand(t *testing.T) {
	cmd := NewFilesCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "add", "rm", "reindex"}, names)
}

func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand()

	assert.Equal(t, "serve", cmd.Use)
	for _, flag := range []string{"addr", "cors-origin", "watch", "rate-limit", "burst", "max-upload-mb"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewHistoryCommand(t *testing.T) {
	cmd := NewHistoryCommand()

	flag := cmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "n", flag.Shorthand)
	assert.Equal(t, "50", flag.DefValue)
}

func TestRenderer_Response(t *testing.T) {
	resp := &core.Response{
		Intent:      &core.Intent{AnalysisType: core.AnalysisSum, Metric: core.StringPtr("total sales"), GroupBy: []string{"City"}},
		Code:        "df = load_sheet(\"sales.xlsx\")\nresult = 1\n",
		TargetFile:  core.StringPtr("sales.xlsx"),
		UsedColumns: []string{"City", "total sales"},
		Columns:     []string{"City", "total sales"},
		ResultPreview: []map[string]any{
			{"City": "LA", "total sales": 6.5},
			{"City": "NYC", "total sales": 12.5},
		},
	}

	tests := []struct {
		mode Mode
		want []string
	}{
		{ModeText, []string{"Target file: sales.xlsx", "    result = 1", "Used columns: City, total sales", "12.5", "(2 rows)"}},
		{ModeMarkdown, []string{"**Target file:** sales.xlsx", "```python", "| City |", "| NYC | 12.5 |"}},
		{ModeJSON, []string{`"target_file": "sales.xlsx"`, `"total sales": 6.5`}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewRenderer(&buf, tt.mode).Response(resp))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestRenderer_FailedResponse(t *testing.T) {
	resp := &core.Response{}
	resp.Fail(core.Errorf(core.ErrNoMatch, "no dataset has the columns"))

	var buf bytes.Buffer
	require.NoError(t, NewRenderer(&buf, ModeText).Response(resp))
	assert.Contains(t, buf.String(), "Error: no_match: no dataset has the columns")
	assert.NotContains(t, buf.String(), "rows)")
}

func TestRenderer_UnknownModeIsText(t *testing.T) {
	r := NewRenderer(io.Discard, Mode("yaml"))
	assert.Equal(t, ModeText, r.Mode())
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "NULL", formatValue(nil))
	assert.Equal(t, "12.5", formatValue(12.5))
	assert.Equal(t, "1234567", formatValue(1234567.0))
	assert.Equal(t, "NYC", formatValue("NYC"))
}

// scriptedLines feeds lines to the REPL loop.
type scriptedLines struct {
	lines  []string
	closed bool
}

func (s *scriptedLines) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedLines) Close() error {
	s.closed = true
	return nil
}

func newTestCommandContext(t *testing.T, out io.Writer) *CommandContext {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "intents.yaml")
	require.NoError(t, os.WriteFile(script, []byte(`rules:
  - contains: "by region"
    response: '{"analysis_type":"sum","metric":"sales","group_by":["region"],"time_field":null,"top_n":null}'
`), 0o600))
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	testutil.WriteSalesWorkbook(t, dataDir)

	cfg := &config.Config{
		DataDir:    dataDir,
		StatePath:  ":memory:",
		Output:     "text",
		Classifier: config.ClassifierConfig{Provider: config.ProviderScripted, Script: script},
		Sheet:      config.SheetConfig{MaxHeaderRows: 3, ForwardFill: true},
	}
	logger := testutil.NewTestLogger(t)
	app, err := NewApp(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	_, err = app.Catalog.Rebuild(context.Background())
	require.NoError(t, err)

	return &CommandContext{Cfg: cfg, Logger: logger, App: app, Renderer: NewRenderer(out, ModeText)}
}

func TestREPL(t *testing.T) {
	var out, errOut bytes.Buffer
	cc := newTestCommandContext(t, &out)
	rl := &scriptedLines{lines: []string{
		"",
		".help",
		".files",
		"sales by region",
		".plan sales by region",
		".plan",
		".history 5",
		".bogus",
		".quit",
		"never read",
	}}

	require.NoError(t, runREPL(context.Background(), cc, rl, &errOut))

	assert.True(t, rl.closed)
	assert.Equal(t, []string{"never read"}, rl.lines)
	assert.Contains(t, out.String(), ".plan <question>")
	assert.Contains(t, out.String(), "sales.xlsx")
	assert.Contains(t, out.String(), "12.5")
	assert.Contains(t, out.String(), "Score:")
	assert.Contains(t, errOut.String(), "Usage: .plan <question>")
	assert.Contains(t, errOut.String(), "Unknown command: .bogus")

	records, err := cc.App.Store.ListAnalyses(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "sales by region", records[0].Question)
}

func TestREPL_StopsAtEOF(t *testing.T) {
	cc := newTestCommandContext(t, io.Discard)
	rl := &scriptedLines{}
	require.NoError(t, runREPL(context.Background(), cc, rl, io.Discard))
	assert.True(t, rl.closed)
}

func TestNewApp_UnknownProvider(t *testing.T) {
	cfg := &config.Config{StatePath: ":memory:", Classifier: config.ClassifierConfig{Provider: "gemini"}}
	_, err := NewApp(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown classifier provider")
}
