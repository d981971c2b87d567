package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/leapask/internal/pipeline"
	"github.com/leapstack-labs/leapask/pkg/core"
	"golang.org/x/term"
)

// Mode selects how command output is rendered.
type Mode string

// Output modes.
const (
	ModeText     Mode = "text"
	ModeJSON     Mode = "json"
	ModeMarkdown Mode = "markdown"
)

// maxCellWidth bounds long text cells in dataset and history tables.
const maxCellWidth = 60

// Renderer writes command results in the configured mode.
type Renderer struct {
	w    io.Writer
	mode Mode
	tty  bool
}

// NewRenderer creates a renderer. Unknown modes render as text.
func NewRenderer(w io.Writer, mode Mode) *Renderer {
	switch mode {
	case ModeJSON, ModeMarkdown:
	default:
		mode = ModeText
	}
	r := &Renderer{w: w, mode: mode}
	if f, ok := w.(*os.File); ok {
		r.tty = term.IsTerminal(int(f.Fd()))
	}
	return r
}

// Mode returns the output mode.
func (r *Renderer) Mode() Mode { return r.mode }

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Println writes a plain line. It is silent in JSON mode.
func (r *Renderer) Println(a ...any) {
	if r.mode == ModeJSON {
		return
	}
	_, _ = fmt.Fprintln(r.w, a...)
}

// Table writes rows keyed by cols.
func (r *Renderer) Table(cols []string, rows []map[string]any) error {
	if r.mode == ModeJSON {
		if rows == nil {
			rows = []map[string]any{}
		}
		return r.JSON(rows)
	}
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(r.w, "(0 rows)")
		return nil
	}

	t := r.newTable()
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, row := range rows {
		out := make(table.Row, len(cols))
		for i, c := range cols {
			out[i] = formatValue(row[c])
		}
		t.AppendRow(out)
	}
	r.renderTable(t)
	if r.mode == ModeText {
		_, _ = fmt.Fprintf(r.w, "(%d rows)\n", len(rows))
	}
	return nil
}

func (r *Renderer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	if !r.tty {
		t.SetStyle(table.StyleDefault)
		return t
	}
	t.SetStyle(table.StyleLight)
	if f, ok := r.w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			t.SetAllowedRowLength(width)
		}
	}
	return t
}

func (r *Renderer) renderTable(t table.Writer) {
	if r.mode == ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.Render()
}

// Response writes a full analysis response.
func (r *Renderer) Response(resp *core.Response) error {
	if r.mode == ModeJSON {
		return r.JSON(resp)
	}
	r.section("Intent", intentString(resp.Intent))
	r.section("Target file", deref(resp.TargetFile))
	if resp.Code != "" {
		r.code(resp.Code)
	}
	if len(resp.UsedColumns) > 0 {
		r.section("Used columns", strings.Join(resp.UsedColumns, ", "))
	}
	if resp.Stdout != "" {
		r.section("Stdout", strings.TrimRight(resp.Stdout, "\n"))
	}
	if resp.Error != nil {
		r.section("Error", *resp.Error)
		return nil
	}
	return r.Table(resp.Columns, resp.ResultPreview)
}

// Plan writes a plan result.
func (r *Renderer) Plan(res *pipeline.PlanResult) error {
	if r.mode == ModeJSON {
		return r.JSON(res)
	}
	r.section("Intent", intentString(res.Intent))
	r.section("Target file", deref(res.TargetFile))
	if res.Score != nil {
		r.section("Score", fmt.Sprintf("%.2f", *res.Score))
	}
	if res.Error != nil {
		r.section("Error", *res.Error)
	}
	return nil
}

// Code writes a code result.
func (r *Renderer) Code(res *pipeline.CodeResult) error {
	if r.mode == ModeJSON {
		return r.JSON(res)
	}
	r.section("Intent", intentString(res.Intent))
	r.section("Target file", deref(res.TargetFile))
	if res.Code != "" {
		r.code(res.Code)
	}
	if len(res.UsedColumns) > 0 {
		r.section("Used columns", strings.Join(res.UsedColumns, ", "))
	}
	if res.Error != nil {
		r.section("Error", *res.Error)
	}
	return nil
}

// Execution writes a sandbox result.
func (r *Renderer) Execution(res *core.ExecutionResult) error {
	if r.mode == ModeJSON {
		return r.JSON(res)
	}
	if res.Stdout != "" {
		r.section("Stdout", strings.TrimRight(res.Stdout, "\n"))
	}
	if res.Error != nil {
		r.section("Error", *res.Error)
		return nil
	}
	return r.Table(res.Columns, res.ResultPreview)
}

// Datasets writes the dataset index.
func (r *Renderer) Datasets(datasets []core.Dataset) error {
	if r.mode == ModeJSON {
		if datasets == nil {
			datasets = []core.Dataset{}
		}
		return r.JSON(datasets)
	}
	if len(datasets) == 0 {
		_, _ = fmt.Fprintln(r.w, "No datasets indexed.")
		return nil
	}
	t := r.newTable()
	t.AppendHeader(table.Row{"File", "Rows", "Columns", "Indexed"})
	for _, ds := range datasets {
		t.AppendRow(table.Row{ds.Name, ds.RowCount, truncate(strings.Join(ds.Columns, ", "), maxCellWidth), ds.IndexedAt.Local().Format(time.DateTime)})
	}
	r.renderTable(t)
	return nil
}

// Analyses writes recorded analyses, newest first.
func (r *Renderer) Analyses(records []*core.AnalysisRecord) error {
	if r.mode == ModeJSON {
		if records == nil {
			records = []*core.AnalysisRecord{}
		}
		return r.JSON(records)
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(r.w, "No analyses recorded.")
		return nil
	}
	t := r.newTable()
	t.AppendHeader(table.Row{"Started", "Question", "Target", "Rows", "Outcome", "Duration"})
	for _, rec := range records {
		outcome := "ok"
		if rec.ErrorCode != "" {
			outcome = string(rec.ErrorCode)
		}
		t.AppendRow(table.Row{
			rec.StartedAt.Local().Format(time.DateTime),
			truncate(rec.Question, maxCellWidth),
			rec.TargetFile,
			rec.RowCount,
			outcome,
			rec.Duration.Round(time.Millisecond),
		})
	}
	r.renderTable(t)
	return nil
}

func (r *Renderer) section(title, body string) {
	if body == "" {
		return
	}
	if r.mode == ModeMarkdown {
		_, _ = fmt.Fprintf(r.w, "**%s:** %s\n\n", title, body)
		return
	}
	_, _ = fmt.Fprintf(r.w, "%s: %s\n", title, body)
}

func (r *Renderer) code(src string) {
	src = strings.TrimRight(src, "\n")
	if r.mode == ModeMarkdown {
		_, _ = fmt.Fprintf(r.w, "```python\n%s\n```\n\n", src)
		return
	}
	_, _ = fmt.Fprintf(r.w, "Code:\n%s\n", indent(src, "    "))
}

func intentString(in *core.Intent) string {
	if in == nil {
		return ""
	}
	return in.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

func truncate(s string, n int) string {
	if text.RuneWidthWithoutEscSequences(s) <= n {
		return s
	}
	return text.Trim(s, n-1) + "…"
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
