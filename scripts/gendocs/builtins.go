package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	lstar "github.com/leapstack-labs/leapask/internal/starlark"
)

// Member documents a builtin, method or attribute available to snippets.
type Member struct {
	Signature   string
	Description string
}

var builtinDocs = map[string]Member{
	"load_sheet":  {Signature: "load_sheet(name)", Description: "Load an indexed dataset as a frame"},
	"frame":       {Signature: "frame(columns_or_records)", Description: "Build a frame from a dict of lists or a list of dicts"},
	"to_datetime": {Signature: "to_datetime(column)", Description: "Parse dates, Excel serials and timestamps into a new column"},
	"math":        {Signature: "math", Description: "Starlark math module"},
	"time":        {Signature: "time", Description: "Starlark time module"},
}

var frameDocs = map[string]Member{
	"columns":     {Signature: "df.columns", Description: "Column names in order"},
	"shape":       {Signature: "df.shape", Description: "(rows, columns)"},
	"head":        {Signature: "df.head(n=5)", Description: "First n rows"},
	"groupby":     {Signature: "df.groupby(by)", Description: "Group rows by one or more columns"},
	"sort":        {Signature: "df.sort(by, descending=False)", Description: "Stable sort by a column"},
	"nlargest":    {Signature: "df.nlargest(n, by)", Description: "Top n rows by a numeric column"},
	"with_column": {Signature: "df.with_column(name, values)", Description: "Copy with a column added or replaced"},
	"resample":    {Signature: `df.resample(on, freq, by=None)`, Description: "Group by calendar period: D, W, M, Q or Y"},
	"rows":        {Signature: "df.rows()", Description: "Rows as a list of dicts"},
}

var columnDocs = map[string]Member{
	"name":   {Signature: "col.name", Description: "Column name"},
	"values": {Signature: "col.values", Description: "Cells as a list"},
	"sum":    {Signature: "col.sum()", Description: "Sum of numeric cells"},
	"mean":   {Signature: "col.mean()", Description: "Mean of numeric cells"},
	"count":  {Signature: "col.count()", Description: "Non-null cells"},
	"min":    {Signature: "col.min()", Description: "Smallest value"},
	"max":    {Signature: "col.max()", Description: "Largest value"},
	"median": {Signature: "col.median()", Description: "Median of numeric cells"},
}

// generateBuiltinsDocs generates the snippet builtins reference. Members are
// taken from the interpreter itself so the page cannot drift from it.
func generateBuiltinsDocs(outDir string) error {
	log.Printf("Generating builtins docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	df, err := lstar.NewFrame([]string{"x"}, nil)
	if err != nil {
		return err
	}
	col := lstar.NewColumn("x", nil)

	w := NewMarkdownWriter()
	w.Frontmatter("Snippet Builtins", "Names available to generated and hand-written snippets")
	w.GeneratedMarker()

	w.Header(1, "Snippet Builtins")
	w.Paragraph("Snippets are Starlark programs. They cannot load modules or touch the filesystem, network or processes. The value bound to `result` becomes the answer.")

	w.Header(2, "Globals")
	writeMembers(w, lstar.Builtins, builtinDocs)

	w.Header(2, "Frame")
	writeMembers(w, df.AttrNames(), frameDocs)
	w.Paragraph("`df[\"name\"]` returns a column.")

	w.Header(2, "Column")
	writeMembers(w, col.AttrNames(), columnDocs)

	w.Header(2, "Example")
	w.CodeBlock("python", `df = load_sheet("sales.xlsx")
by_city = df.groupby(df["City"]).agg(df["total sales"], "sum")
result = by_city.sort("total sales", descending=True)`)

	filename := filepath.Join(outDir, "builtins.md")
	if err := os.WriteFile(filename, w.Bytes(), 0600); err != nil {
		return err
	}
	log.Printf("  Generated builtins.md")
	return nil
}

func writeMembers(w *MarkdownWriter, names []string, docs map[string]Member) {
	headers := []string{"Name", "Description"}
	var rows [][]string
	for _, name := range names {
		m, ok := docs[name]
		if !ok {
			log.Printf("  warning: %s is undocumented", name)
			m = Member{Signature: name, Description: "-"}
		}
		rows = append(rows, []string{InlineCode(m.Signature), m.Description})
	}
	w.Table(headers, rows)
}
