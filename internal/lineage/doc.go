// Package lineage reports which dataset columns an analysis snippet reads.
//
// A column counts as used when it appears as a string-literal subscript of a
// plain identifier, as in df["total sales"]. Names are returned in order of
// first appearance with duplicates removed.
//
// Snippets are parsed with the Starlark syntax package. Text that does not
// parse is scanned with a regular expression instead, so extraction never
// fails.
//
// # Limitations
//
// Subscripts through aliases are only seen at the aliasing site:
//
//	col = "total sales"
//	df[col]          // not reported
//	x = df
//	x["City"]        // reported, x is an identifier
//
// # Basic Usage
//
//	used := lineage.ExtractCode(`df = load_sheet("s.xlsx")
//	result = df.groupby([df["City"]]).agg(df["total sales"], "sum")`)
//	// used == []string{"City", "total sales"}
package lineage
