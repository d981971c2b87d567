package lineage

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapask/pkg/core"
	"go.starlark.net/syntax"
)

// parseOptions accepts every construct snippets may use.
var parseOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// subscriptPattern matches ident["literal"] and ident['literal'].
var subscriptPattern = regexp.MustCompile(`(\w+)\[\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*')\s*\]`)

// Extract returns the columns a snippet reads.
func Extract(s core.Snippet) []string {
	return ExtractCode(s.Code())
}

// ExtractCode returns the column names used as string subscripts in code.
// The result is never nil.
func ExtractCode(code string) []string {
	f, err := parseOptions.Parse("snippet.star", code, 0)
	if err != nil {
		return scan(code)
	}
	return walk(f)
}

type ref struct {
	line, col int32
	name      string
}

func walk(f *syntax.File) []string {
	var refs []ref
	syntax.Walk(f, func(n syntax.Node) bool {
		idx, ok := n.(*syntax.IndexExpr)
		if !ok {
			return true
		}
		if _, ok := idx.X.(*syntax.Ident); !ok {
			return true
		}
		lit, ok := idx.Y.(*syntax.Literal)
		if !ok || lit.Token != syntax.STRING {
			return true
		}
		name, ok := lit.Value.(string)
		if !ok {
			return true
		}
		refs = append(refs, ref{line: lit.TokenPos.Line, col: lit.TokenPos.Col, name: name})
		return true
	})

	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].line != refs[j].line {
			return refs[i].line < refs[j].line
		}
		return refs[i].col < refs[j].col
	})

	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.name
	}
	return dedupe(names)
}

// scan is the fallback for text the parser rejects.
func scan(code string) []string {
	var names []string
	for _, m := range subscriptPattern.FindAllStringSubmatch(code, -1) {
		if name, ok := unquote(m[2]); ok {
			names = append(names, name)
		}
	}
	return dedupe(names)
}

func unquote(lit string) (string, bool) {
	quote := lit[0]
	body := lit[1 : len(lit)-1]
	var b strings.Builder
	for len(body) > 0 {
		r, _, tail, err := strconv.UnquoteChar(body, quote)
		if err != nil {
			return "", false
		}
		b.WriteRune(r)
		body = tail
	}
	return b.String(), true
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
