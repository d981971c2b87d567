// Package colmatch resolves loosely written column references against real
// column names.
//
// Matching is a fixed chain of strategies applied to normalized names:
//
//	normalize -> exact -> alias -> containment -> edit distance
//
// The first strategy that produces a candidate wins. Within a strategy the
// earliest candidate (input order) wins, so results are deterministic.
package colmatch

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultMinSimilarity is the edit-distance similarity a candidate needs to match.
const DefaultMinSimilarity = 0.8

// minContainmentRunes keeps short fragments like "id" from matching everything.
const minContainmentRunes = 3

// DefaultAliases maps semantic words that questions use to column names that
// spreadsheets commonly carry instead.
var DefaultAliases = map[string][]string{
	"region":   {"city", "state", "province", "country", "territory", "area"},
	"product":  {"item", "sku"},
	"customer": {"client", "account"},
	"date":     {"day", "period"},
	"quantity": {"qty", "units"},
}

// Strategy names which step of the chain produced a match.
type Strategy string

// Strategies in evaluation order.
const (
	StrategyNone        Strategy = ""
	StrategyExact       Strategy = "exact"
	StrategyAlias       Strategy = "alias"
	StrategyContainment Strategy = "containment"
	StrategyEditDist    Strategy = "edit_distance"
)

// Options configures a Comparator.
type Options struct {
	// MinSimilarity is the lowest 1 - distance/maxLen accepted by the edit-distance step.
	// Zero means DefaultMinSimilarity.
	MinSimilarity float64
	// Aliases maps a word to interchangeable words. Lookups are symmetric.
	// Nil means DefaultAliases; use an empty map to disable aliasing.
	Aliases map[string][]string
}

// Comparator matches column references to candidates. It is immutable and safe
// for concurrent use.
type Comparator struct {
	minSimilarity float64
	aliases       map[string]map[string]bool
}

// New creates a comparator.
func New(opts Options) *Comparator {
	minSim := opts.MinSimilarity
	if minSim <= 0 {
		minSim = DefaultMinSimilarity
	}
	src := opts.Aliases
	if src == nil {
		src = DefaultAliases
	}

	aliases := make(map[string]map[string]bool)
	link := func(a, b string) {
		if aliases[a] == nil {
			aliases[a] = make(map[string]bool)
		}
		aliases[a][b] = true
	}
	for word, syns := range src {
		w := Normalize(word)
		for _, s := range syns {
			n := Normalize(s)
			if w == "" || n == "" || w == n {
				continue
			}
			link(w, n)
			link(n, w)
		}
	}

	return &Comparator{minSimilarity: minSim, aliases: aliases}
}

// Default returns a comparator with default options.
func Default() *Comparator {
	return New(Options{})
}

// Normalize folds case and width and drops whitespace and punctuation.
// "Total Sales", "total_sales" and "TOTAL-SALES" all normalize to "totalsales".
func Normalize(s string) string {
	folded := cases.Fold().String(norm.NFKC.String(s))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Match returns the candidate that ref resolves to.
func (c *Comparator) Match(ref string, candidates []string) (string, bool) {
	col, strategy := c.MatchWith(ref, candidates)
	return col, strategy != StrategyNone
}

// Contains reports whether ref resolves to any candidate.
func (c *Comparator) Contains(ref string, candidates []string) bool {
	_, ok := c.Match(ref, candidates)
	return ok
}

// MatchWith is Match that also reports which strategy matched.
func (c *Comparator) MatchWith(ref string, candidates []string) (string, Strategy) {
	target := Normalize(ref)
	if target == "" || len(candidates) == 0 {
		return "", StrategyNone
	}

	normalized := make([]string, len(candidates))
	for i, cand := range candidates {
		normalized[i] = Normalize(cand)
	}

	for i, n := range normalized {
		if n == target {
			return candidates[i], StrategyExact
		}
	}

	if syns := c.aliases[target]; len(syns) > 0 {
		for i, n := range normalized {
			if syns[n] {
				return candidates[i], StrategyAlias
			}
		}
	}

	if utf8.RuneCountInString(target) >= minContainmentRunes {
		for i, n := range normalized {
			if utf8.RuneCountInString(n) < minContainmentRunes {
				continue
			}
			if strings.Contains(n, target) || strings.Contains(target, n) {
				return candidates[i], StrategyContainment
			}
		}
	}

	best, bestDist := -1, 0
	for i, n := range normalized {
		if n == "" {
			continue
		}
		d := levenshtein.ComputeDistance(target, n)
		if !c.similarEnough(target, n, d) {
			continue
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 {
		return candidates[best], StrategyEditDist
	}

	return "", StrategyNone
}

func (c *Comparator) similarEnough(a, b string, dist int) bool {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return false
	}
	return 1-float64(dist)/float64(longest) >= c.minSimilarity
}
