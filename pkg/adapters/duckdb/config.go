package duckdb

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Params holds DuckDB-specific configuration.
// Parsed from adapter.Config.Options.
type Params struct {
	// Extensions to install and load (e.g., "excel", "json").
	Extensions []string

	// Settings to apply at session level (e.g., memory_limit, threads).
	Settings map[string]string
}

// extensionsKey is the option holding a comma separated extension list.
const extensionsKey = "extensions"

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ParseParams splits adapter options into extensions and session settings.
// Every other option is treated as a setting name.
func ParseParams(opts map[string]string) (*Params, error) {
	p := &Params{}
	for key, value := range opts {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == extensionsKey {
			for _, ext := range strings.Split(value, ",") {
				ext = strings.ToLower(strings.TrimSpace(ext))
				if ext == "" {
					continue
				}
				if !identRe.MatchString(ext) {
					return nil, fmt.Errorf("invalid duckdb extension name %q", ext)
				}
				p.Extensions = append(p.Extensions, ext)
			}
			continue
		}
		if !identRe.MatchString(key) {
			return nil, fmt.Errorf("invalid duckdb setting name %q", key)
		}
		if p.Settings == nil {
			p.Settings = make(map[string]string)
		}
		p.Settings[key] = value
	}
	sort.Strings(p.Extensions)
	return p, nil
}

// statements returns the SQL that applies p to a fresh connection, in a
// stable order.
func (p *Params) statements() []string {
	var stmts []string
	for _, ext := range p.Extensions {
		stmts = append(stmts, "INSTALL "+ext, "LOAD "+ext)
	}
	keys := make([]string, 0, len(p.Settings))
	for k := range p.Settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stmts = append(stmts, fmt.Sprintf("SET %s = '%s'", k, strings.ReplaceAll(p.Settings[k], "'", "''")))
	}
	return stmts
}
