package core

import "time"

// Dataset describes one indexed spreadsheet. Owned by the dataset index; the
// analysis pipeline only reads it.
type Dataset struct {
	Name      string    `json:"file_name"`
	Path      string    `json:"path"`
	Columns   []string  `json:"columns"`
	RowCount  int       `json:"n_rows"`
	IndexedAt time.Time `json:"indexed_at"`
}

// NumColumns returns the number of columns in the dataset.
func (d Dataset) NumColumns() int {
	return len(d.Columns)
}

// MatchResult is the outcome of ranking datasets against an intent.
type MatchResult struct {
	Dataset Dataset `json:"dataset"`
	// Score is the fraction of intent-referenced columns present in Dataset.
	Score float64 `json:"score"`
	// MetricPresent reports whether the intent's metric resolved in Dataset.
	MetricPresent bool `json:"metric_present"`
	// Matched maps each resolved reference to the dataset column it matched.
	Matched map[string]string `json:"matched,omitempty"`
}
