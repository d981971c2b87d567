package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for persisted state: the dataset index and the
// analysis history.
type Store interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// Dataset operations
	SaveDataset(ctx context.Context, ds Dataset) error
	ListDatasets(ctx context.Context) ([]Dataset, error)
	DeleteDataset(ctx context.Context, name string) error

	// Analysis history operations
	RecordAnalysis(ctx context.Context, rec *AnalysisRecord) error
	ListAnalyses(ctx context.Context, limit int) ([]*AnalysisRecord, error)
}

// AnalysisRecord is one persisted analysis run.
type AnalysisRecord struct {
	ID          string        `json:"id"`
	Question    string        `json:"question"`
	Intent      *Intent       `json:"intent"`
	TargetFile  string        `json:"target_file"`
	Code        string        `json:"code"`
	UsedColumns []string      `json:"used_columns"`
	RowCount    int           `json:"row_count"`
	ErrorCode   ErrorCode     `json:"error_code,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}
