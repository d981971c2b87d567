// Package duckdb provides a DuckDB adapter that reads CSV, TSV and Parquet
// files for leapask.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/leapstack-labs/leapask/pkg/adapter"
	"github.com/leapstack-labs/leapask/pkg/core"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance. A nil logger discards output.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger}}
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" (or an empty path) for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg core.AdapterConfig) error {
	params, err := ParseParams(cfg.Options)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	for _, stmt := range params.statements() {
		if err := a.Exec(ctx, stmt); err != nil {
			_ = a.Close()
			return fmt.Errorf("failed to configure duckdb: %w", err)
		}
	}
	a.Logger.Debug("duckdb connected", "path", path, "settings", len(params.Settings))
	return nil
}

// ReadFile loads a CSV, TSV or Parquet file. The schema is inferred by DuckDB.
func (a *Adapter) ReadFile(ctx context.Context, path string) (*core.Table, error) {
	if a.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	format, ok := adapter.FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	query, err := readQuery(format, absPath)
	if err != nil {
		return nil, err
	}
	table, err := a.QueryTable(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	a.Logger.Debug("file read", "path", absPath, "format", format, "rows", table.NumRows())
	return table, nil
}

func readQuery(format adapter.FileFormat, path string) (string, error) {
	lit := adapter.QuoteLiteral(path)
	switch format {
	case adapter.FormatCSV:
		return "SELECT * FROM read_csv_auto(" + lit + ", header=true)", nil
	case adapter.FormatTSV:
		return "SELECT * FROM read_csv_auto(" + lit + ", header=true, delim='\t')", nil
	case adapter.FormatParquet:
		return "SELECT * FROM read_parquet(" + lit + ")", nil
	default:
		return "", fmt.Errorf("unsupported file format %q", format)
	}
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
