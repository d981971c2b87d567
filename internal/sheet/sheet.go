// Package sheet loads spreadsheets and data files into clean tables.
//
// Workbooks (.xlsx, .xlsm) are read with excelize from their active sheet:
// merged ranges are filled with their top-left value, up to MaxHeaderRows
// stacked header rows are flattened into one, empty cells are forward filled
// and fully empty rows and columns are dropped. CSV, TSV and Parquet files are
// read by the registered adapter for their format, DuckDB by default. Every
// table gets trimmed, unique, non-empty column names.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapask/pkg/adapter"
	"github.com/leapstack-labs/leapask/pkg/core"

	// Registers the duckdb adapter used for CSV, TSV and Parquet files.
	_ "github.com/leapstack-labs/leapask/pkg/adapters/duckdb"
)

// DefaultMaxHeaderRows is how many leading rows may form a stacked header.
const DefaultMaxHeaderRows = 3

// Extensions lists the file extensions Load understands.
var Extensions = []string{".xlsx", ".xlsm", ".csv", ".tsv", ".parquet"}

// Supported reports whether path has an extension Load understands.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Options configures a Loader.
type Options struct {
	// MaxHeaderRows bounds header detection. Zero means DefaultMaxHeaderRows.
	MaxHeaderRows int
	// NoForwardFill keeps empty workbook cells empty instead of copying the
	// value above them.
	NoForwardFill bool
	// Adapter configures the engine that reads CSV, TSV and Parquet files.
	// An empty Type picks the registered adapter for each file's format.
	Adapter core.AdapterConfig
	Logger  *slog.Logger
}

// Loader reads data files. It is safe for concurrent use.
type Loader struct {
	maxHeaderRows int
	forwardFill   bool
	adapterCfg    core.AdapterConfig
	logger        *slog.Logger

	mu      sync.Mutex
	engines map[string]core.Adapter
}

// NewLoader creates a loader. The data engine is connected on first use.
func NewLoader(opts Options) *Loader {
	l := &Loader{
		maxHeaderRows: opts.MaxHeaderRows,
		forwardFill:   !opts.NoForwardFill,
		adapterCfg:    opts.Adapter,
		logger:        opts.Logger,
		engines:       make(map[string]core.Adapter),
	}
	if l.maxHeaderRows <= 0 {
		l.maxHeaderRows = DefaultMaxHeaderRows
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	return l
}

// Load reads path into a clean table.
func (l *Loader) Load(ctx context.Context, path string) (*core.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		table *core.Table
		err   error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		table, err = l.readWorkbook(path)
	case ".csv", ".tsv", ".parquet":
		table, err = l.readData(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported file type %q (want one of %s)", ext, strings.Join(Extensions, ", "))
	}
	if err != nil {
		return nil, err
	}

	table = dropEmpty(table)
	table.Columns = normalizeHeaders(table.Columns)
	l.logger.Debug("sheet loaded", "path", path, "columns", len(table.Columns), "rows", table.NumRows())
	return table, nil
}

func (l *Loader) readData(ctx context.Context, path string) (*core.Table, error) {
	format, ok := adapter.FormatOf(path)
	if !ok {
		return nil, &adapter.UnsupportedFormatError{Path: path}
	}
	cfg := l.adapterCfg
	if cfg.Type == "" {
		if cfg.Type, ok = adapter.ForFormat(format); !ok {
			return nil, &adapter.UnsupportedFormatError{Path: path}
		}
	}
	adp, err := l.engine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return adp.ReadFile(ctx, path)
}

// engine returns the connected adapter for cfg, connecting it on first use.
func (l *Loader) engine(ctx context.Context, cfg core.AdapterConfig) (core.Adapter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if adp, ok := l.engines[cfg.Type]; ok {
		return adp, nil
	}
	adp, err := adapter.NewAdapter(cfg, l.logger)
	if err != nil {
		return nil, err
	}
	if err := adp.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Type, err)
	}
	l.engines[cfg.Type] = adp
	return adp, nil
}

// Close releases every connected adapter.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for name, adp := range l.engines {
		if err := adp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(l.engines, name)
	}
	return errors.Join(errs...)
}
