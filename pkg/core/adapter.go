package core

import (
	"context"
	"database/sql"
)

// Adapter defines the interface that all database adapters must implement.
// Adapters back the spreadsheet preprocessor for file formats that are read
// through an embedded database engine.
type Adapter interface {
	// Connect establishes a connection to the database.
	Connect(ctx context.Context, cfg AdapterConfig) error

	// Close closes the database connection.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	Query(ctx context.Context, sql string) (*Rows, error)

	// ReadFile loads a data file (CSV, TSV or Parquet) into memory.
	ReadFile(ctx context.Context, path string) (*Table, error)
}

// AdapterConfig holds configuration for connecting to a database.
type AdapterConfig struct {
	Type    string
	Path    string
	Options map[string]string
}

// Rows wraps sql.Rows to provide a consistent interface.
type Rows struct {
	*sql.Rows
}
