package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/leapask/pkg/adapter"
)

// Name is the registry name of this adapter.
const Name = "duckdb"

func init() {
	adapter.Register(Name, func(logger *slog.Logger) adapter.Adapter { return New(logger) },
		adapter.FormatCSV, adapter.FormatTSV, adapter.FormatParquet)
}
