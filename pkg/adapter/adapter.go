// Package adapter provides the contract and shared plumbing for the embedded
// database engines that read CSV and Parquet files for leapask.
//
// Concrete adapter implementations are in pkg/adapters/ subdirectories and
// register themselves with Register from an init function.
package adapter

import (
	"github.com/leapstack-labs/leapask/pkg/core"
)

type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Rows is an alias for core.Rows.
	Rows = core.Rows

	// Adapter is an alias for core.Adapter.
	Adapter = core.Adapter
)

// FileFormat is a data file format an adapter can read.
type FileFormat string

// Supported file formats.
const (
	FormatCSV     FileFormat = "csv"
	FormatTSV     FileFormat = "tsv"
	FormatParquet FileFormat = "parquet"
)

// FormatOf returns the file format implied by a path's extension.
func FormatOf(path string) (FileFormat, bool) {
	switch ext := lowerExt(path); ext {
	case ".csv":
		return FormatCSV, true
	case ".tsv":
		return FormatTSV, true
	case ".parquet":
		return FormatParquet, true
	default:
		return "", false
	}
}
