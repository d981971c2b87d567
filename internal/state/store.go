// Package state persists the dataset index and the analysis history in SQLite.
//
// Core types are defined in pkg/core; the aliases below keep call sites in
// this package short.
package state

import (
	"github.com/leapstack-labs/leapask/pkg/core"
)

type (
	// Store is an alias for core.Store.
	Store = core.Store

	// AnalysisRecord is an alias for core.AnalysisRecord.
	AnalysisRecord = core.AnalysisRecord
)

// DefaultHistoryLimit is the number of analyses ListAnalyses returns when the
// caller passes a non-positive limit.
const DefaultHistoryLimit = 50
