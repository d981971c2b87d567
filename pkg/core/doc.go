// Package core defines the shared language of the leapask system.
//
// This package contains:
//   - Domain entities (Intent, Dataset, MatchResult, Snippet)
//   - Result shapes (ExecutionResult, Response)
//   - The pipeline error taxonomy (ErrorCode, Error)
//   - Service interfaces (Store, Adapter)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
