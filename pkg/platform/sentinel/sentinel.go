package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: row or record does not exist
//   - ErrColumnNotFound: tabular store has no such header column
//   - ErrConflict: write lost against a concurrent writer
//   - ErrUnavailable: backing store or provider temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound       = errors.New("not found")
	ErrColumnNotFound = errors.New("column not found")
	ErrConflict       = errors.New("conflict")
	ErrUnavailable    = errors.New("unavailable")
)
