package models

import (
	"fmt"
	"time"

	dErrors "visitorpass/pkg/domain-errors"
)

// EntryDeniedError is returned by the scan gate when the visitor is not APPROVED.
type EntryDeniedError struct {
	Status Status
}

func (e *EntryDeniedError) Error() string {
	return fmt.Sprintf("entry denied: visitor status is %s", e.Status)
}

func (e *EntryDeniedError) Unwrap() error {
	return dErrors.Newf(dErrors.CodeEntryDenied, "entry denied: visit is %s", e.Status)
}

// DuplicateScanError is returned when the pass was already consumed. ScannedAt
// is the time of the first, successful scan.
type DuplicateScanError struct {
	ScannedAt time.Time
}

func (e *DuplicateScanError) Error() string {
	return fmt.Sprintf("duplicate scan: pass already used at %s", e.ScannedAt.Format(time.RFC3339))
}

func (e *DuplicateScanError) Unwrap() error {
	return dErrors.Newf(dErrors.CodeDuplicateScan, "pass already used at %s", e.ScannedAt.Format(time.RFC3339))
}

// NotYetApprovedError is returned when a pass is requested for a visitor that
// is PENDING or REJECTED.
type NotYetApprovedError struct {
	Status Status
}

func (e *NotYetApprovedError) Error() string {
	return fmt.Sprintf("pass not active: visitor status is %s", e.Status)
}

func (e *NotYetApprovedError) Unwrap() error {
	return dErrors.Newf(dErrors.CodePassNotActive, "pass not active: visit is %s", e.Status)
}

// AlreadyDecidedError is the validate failure of a decision on a terminal
// record. The service turns it into an AlreadyProcessed outcome.
type AlreadyDecidedError struct {
	Status Status
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("already processed: visitor status is %s", e.Status)
}

func (e *AlreadyDecidedError) Unwrap() error {
	return dErrors.Newf(dErrors.CodeConflict, "visit already %s", e.Status)
}
