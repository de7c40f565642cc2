package models

import (
	"strings"

	dErrors "visitorpass/pkg/domain-errors"
)

// Status is the approval lifecycle of a visit request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further status transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ParseStatus accepts stored values case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvariantViolation, "unknown status %q", s)
	}
	return st, nil
}

// ScanStatus is the single-use entry lifecycle, gated on StatusApproved.
type ScanStatus string

const (
	ScanNotScanned ScanStatus = "NOT_SCANNED"
	ScanScanned    ScanStatus = "SCANNED"
)

// ParseScanStatus treats an empty cell as NOT_SCANNED.
func ParseScanStatus(s string) (ScanStatus, error) {
	switch ScanStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case "", ScanNotScanned:
		return ScanNotScanned, nil
	case ScanScanned:
		return ScanScanned, nil
	}
	return "", dErrors.Newf(dErrors.CodeInvariantViolation, "unknown scan status %q", s)
}

// Decision is the approver's answer to a pending request.
type Decision string

const (
	DecisionAccept  Decision = "ACCEPT"
	DecisionDecline Decision = "DECLINE"
)

// ParseDecision accepts ACCEPT/DECLINE and the APPROVE/REJECT spellings used
// by older approval links and buttons.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ACCEPT", "APPROVE":
		return DecisionAccept, nil
	case "DECLINE", "REJECT":
		return DecisionDecline, nil
	}
	return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown decision %q", s)
}

// TargetStatus is the status a PENDING visitor moves to under d.
func (d Decision) TargetStatus() Status {
	if d == DecisionAccept {
		return StatusApproved
	}
	return StatusRejected
}
