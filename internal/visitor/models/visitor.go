package models

import (
	"strings"
	"time"

	dErrors "visitorpass/pkg/domain-errors"
)

// Visitor is the aggregate for one visit request.
//
// Invariants:
//   - ID is immutable and unique
//   - Status leaves PENDING exactly once and never changes again
//   - ApprovalTime is set exactly when Status leaves PENDING
//   - PassLink is set only on approval
//   - ScanStatus becomes SCANNED at most once and only while APPROVED
//   - descriptive attributes are never mutated after creation
type Visitor struct {
	ID             string
	Name           string
	Mobile         string
	Email          string
	Purpose        string
	PersonToMeet   string
	ApproverMobile string
	VisitDate      string
	VisitTime      string
	PhotoURL       string

	Status       Status
	ApprovalTime time.Time
	PassLink     string
	ScanStatus   ScanStatus
	ScanTime     time.Time
	CreatedAt    time.Time
}

// NewVisitor creates a PENDING, NOT_SCANNED record.
func NewVisitor(id string, req RegisterRequest, now time.Time) *Visitor {
	return &Visitor{
		ID:             id,
		Name:           req.Name,
		Mobile:         req.Mobile,
		Email:          req.Email,
		Purpose:        req.Purpose,
		PersonToMeet:   req.PersonToMeet,
		ApproverMobile: req.ApproverMobile,
		VisitDate:      req.VisitDate,
		VisitTime:      req.VisitTime,
		PhotoURL:       req.PhotoURL,
		Status:         StatusPending,
		ScanStatus:     ScanNotScanned,
		CreatedAt:      now,
	}
}

// CanDecide fails with *AlreadyDecidedError once the status is terminal.
func (v *Visitor) CanDecide() error {
	if v.Status != StatusPending {
		return &AlreadyDecidedError{Status: v.Status}
	}
	return nil
}

// ApplyDecision moves a PENDING visitor to its terminal status. passLink is
// recorded only on acceptance. Call CanDecide first.
func (v *Visitor) ApplyDecision(d Decision, now time.Time, passLink string) {
	v.Status = d.TargetStatus()
	v.ApprovalTime = now
	if d == DecisionAccept {
		v.PassLink = passLink
	}
}

// CanScan enforces the gate rules in order: status first, then single use.
// A PENDING or REJECTED visitor is always EntryDenied, never DuplicateScan.
func (v *Visitor) CanScan() error {
	if v.Status != StatusApproved {
		return &EntryDeniedError{Status: v.Status}
	}
	if v.ScanStatus == ScanScanned {
		return &DuplicateScanError{ScannedAt: v.ScanTime}
	}
	return nil
}

// ApplyScan consumes the pass. Call CanScan first.
func (v *Visitor) ApplyScan(now time.Time) {
	v.ScanStatus = ScanScanned
	v.ScanTime = now
}

// CanViewPass fails unless the visitor is APPROVED.
func (v *Visitor) CanViewPass() error {
	if v.Status != StatusApproved {
		return &NotYetApprovedError{Status: v.Status}
	}
	return nil
}

// CheckInvariants reports a record that no sequence of legal transitions
// could have produced. Stores call it on load.
func (v *Visitor) CheckInvariants() error {
	switch {
	case strings.TrimSpace(v.ID) == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "visitor id is empty")
	case !v.Status.IsValid():
		return dErrors.Newf(dErrors.CodeInvariantViolation, "visitor %s has invalid status %q", v.ID, v.Status)
	case v.ScanStatus == ScanScanned && v.Status != StatusApproved:
		return dErrors.Newf(dErrors.CodeInvariantViolation, "visitor %s scanned while %s", v.ID, v.Status)
	case v.Status != StatusApproved && v.PassLink != "":
		return dErrors.Newf(dErrors.CodeInvariantViolation, "visitor %s has a pass link while %s", v.ID, v.Status)
	}
	return nil
}

// VisitAt combines VisitDate and VisitTime for ordering; records with an
// unparsable date fall back to CreatedAt.
func (v *Visitor) VisitAt() time.Time {
	if t, err := time.Parse("2006-01-02 15:04", strings.TrimSpace(v.VisitDate)+" "+strings.TrimSpace(v.VisitTime)); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", strings.TrimSpace(v.VisitDate)); err == nil {
		return t
	}
	return v.CreatedAt
}

// Clone returns an independent copy.
func (v *Visitor) Clone() *Visitor {
	c := *v
	return &c
}
