package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"visitorpass/internal/audit"
	"visitorpass/internal/visitor/credential"
	"visitorpass/internal/visitor/models"
	dErrors "visitorpass/pkg/domain-errors"
)

// ScanResult is returned to security staff when a pass admits its holder.
type ScanResult struct {
	Visitor  *models.Visitor
	ScanTime time.Time
}

// ValidateEntry consumes a credential at the gate. The status check and the
// scan write run under the store lock, so one pass admits exactly once even
// when two gates scan it concurrently.
//
// Errors: CodeMalformedCredential, CodeNotFound, *models.EntryDeniedError for
// a visitor that is not APPROVED, *models.DuplicateScanError carrying the
// first scan time.
func (s *Service) ValidateEntry(ctx context.Context, payload string) (*ScanResult, error) {
	ctx, span := tracer.Start(ctx, "visitor.ValidateEntry")
	defer span.End()

	visitorID, err := s.issuer.Decode(payload)
	if err != nil {
		s.metrics.IncScan("malformed")
		s.logger.WarnContext(ctx, "malformed credential presented", "error", err)
		span.SetStatus(codes.Error, "malformed")
		return nil, err
	}
	span.SetAttributes(attribute.String("visitor.id", visitorID))

	at := now(ctx)
	start := time.Now()
	v, err := s.store.Execute(ctx, visitorID,
		func(v *models.Visitor) error { return v.CanScan() },
		func(v *models.Visitor) { v.ApplyScan(at) },
	)
	s.metrics.ObserveTransition("scan", start)

	var (
		denied    *models.EntryDeniedError
		duplicate *models.DuplicateScanError
	)
	switch {
	case errors.As(err, &duplicate):
		s.metrics.IncScan("duplicate")
		s.logger.WarnContext(ctx, "duplicate scan, pass already used",
			"visitor_id", visitorID,
			"status", models.StatusApproved,
			"first_scan_time", duplicate.ScannedAt,
		)
		s.emit(ctx, audit.Event{
			Action:      audit.ActionDuplicateScan,
			VisitorID:   visitorID,
			PriorStatus: string(models.StatusApproved),
			Status:      string(models.StatusApproved),
			Reason:      "first scanned at " + duplicate.ScannedAt.Format(time.RFC3339),
		})
		span.SetStatus(codes.Error, "duplicate_scan")
		return nil, err
	case errors.As(err, &denied):
		s.metrics.IncScan("denied")
		s.logger.WarnContext(ctx, "entry denied",
			"visitor_id", visitorID,
			"status", denied.Status,
		)
		s.emit(ctx, audit.Event{
			Action:      audit.ActionEntryDenied,
			VisitorID:   visitorID,
			PriorStatus: string(denied.Status),
			Status:      string(denied.Status),
		})
		span.SetStatus(codes.Error, "entry_denied")
		return nil, err
	case err != nil:
		err = translate(err, "failed to record scan")
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.metrics.IncScan("not_found")
			s.logger.WarnContext(ctx, "scan for unknown visitor", "visitor_id", visitorID)
		} else {
			s.metrics.IncScan("error")
			s.logger.ErrorContext(ctx, "scan failed", "visitor_id", visitorID, "error", err)
			span.RecordError(err)
		}
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}

	s.metrics.IncScan("admitted")
	s.logger.InfoContext(ctx, "entry granted",
		"visitor_id", v.ID,
		"status", v.Status,
		"scan_time", v.ScanTime,
	)
	s.emit(ctx, audit.Event{
		Action:      audit.ActionEntryAdmitted,
		VisitorID:   v.ID,
		PriorStatus: string(models.StatusApproved),
		Status:      string(v.Status),
	})
	return &ScanResult{Visitor: v, ScanTime: v.ScanTime}, nil
}

// PassView is the data behind the pass page.
type PassView struct {
	Visitor    *models.Visitor
	Credential credential.Credential
}

// CredentialView returns the pass for an APPROVED visitor. PENDING and
// REJECTED visitors get *models.NotYetApprovedError.
func (s *Service) CredentialView(ctx context.Context, visitorID string) (*PassView, error) {
	visitorID, err := canonicalID(visitorID)
	if err != nil {
		return nil, err
	}
	v, err := s.store.FindByID(ctx, visitorID)
	if err != nil {
		return nil, translate(err, "failed to load visitor")
	}
	if err := v.CanViewPass(); err != nil {
		return nil, err
	}
	cred, err := s.issuer.Issue(v.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue credential")
	}
	return &PassView{Visitor: v, Credential: cred}, nil
}
