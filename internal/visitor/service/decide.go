package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"visitorpass/internal/audit"
	"visitorpass/internal/visitor/models"
	dErrors "visitorpass/pkg/domain-errors"
)

// Outcome distinguishes a committed transition from an idempotent replay.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// DecisionResult is what every decision entry point renders.
type DecisionResult struct {
	Outcome Outcome
	Status  models.Status
	Message string
	Visitor *models.Visitor
}

// Decide applies an approver's decision to a PENDING visitor. A visitor that
// was already decided is returned unchanged with OutcomeAlreadyProcessed; no
// notification is sent in that case.
func (s *Service) Decide(ctx context.Context, visitorID string, d models.Decision) (*DecisionResult, error) {
	ctx, span := tracer.Start(ctx, "visitor.Decide", trace.WithAttributes(
		attribute.String("visitor.id", visitorID),
		attribute.String("visitor.decision", string(d)),
	))
	defer span.End()

	if visitorID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "visitor id is required")
	}
	if d != models.DecisionAccept && d != models.DecisionDecline {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown decision %q", d)
	}
	visitorID, err := canonicalID(visitorID)
	if err != nil {
		s.metrics.IncDecision(string(d), "not_found")
		return nil, err
	}

	at := now(ctx)
	passLink := s.issuer.PassLink(visitorID)
	start := time.Now()
	v, err := s.store.Execute(ctx, visitorID,
		func(v *models.Visitor) error { return v.CanDecide() },
		func(v *models.Visitor) { v.ApplyDecision(d, at, passLink) },
	)
	s.metrics.ObserveTransition("decide", start)

	var already *models.AlreadyDecidedError
	switch {
	case errors.As(err, &already):
		s.metrics.IncDecision(string(d), string(OutcomeAlreadyProcessed))
		s.logger.InfoContext(ctx, "decision ignored, visitor already processed",
			"visitor_id", visitorID,
			"decision", d,
			"status", already.Status,
		)
		s.emit(ctx, audit.Event{
			Action:      audit.ActionDecisionReplayed,
			VisitorID:   visitorID,
			PriorStatus: string(already.Status),
			Status:      string(already.Status),
			Reason:      string(d),
		})
		span.SetAttributes(attribute.String("visitor.outcome", string(OutcomeAlreadyProcessed)))
		return &DecisionResult{
			Outcome: OutcomeAlreadyProcessed,
			Status:  already.Status,
			Message: alreadyMessage(v, already.Status),
			Visitor: v,
		}, nil
	case err != nil:
		err = translate(err, "failed to record decision")
		outcome := "error"
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			outcome = "not_found"
		} else {
			s.logger.ErrorContext(ctx, "decision failed",
				"visitor_id", visitorID,
				"decision", d,
				"error", err,
			)
		}
		s.metrics.IncDecision(string(d), outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}

	s.metrics.IncDecision(string(d), string(OutcomeApplied))
	s.logger.InfoContext(ctx, "decision recorded",
		"visitor_id", v.ID,
		"prior_status", models.StatusPending,
		"status", v.Status,
	)
	action := audit.ActionVisitApproved
	if v.Status == models.StatusRejected {
		action = audit.ActionVisitRejected
	}
	s.emit(ctx, audit.Event{
		Action:      action,
		VisitorID:   v.ID,
		PriorStatus: string(models.StatusPending),
		Status:      string(v.Status),
	})
	span.SetAttributes(attribute.String("visitor.outcome", string(OutcomeApplied)))

	if v.Status == models.StatusApproved {
		s.dispatch(ctx, kindCredential, v, func(ctx context.Context) (string, error) {
			return s.notifier.SendCredential(ctx, v, v.PassLink)
		})
	} else {
		s.dispatch(ctx, kindRejection, v, func(ctx context.Context) (string, error) {
			return s.notifier.SendRejection(ctx, v)
		})
	}

	return &DecisionResult{
		Outcome: OutcomeApplied,
		Status:  v.Status,
		Message: appliedMessage(v),
		Visitor: v,
	}, nil
}

func appliedMessage(v *models.Visitor) string {
	if v.Status == models.StatusApproved {
		return fmt.Sprintf("%s has been approved. The entry pass has been sent.", v.Name)
	}
	return fmt.Sprintf("%s has been rejected.", v.Name)
}

func alreadyMessage(v *models.Visitor, status models.Status) string {
	name := "This visitor"
	if v != nil && v.Name != "" {
		name = v.Name
	}
	switch status {
	case models.StatusApproved:
		return fmt.Sprintf("%s was already approved.", name)
	case models.StatusRejected:
		return fmt.Sprintf("%s was already rejected.", name)
	}
	return fmt.Sprintf("%s is already %s.", name, status)
}
