package service

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"visitorpass/internal/audit"
	"visitorpass/internal/visitor/models"
)

// Register validates the form, stores a PENDING visitor and asks the approver
// for a decision.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.Visitor, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	v := models.NewVisitor(uuid.NewString(), *req, now(ctx))
	if err := s.store.Create(ctx, v); err != nil {
		err = translate(err, "failed to register visitor")
		s.logger.ErrorContext(ctx, "registration failed", "visitor_id", v.ID, "error", err)
		return nil, err
	}

	s.metrics.IncRegistration()
	s.logger.InfoContext(ctx, "visitor registered",
		"visitor_id", v.ID,
		"visit_date", v.VisitDate,
		"visit_time", v.VisitTime,
	)
	s.emit(ctx, audit.Event{
		Action:    audit.ActionVisitorRegistered,
		VisitorID: v.ID,
		Status:    string(v.Status),
	})

	s.dispatch(ctx, kindApprovalRequest, v, func(ctx context.Context) (string, error) {
		return s.notifier.SendApprovalRequest(ctx, v)
	})
	return v, nil
}

// Counts summarises the listing.
type Counts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Scanned  int `json:"scanned"`
}

// Listing is every visitor, newest visit first.
type Listing struct {
	Visitors []*models.Visitor
	Counts   Counts
}

// List returns all visitors ordered by visit date and time, newest first;
// ties fall back to creation time.
func (s *Service) List(ctx context.Context) (*Listing, error) {
	visitors, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, translate(err, "failed to list visitors")
	}
	sort.SliceStable(visitors, func(i, j int) bool {
		a, b := visitors[i].VisitAt(), visitors[j].VisitAt()
		if !a.Equal(b) {
			return a.After(b)
		}
		return visitors[i].CreatedAt.After(visitors[j].CreatedAt)
	})

	var c Counts
	for _, v := range visitors {
		c.Total++
		switch v.Status {
		case models.StatusPending:
			c.Pending++
		case models.StatusApproved:
			c.Approved++
		case models.StatusRejected:
			c.Rejected++
		}
		if v.ScanStatus == models.ScanScanned {
			c.Scanned++
		}
	}
	return &Listing{Visitors: visitors, Counts: c}, nil
}
