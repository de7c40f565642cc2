package handler

import (
	"strings"
	"time"

	"visitorpass/internal/visitor/models"
	"visitorpass/internal/visitor/service"
	dErrors "visitorpass/pkg/domain-errors"
	"visitorpass/pkg/platform/httputil"
)

// ScanRequest is what the gate scanner posts. Older scanner builds send the
// raw QR text as qr_data.
type ScanRequest struct {
	Credential string `json:"credential"`
	QRData     string `json:"qr_data"`
}

// Payload returns whichever field the scanner filled.
func (r *ScanRequest) Payload() string {
	if p := strings.TrimSpace(r.Credential); p != "" {
		return p
	}
	return strings.TrimSpace(r.QRData)
}

func (r *ScanRequest) Validate() error {
	if r.Payload() == "" {
		return dErrors.New(dErrors.CodeBadRequest, "credential is required")
	}
	return nil
}

type VisitorResponse struct {
	VisitorID      string `json:"visitor_id"`
	Name           string `json:"visitor_name"`
	Mobile         string `json:"visitor_mobile"`
	Email          string `json:"visitor_email,omitempty"`
	Purpose        string `json:"purpose"`
	PersonToMeet   string `json:"person_to_meet"`
	ApproverMobile string `json:"approver_mobile,omitempty"`
	VisitDate      string `json:"visit_date"`
	VisitTime      string `json:"visit_time"`
	PhotoURL       string `json:"photo_url,omitempty"`
	Status         string `json:"status"`
	ApprovalTime   string `json:"approval_time,omitempty"`
	PassLink       string `json:"pass_link,omitempty"`
	ScanStatus     string `json:"scan_status"`
	ScanTime       string `json:"scan_time,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type RegisterResponse struct {
	VisitorID string `json:"visitor_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type DecisionResponse struct {
	VisitorID string `json:"visitor_id"`
	Outcome   string `json:"outcome"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

type PassResponse struct {
	VisitorResponse
	ScanURL string `json:"scan_url"`
	Token   string `json:"token"`
}

type ScanResponse struct {
	Result       string `json:"result"`
	Message      string `json:"message"`
	VisitorID    string `json:"visitor_id"`
	Name         string `json:"visitor_name"`
	Mobile       string `json:"visitor_mobile"`
	Email        string `json:"visitor_email"`
	PhotoURL     string `json:"photo_url,omitempty"`
	PersonToMeet string `json:"person_to_meet"`
	Purpose      string `json:"purpose"`
	VisitDate    string `json:"visit_date"`
	VisitTime    string `json:"visit_time"`
	ScanTime     string `json:"scan_time"`
}

// ScanRefusal is the error body for a pass the gate turns away. Status is the
// visitor's lifecycle state; ScanTime is set for a pass that was already used.
type ScanRefusal struct {
	httputil.ErrorResponse
	Status   string `json:"status,omitempty"`
	ScanTime string `json:"scan_time,omitempty"`
}

type ListResponse struct {
	Visitors []VisitorResponse `json:"visitors"`
	Counts   service.Counts    `json:"counts"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toVisitorResponse(v *models.Visitor) VisitorResponse {
	return VisitorResponse{
		VisitorID:      v.ID,
		Name:           v.Name,
		Mobile:         v.Mobile,
		Email:          v.Email,
		Purpose:        v.Purpose,
		PersonToMeet:   v.PersonToMeet,
		ApproverMobile: v.ApproverMobile,
		VisitDate:      v.VisitDate,
		VisitTime:      v.VisitTime,
		PhotoURL:       v.PhotoURL,
		Status:         string(v.Status),
		ApprovalTime:   formatTime(v.ApprovalTime),
		PassLink:       v.PassLink,
		ScanStatus:     string(v.ScanStatus),
		ScanTime:       formatTime(v.ScanTime),
		CreatedAt:      formatTime(v.CreatedAt),
	}
}

func toDecisionResponse(id string, res *service.DecisionResult) DecisionResponse {
	if res.Visitor != nil {
		id = res.Visitor.ID
	}
	return DecisionResponse{
		VisitorID: id,
		Outcome:   string(res.Outcome),
		Status:    string(res.Status),
		Message:   res.Message,
	}
}

func toPassResponse(view *service.PassView) PassResponse {
	return PassResponse{
		VisitorResponse: toVisitorResponse(view.Visitor),
		ScanURL:         view.Credential.ScanURL,
		Token:           view.Credential.Token,
	}
}

func toScanResponse(res *service.ScanResult) ScanResponse {
	return ScanResponse{
		Result:       "admitted",
		Message:      "Entry granted. Welcome, " + res.Visitor.Name + ".",
		VisitorID:    res.Visitor.ID,
		Name:         res.Visitor.Name,
		Mobile:       res.Visitor.Mobile,
		Email:        res.Visitor.Email,
		PhotoURL:     res.Visitor.PhotoURL,
		PersonToMeet: res.Visitor.PersonToMeet,
		Purpose:      res.Visitor.Purpose,
		VisitDate:    res.Visitor.VisitDate,
		VisitTime:    res.Visitor.VisitTime,
		ScanTime:     formatTime(res.ScanTime),
	}
}

func toListResponse(l *service.Listing) ListResponse {
	out := ListResponse{Visitors: make([]VisitorResponse, 0, len(l.Visitors)), Counts: l.Counts}
	for _, v := range l.Visitors {
		out.Visitors = append(out.Visitors, toVisitorResponse(v))
	}
	return out
}
