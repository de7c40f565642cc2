// Package handler exposes the visitor lifecycle over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"visitorpass/internal/directory"
	"visitorpass/internal/ratelimit"
	"visitorpass/internal/visitor/models"
	"visitorpass/internal/visitor/service"
	"visitorpass/internal/whatsapp"
	dErrors "visitorpass/pkg/domain-errors"
	"visitorpass/pkg/platform/httputil"
	"visitorpass/pkg/platform/middleware/admin"
	"visitorpass/pkg/requestcontext"
)

// maxWebhookBytes bounds provider deliveries.
const maxWebhookBytes = 1 << 20

// Service defines the visitor operations the handler drives.
type Service interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.Visitor, error)
	Decide(ctx context.Context, visitorID string, d models.Decision) (*service.DecisionResult, error)
	CredentialView(ctx context.Context, visitorID string) (*service.PassView, error)
	ValidateEntry(ctx context.Context, payload string) (*service.ScanResult, error)
	List(ctx context.Context) (*service.Listing, error)
	VerifyHandshake(ctx context.Context, mode, token, challenge string) (string, error)
	VerifySignature(ctx context.Context, body []byte, header string) error
	EnqueueEvent(ctx context.Context, body []byte) error
}

// People lists hosts for the registration form.
type People interface {
	Active() []directory.Person
}

// Limiter throttles a class of public endpoints.
type Limiter interface {
	RateLimit(class ratelimit.Class) func(http.Handler) http.Handler
}

// Handler handles visitor, gate, webhook and admin endpoints.
type Handler struct {
	service    Service
	people     People
	logger     *slog.Logger
	limiter    Limiter
	adminToken string
	staffToken string
}

type Option func(*Handler)

// WithAdminToken guards /admin routes. Empty leaves them open.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = token
	}
}

// WithStaffToken guards /scan. Empty leaves it open.
func WithStaffToken(token string) Option {
	return func(h *Handler) {
		h.staffToken = token
	}
}

// WithLimiter rate limits registration, scans and webhook deliveries.
func WithLimiter(l Limiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// New creates a visitor Handler.
func New(svc Service, people People, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: svc, people: people, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the visitor routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.With(h.limit(ratelimit.ClassRegister)).Post("/visitors", h.handleRegister)

	r.Get("/approve/{visitorID}", h.handleDecision(models.DecisionAccept))
	r.Post("/approve/{visitorID}", h.handleDecision(models.DecisionAccept))
	r.Get("/reject/{visitorID}", h.handleDecision(models.DecisionDecline))
	r.Post("/reject/{visitorID}", h.handleDecision(models.DecisionDecline))

	r.Get("/pass/{visitorID}", h.handlePass)
	r.With(h.limit(ratelimit.ClassScan), admin.RequireStaffToken(h.staffToken, h.logger)).Post("/scan", h.handleScan)

	r.Get("/webhook", h.handleWebhookVerify)
	r.With(h.limit(ratelimit.ClassWebhook)).Post("/webhook", h.handleWebhookEvent)

	r.Get("/people", h.handlePeople)
	r.With(admin.RequireAdminToken(h.adminToken, h.logger)).Get("/admin/visitors", h.handleListVisitors)
}

func (h *Handler) limit(class ratelimit.Class) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.limiter.RateLimit(class)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	v, err := h.service.Register(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "registration rejected",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, RegisterResponse{
		VisitorID: v.ID,
		Status:    string(v.Status),
		Message:   "Registration received. Your host has been asked to approve the visit.",
	})
}

// handleDecision serves the approve and reject links. GET is accepted because
// the links are opened straight from a chat message.
func (h *Handler) handleDecision(d models.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		visitorID := chi.URLParam(r, "visitorID")
		if requestcontext.Actor(ctx) == "" {
			ctx = requestcontext.WithActor(ctx, "approval_link")
		}

		res, err := h.service.Decide(ctx, visitorID, d)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toDecisionResponse(visitorID, res))
	}
}

func (h *Handler) handlePass(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CredentialView(r.Context(), chi.URLParam(r, "visitorID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPassResponse(view))
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ScanRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	res, err := h.service.ValidateEntry(ctx, req.Payload())
	if err != nil {
		writeScanError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toScanResponse(res))
}

// writeScanError adds the visitor state to gate refusals so staff can see why
// a pass was turned away. Other errors use the standard body.
func writeScanError(w http.ResponseWriter, err error) {
	var (
		denied    *models.EntryDeniedError
		duplicate *models.DuplicateScanError
	)
	code := dErrors.CodeOf(err)
	resp := ScanRefusal{ErrorResponse: httputil.ErrorResponse{Error: string(code), ErrorDescription: dErrors.MessageOf(err)}}
	switch {
	case errors.As(err, &duplicate):
		resp.Status = string(models.StatusApproved)
		resp.ScanTime = formatTime(duplicate.ScannedAt)
	case errors.As(err, &denied):
		resp.Status = string(denied.Status)
	default:
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, httputil.StatusFor(code), resp)
}

func (h *Handler) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := h.service.VerifyHandshake(r.Context(), q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// handleWebhookEvent acknowledges every correctly signed delivery that the
// task runner accepted. A refused delivery gets 503 so the provider retries.
func (h *Handler) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read body"))
		return
	}
	if err := h.service.VerifySignature(ctx, body, r.Header.Get(whatsapp.SignatureHeader)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.EnqueueEvent(ctx, body); err != nil {
		h.logger.ErrorContext(ctx, "webhook delivery not queued",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (h *Handler) handlePeople(w http.ResponseWriter, _ *http.Request) {
	people := []directory.Person{}
	if h.people != nil {
		people = h.people.Active()
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"people": people})
}

func (h *Handler) handleListVisitors(w http.ResponseWriter, r *http.Request) {
	listing, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(listing))
}
