// Package service owns the visitor lifecycle: registration, the approval
// state machine, the credential view and the scan gate.
//
// Every transition runs through Store.Execute so the check and the write
// happen under the store's per-visitor lock. Notifications are dispatched to
// a tasks.Submitter only after the transition is committed; their failure is
// reported but never reverts state.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"visitorpass/internal/audit"
	"visitorpass/internal/platform/tasks"
	"visitorpass/internal/visitor/credential"
	"visitorpass/internal/visitor/metrics"
	"visitorpass/internal/visitor/models"
	"visitorpass/internal/visitor/store"
	dErrors "visitorpass/pkg/domain-errors"
	"visitorpass/pkg/platform/sentinel"
	"visitorpass/pkg/requestcontext"
)

var tracer = otel.Tracer("visitorpass/internal/visitor/service")

// Store persists visitors with per-visitor atomic validate-then-mutate.
type Store interface {
	Create(ctx context.Context, v *models.Visitor) error
	FindByID(ctx context.Context, id string) (*models.Visitor, error)
	ListAll(ctx context.Context) ([]*models.Visitor, error)
	Execute(ctx context.Context, id string, validate store.ValidateFunc, mutate store.MutateFunc) (*models.Visitor, error)
}

// Notifier delivers outbound messages. Each call returns the provider message id.
type Notifier interface {
	SendApprovalRequest(ctx context.Context, v *models.Visitor) (string, error)
	SendCredential(ctx context.Context, v *models.Visitor, passLink string) (string, error)
	SendRejection(ctx context.Context, v *models.Visitor) (string, error)
}

// AuditPublisher records lifecycle events. Emit never blocks on a sink.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// Notification kinds, used as task names and metric labels.
const (
	kindApprovalRequest = "approval_request"
	kindCredential      = "credential"
	kindRejection       = "rejection"
)

type Service struct {
	store    Store
	issuer   *credential.Issuer
	notifier Notifier
	tasks    tasks.Submitter
	audit    AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	verifyToken string
	appSecret   string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithNotifier enables outbound messages. Without one, notifications are
// skipped and logged.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithTasks sets where notifications and webhook processing run. Defaults to
// tasks.Inline.
func WithTasks(t tasks.Submitter) Option {
	return func(s *Service) {
		s.tasks = t
	}
}

// WithWebhook sets the handshake verify token and the app secret used to
// check delivery signatures. An empty secret disables signature checks.
func WithWebhook(verifyToken, appSecret string) Option {
	return func(s *Service) {
		s.verifyToken = verifyToken
		s.appSecret = appSecret
	}
}

func New(st Store, issuer *credential.Issuer, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("visitor store is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("credential issuer is required")
	}
	svc := &Service{
		store:  st,
		issuer: issuer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.tasks == nil {
		svc.tasks = tasks.NewInline()
	}
	return svc, nil
}

// now is the request time truncated to the millisecond, the coarsest
// precision any backend keeps, so a returned timestamp equals the stored one.
func now(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC().Truncate(time.Millisecond)
}

// canonicalID returns id in the lower-case form Register issues. A value that
// is not a UUID cannot name a visitor.
func canonicalID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", dErrors.New(dErrors.CodeNotFound, "visitor not found")
	}
	return parsed.String(), nil
}

// translate maps store errors to coded errors. Coded errors pass through.
func translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "visitor not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "visitor already exists")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "record store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "record store timed out")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit != nil {
		s.audit.Emit(ctx, event)
	}
}

// dispatch submits a notification as a background task. The committed
// transition is never affected by the outcome.
func (s *Service) dispatch(ctx context.Context, kind string, v *models.Visitor, send func(ctx context.Context) (string, error)) {
	if s.notifier == nil {
		s.logger.InfoContext(ctx, "notifier disabled, skipping notification",
			"kind", kind,
			"visitor_id", v.ID,
		)
		s.metrics.IncNotification(kind, "skipped")
		return
	}
	task := tasks.Task{
		Name:      "send_" + kind,
		VisitorID: v.ID,
		Run: func(ctx context.Context) error {
			messageID, err := send(ctx)
			if err != nil {
				s.metrics.IncNotification(kind, "failed")
				return err
			}
			s.metrics.IncNotification(kind, "sent")
			s.logger.InfoContext(ctx, "notification sent",
				"kind", kind,
				"visitor_id", v.ID,
				"message_id", messageID,
			)
			return nil
		},
	}
	if err := s.tasks.Submit(requestcontext.Detach(ctx), task); err != nil {
		s.metrics.IncNotification(kind, "dropped")
		s.logger.ErrorContext(ctx, "notification not queued",
			"kind", kind,
			"visitor_id", v.ID,
			"error", err,
		)
	}
}

// WatchFailures drains a task failure channel into logs and the audit trail
// until the channel closes or ctx ends.
func (s *Service) WatchFailures(ctx context.Context, failures <-chan tasks.Failure) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-failures:
			if !ok {
				return
			}
			s.logger.ErrorContext(ctx, "background task failed",
				"task", f.Task,
				"visitor_id", f.VisitorID,
				"error", f.Err,
			)
			s.emit(ctx, audit.Event{
				Action:    audit.ActionNotificationFailed,
				VisitorID: f.VisitorID,
				Reason:    fmt.Sprintf("%s: %v", f.Task, f.Err),
				Timestamp: f.At,
			})
		}
	}
}
