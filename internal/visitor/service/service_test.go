package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Notifier,AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"visitorpass/internal/audit"
	"visitorpass/internal/platform/tasks"
	"visitorpass/internal/visitor/credential"
	"visitorpass/internal/visitor/models"
	"visitorpass/internal/visitor/service/mocks"
	dErrors "visitorpass/pkg/domain-errors"
	"visitorpass/pkg/platform/sentinel"
	"visitorpass/pkg/requestcontext"
	"visitorpass/pkg/testutil"
)

// =============================================================================
// Service Test Suite (mocked store)
// =============================================================================
// Error propagation and constructor invariants. Lifecycle behaviour against a
// real store lives in lifecycle_test.go.

type ServiceSuite struct {
	suite.Suite
	ctrl         *gomock.Controller
	mockStore    *mocks.MockStore
	mockNotifier *mocks.MockNotifier
	mockAudit    *mocks.MockAuditPublisher
	runner       *tasks.Inline
	issuer       *credential.Issuer
	service      *Service
	ctx          context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func newTestIssuer(t *testing.T) *credential.Issuer {
	t.Helper()
	issuer, err := credential.NewIssuer("https://gate.example.com", []byte("test-signing-key"), 1)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	return issuer
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	s.mockNotifier = mocks.NewMockNotifier(s.ctrl)
	s.mockAudit = mocks.NewMockAuditPublisher(s.ctrl)
	s.runner = tasks.NewInline()
	s.issuer = newTestIssuer(s.T())
	s.ctx = requestcontext.WithTime(context.Background(), testutil.FixedTime)

	var err error
	s.service, err = New(s.mockStore, s.issuer,
		WithLogger(discardLogger()),
		WithNotifier(s.mockNotifier),
		WithAuditPublisher(s.mockAudit),
		WithTasks(s.runner),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) TestNew() {
	s.Run("store is required", func() {
		_, err := New(nil, s.issuer)
		s.Error(err)
	})
	s.Run("issuer is required", func() {
		_, err := New(s.mockStore, nil)
		s.Error(err)
	})
}

func (s *ServiceSuite) TestDecide_InputValidation() {
	s.Run("empty visitor id", func() {
		_, err := s.service.Decide(s.ctx, "", models.DecisionAccept)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
	s.Run("unknown decision", func() {
		_, err := s.service.Decide(s.ctx, uuid.NewString(), models.Decision("MAYBE"))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *ServiceSuite) TestDecide_StoreErrors() {
	id := uuid.NewString()

	s.Run("missing visitor is not found", func() {
		s.mockStore.EXPECT().Execute(gomock.Any(), id, gomock.Any(), gomock.Any()).
			Return(nil, sentinel.ErrNotFound)

		_, err := s.service.Decide(s.ctx, id, models.DecisionAccept)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unavailable store is surfaced as 503", func() {
		s.mockStore.EXPECT().Execute(gomock.Any(), id, gomock.Any(), gomock.Any()).
			Return(nil, errors.Join(errors.New("sheets 503"), sentinel.ErrUnavailable))

		_, err := s.service.Decide(s.ctx, id, models.DecisionDecline)
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})

	s.Run("unexpected error is internal", func() {
		s.mockStore.EXPECT().Execute(gomock.Any(), id, gomock.Any(), gomock.Any()).
			Return(nil, errors.New("disk on fire"))

		_, err := s.service.Decide(s.ctx, id, models.DecisionAccept)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestDecide_NotificationFailureDoesNotRevert() {
	id := uuid.NewString()
	approved := &models.Visitor{
		ID:         id,
		Name:       "Ada Visitor",
		Mobile:     "+44 7700 900123",
		Status:     models.StatusApproved,
		PassLink:   s.issuer.PassLink(id),
		ScanStatus: models.ScanNotScanned,
	}
	s.mockStore.EXPECT().Execute(gomock.Any(), id, gomock.Any(), gomock.Any()).Return(approved, nil)
	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).AnyTimes()
	s.mockNotifier.EXPECT().SendCredential(gomock.Any(), approved, approved.PassLink).
		Return("", dErrors.New(dErrors.CodeDeliveryFailed, "message delivery failed"))

	res, err := s.service.Decide(s.ctx, id, models.DecisionAccept)
	s.Require().NoError(err)
	s.Equal(OutcomeApplied, res.Outcome)
	s.Equal(models.StatusApproved, res.Status)

	failures := s.runner.Failures()
	s.Require().Len(failures, 1)
	s.Equal("send_credential", failures[0].Task)
	s.Equal(id, failures[0].VisitorID)
}

func (s *ServiceSuite) TestDecide_AuditsAppliedTransition() {
	id := uuid.NewString()
	rejected := &models.Visitor{ID: id, Name: "Ada", Status: models.StatusRejected, ScanStatus: models.ScanNotScanned}
	s.mockStore.EXPECT().Execute(gomock.Any(), id, gomock.Any(), gomock.Any()).Return(rejected, nil)
	s.mockNotifier.EXPECT().SendRejection(gomock.Any(), rejected).Return("wamid.1", nil)
	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e audit.Event) {
		s.Equal(audit.ActionVisitRejected, e.Action)
		s.Equal(id, e.VisitorID)
		s.Equal("PENDING", e.PriorStatus)
		s.Equal("REJECTED", e.Status)
	})

	_, err := s.service.Decide(s.ctx, id, models.DecisionDecline)
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestValidateEntry_Errors() {
	s.Run("malformed payload never reaches the store", func() {
		_, err := s.service.ValidateEntry(s.ctx, "not a credential")
		s.True(dErrors.HasCode(err, dErrors.CodeMalformedCredential))
	})

	s.Run("store timeout", func() {
		id := uuid.NewString()
		s.mockStore.EXPECT().Execute(gomock.Any(), id, gomock.Any(), gomock.Any()).
			Return(nil, context.DeadlineExceeded)

		_, err := s.service.ValidateEntry(s.ctx, id)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})
}

func (s *ServiceSuite) TestRegister_ValidationStopsBeforeStore() {
	_, err := s.service.Register(s.ctx, &models.RegisterRequest{Name: "Ada"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestRegister_DuplicateID() {
	s.mockStore.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)

	_, err := s.service.Register(s.ctx, validRegistration())
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestList_StoreFailure() {
	s.mockStore.EXPECT().ListAll(gomock.Any()).Return(nil, sentinel.ErrUnavailable)
	_, err := s.service.List(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestWatchFailuresAudits() {
	failures := make(chan tasks.Failure, 1)
	failures <- tasks.Failure{Task: "send_credential", VisitorID: "v-1", Err: errors.New("timeout"), At: testutil.FixedTime}
	close(failures)

	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).Do(func(_ context.Context, e audit.Event) {
		s.Equal(audit.ActionNotificationFailed, e.Action)
		s.Equal("v-1", e.VisitorID)
		s.Contains(e.Reason, "send_credential")
	})

	s.service.WatchFailures(context.Background(), failures)
}

func validRegistration() *models.RegisterRequest {
	return &models.RegisterRequest{
		Name:           "Ada Visitor",
		Mobile:         "+44 7700 900123",
		Email:          "ada@example.com",
		Purpose:        "Interview",
		PersonToMeet:   "Dana Host",
		ApproverMobile: "+44 7700 900456",
		VisitDate:      "2026-03-14",
		VisitTime:      "10:00",
	}
}
