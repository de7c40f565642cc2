package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"visitorpass/internal/audit"
	"visitorpass/internal/platform/tasks"
	"visitorpass/internal/visitor/credential"
	"visitorpass/internal/visitor/models"
	"visitorpass/internal/visitor/service/mocks"
	"visitorpass/internal/visitor/store"
	"visitorpass/internal/whatsapp"
	dErrors "visitorpass/pkg/domain-errors"
	"visitorpass/pkg/requestcontext"
	"visitorpass/pkg/testutil"
)

// =============================================================================
// Lifecycle Test Suite
// =============================================================================
// Drives the full register -> decide -> scan lifecycle against the in-memory
// store. Only the outbound notifier is mocked, so every state assertion reads
// back what the store actually holds.

type LifecycleSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	notifier *mocks.MockNotifier
	store    *store.InMemoryStore
	sink     *audit.MemorySink
	runner   *tasks.Inline
	issuer   *credential.Issuer
	service  *Service
	ctx      context.Context
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

const (
	verifyToken = "verify-me"
	appSecret   = "app-secret"
)

func (s *LifecycleSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.store = store.NewInMemory()
	s.sink = audit.NewMemorySink()
	s.runner = tasks.NewInline()
	s.issuer = newTestIssuer(s.T())
	s.ctx = requestcontext.WithTime(context.Background(), testutil.FixedTime)

	var err error
	s.service, err = New(s.store, s.issuer,
		WithLogger(discardLogger()),
		WithNotifier(s.notifier),
		WithAuditPublisher(audit.NewDirect(s.sink, discardLogger())),
		WithTasks(s.runner),
		WithWebhook(verifyToken, appSecret),
	)
	s.Require().NoError(err)
}

func (s *LifecycleSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *LifecycleSuite) register(name, date, clock string) *models.Visitor {
	req := validRegistration()
	req.Name = name
	req.VisitDate = date
	req.VisitTime = clock
	s.notifier.EXPECT().SendApprovalRequest(gomock.Any(), gomock.Any()).Return("wamid.approval", nil)

	v, err := s.service.Register(s.ctx, req)
	s.Require().NoError(err)
	return v
}

func (s *LifecycleSuite) stored(id string) *models.Visitor {
	v, err := s.store.FindByID(context.Background(), id)
	s.Require().NoError(err)
	return v
}

func (s *LifecycleSuite) actions(visitorID string) []audit.Action {
	var out []audit.Action
	for _, e := range s.sink.ListByVisitor(visitorID) {
		out = append(out, e.Action)
	}
	return out
}

func (s *LifecycleSuite) TestRegister() {
	v := s.register("Ada Visitor", "2026-03-14", "10:00")

	s.NotEmpty(v.ID)
	s.Equal(models.StatusPending, v.Status)
	s.Equal(models.ScanNotScanned, v.ScanStatus)
	s.Empty(v.PassLink)
	s.True(v.ApprovalTime.IsZero())
	s.Equal(testutil.FixedTime, v.CreatedAt)

	s.Equal(v, s.stored(v.ID))
	s.Equal([]string{"send_approval_request"}, s.runner.Ran())
	s.Equal([]audit.Action{audit.ActionVisitorRegistered}, s.actions(v.ID))
}

// Scenarios A through E from the gate walkthrough, in order.
func (s *LifecycleSuite) TestApprovalAndEntryWalkthrough() {
	v := s.register("Ada Visitor", "2026-03-14", "10:00")
	passLink := s.issuer.PassLink(v.ID)

	s.Run("A: accept approves and sends the pass", func() {
		s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), passLink).
			DoAndReturn(func(_ context.Context, got *models.Visitor, _ string) (string, error) {
				s.Equal(models.StatusApproved, got.Status)
				return "wamid.pass", nil
			})

		res, err := s.service.Decide(s.ctx, v.ID, models.DecisionAccept)
		s.Require().NoError(err)
		s.Equal(OutcomeApplied, res.Outcome)
		s.Equal(models.StatusApproved, res.Status)
		s.Equal("Ada Visitor has been approved. The entry pass has been sent.", res.Message)

		got := s.stored(v.ID)
		s.Equal(models.StatusApproved, got.Status)
		s.Equal(passLink, got.PassLink)
		s.Equal(testutil.FixedTime, got.ApprovalTime)
	})

	s.Run("B: accepting again is already processed and sends nothing", func() {
		before := s.stored(v.ID)

		res, err := s.service.Decide(s.ctx, v.ID, models.DecisionAccept)
		s.Require().NoError(err)
		s.Equal(OutcomeAlreadyProcessed, res.Outcome)
		s.Equal(models.StatusApproved, res.Status)
		s.Equal("Ada Visitor was already approved.", res.Message)
		s.Equal(before, s.stored(v.ID))
	})

	scanned := testutil.FixedTime.Add(30 * time.Minute)

	s.Run("C: first scan admits", func() {
		token, err := s.issuer.Token(v.ID)
		s.Require().NoError(err)

		res, err := s.service.ValidateEntry(requestcontext.WithTime(s.ctx, scanned), token)
		s.Require().NoError(err)
		s.Equal(scanned, res.ScanTime)
		s.Equal(models.ScanScanned, res.Visitor.ScanStatus)

		got := s.stored(v.ID)
		s.Equal(models.ScanScanned, got.ScanStatus)
		s.Equal(scanned, got.ScanTime)
	})

	s.Run("D: second scan is a duplicate carrying the first scan time", func() {
		later := requestcontext.WithTime(s.ctx, scanned.Add(time.Hour))
		_, err := s.service.ValidateEntry(later, s.issuer.ScanURL(v.ID))

		var dup *models.DuplicateScanError
		s.Require().ErrorAs(err, &dup)
		s.Equal(scanned, dup.ScannedAt)
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicateScan))
		s.Equal(scanned, s.stored(v.ID).ScanTime)
	})

	s.Run("E: a declined visitor is denied at the gate", func() {
		w := s.register("Walt Visitor", "2026-03-14", "11:00")
		s.notifier.EXPECT().SendRejection(gomock.Any(), gomock.Any()).Return("wamid.reject", nil)

		res, err := s.service.Decide(s.ctx, w.ID, models.DecisionDecline)
		s.Require().NoError(err)
		s.Equal(models.StatusRejected, res.Status)
		s.Empty(s.stored(w.ID).PassLink)

		_, err = s.service.ValidateEntry(s.ctx, s.issuer.ScanURL(w.ID))
		var denied *models.EntryDeniedError
		s.Require().ErrorAs(err, &denied)
		s.Equal(models.StatusRejected, denied.Status)
		s.Equal(models.ScanNotScanned, s.stored(w.ID).ScanStatus)
	})

	s.Equal([]audit.Action{
		audit.ActionVisitorRegistered,
		audit.ActionVisitApproved,
		audit.ActionDecisionReplayed,
		audit.ActionEntryAdmitted,
		audit.ActionDuplicateScan,
	}, s.actions(v.ID))
}

func (s *LifecycleSuite) TestDecideIsIdempotentForEveryDecision() {
	for _, first := range []models.Decision{models.DecisionAccept, models.DecisionDecline} {
		for _, again := range []models.Decision{models.DecisionAccept, models.DecisionDecline} {
			s.Run(fmt.Sprintf("%s then %s", first, again), func() {
				v := s.register("Ada", "2026-03-14", "10:00")
				s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), gomock.Any()).Return("m", nil).MaxTimes(1)
				s.notifier.EXPECT().SendRejection(gomock.Any(), gomock.Any()).Return("m", nil).MaxTimes(1)

				_, err := s.service.Decide(s.ctx, v.ID, first)
				s.Require().NoError(err)
				decided := s.stored(v.ID)

				later := requestcontext.WithTime(s.ctx, testutil.FixedTime.Add(time.Hour))
				res, err := s.service.Decide(later, v.ID, again)
				s.Require().NoError(err)
				s.Equal(OutcomeAlreadyProcessed, res.Outcome)
				s.Equal(first.TargetStatus(), res.Status)
				s.Equal(decided, s.stored(v.ID))
			})
		}
	}
}

func (s *LifecycleSuite) TestUnknownVisitorIsNotFound() {
	id := uuid.NewString()

	_, err := s.service.Decide(s.ctx, id, models.DecisionAccept)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.ValidateEntry(s.ctx, id)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.CredentialView(s.ctx, id)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	s.Empty(s.sink.ListByVisitor(id))
}

func (s *LifecycleSuite) TestVisitorIDsAreCaseInsensitive() {
	v := s.register("Una", "2026-03-14", "10:00")
	upper := strings.ToUpper(v.ID)

	s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), gomock.Any()).Return("m", nil)
	res, err := s.service.Decide(s.ctx, upper, models.DecisionAccept)
	s.Require().NoError(err)
	s.Equal(OutcomeApplied, res.Outcome)
	s.Equal(v.ID, res.Visitor.ID)

	view, err := s.service.CredentialView(s.ctx, upper)
	s.Require().NoError(err)
	s.Equal(v.ID, view.Visitor.ID)

	s.Run("non uuid ids name no visitor", func() {
		_, err := s.service.Decide(s.ctx, "not-a-visitor", models.DecisionAccept)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		_, err = s.service.CredentialView(s.ctx, "../etc/passwd")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *LifecycleSuite) TestPendingAndRejectedAreDeniedNeverDuplicate() {
	pending := s.register("Pat", "2026-03-14", "10:00")
	rejected := s.register("Rex", "2026-03-14", "10:30")
	s.notifier.EXPECT().SendRejection(gomock.Any(), gomock.Any()).Return("m", nil)
	_, err := s.service.Decide(s.ctx, rejected.ID, models.DecisionDecline)
	s.Require().NoError(err)

	for _, tc := range []struct {
		name   string
		id     string
		status models.Status
	}{
		{"pending", pending.ID, models.StatusPending},
		{"rejected", rejected.ID, models.StatusRejected},
	} {
		s.Run(tc.name, func() {
			for range 3 {
				_, err := s.service.ValidateEntry(s.ctx, tc.id)
				s.True(dErrors.HasCode(err, dErrors.CodeEntryDenied), "got %v", err)
				s.False(dErrors.HasCode(err, dErrors.CodeDuplicateScan))
			}
			s.Equal(models.ScanNotScanned, s.stored(tc.id).ScanStatus)
			s.Equal(tc.status, s.stored(tc.id).Status)
		})
	}
}

func (s *LifecycleSuite) TestEveryCredentialShapeAdmits() {
	shapes := map[string]func(id string) string{
		"token": func(id string) string {
			token, err := s.issuer.Token(id)
			s.Require().NoError(err)
			return token
		},
		"scan url":  s.issuer.ScanURL,
		"pass link": s.issuer.PassLink,
		"json":      func(id string) string { return `{"visitor_id":"` + id + `"}` },
		"bare id":   func(id string) string { return id },
	}
	for name, shape := range shapes {
		s.Run(name, func() {
			v := s.register("Ada", "2026-03-14", "10:00")
			s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), gomock.Any()).Return("m", nil)
			_, err := s.service.Decide(s.ctx, v.ID, models.DecisionAccept)
			s.Require().NoError(err)

			res, err := s.service.ValidateEntry(s.ctx, shape(v.ID))
			s.Require().NoError(err)
			s.Equal(v.ID, res.Visitor.ID)
		})
	}
}

func (s *LifecycleSuite) TestMalformedCredentialIsRejected() {
	forged, err := credential.NewIssuer("https://gate.example.com", []byte("another-key"), 1)
	s.Require().NoError(err)
	token, err := forged.Token(uuid.NewString())
	s.Require().NoError(err)

	for _, payload := range []string{"", "   ", "hello", `{"visitor_id":"nope"}`, "https://gate.example.com/elsewhere", token} {
		_, err := s.service.ValidateEntry(s.ctx, payload)
		s.True(dErrors.HasCode(err, dErrors.CodeMalformedCredential), "payload %q: %v", payload, err)
	}
}

func (s *LifecycleSuite) TestConcurrentDecisionsCommitOnce() {
	v := s.register("Ada", "2026-03-14", "10:00")

	var sent atomic.Int32
	s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *models.Visitor, string) (string, error) {
			sent.Add(1)
			return "m", nil
		}).MaxTimes(1)
	s.notifier.EXPECT().SendRejection(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *models.Visitor) (string, error) {
			sent.Add(1)
			return "m", nil
		}).MaxTimes(1)

	const callers = 8
	var (
		wg      sync.WaitGroup
		applied atomic.Int32
		mu      sync.Mutex
		winner  models.Status
	)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := models.DecisionAccept
			if i%2 == 1 {
				d = models.DecisionDecline
			}
			res, err := s.service.Decide(s.ctx, v.ID, d)
			if err != nil {
				return
			}
			if res.Outcome == OutcomeApplied {
				applied.Add(1)
				mu.Lock()
				winner = res.Status
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), applied.Load())
	s.Equal(int32(1), sent.Load())
	s.Equal(winner, s.stored(v.ID).Status)
}

func (s *LifecycleSuite) TestConcurrentScansAdmitOnce() {
	v := s.register("Ada", "2026-03-14", "10:00")
	s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), gomock.Any()).Return("m", nil)
	_, err := s.service.Decide(s.ctx, v.ID, models.DecisionAccept)
	s.Require().NoError(err)

	const gates = 8
	var (
		wg         sync.WaitGroup
		admitted   atomic.Int32
		duplicates atomic.Int32
	)
	for range gates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.ValidateEntry(s.ctx, s.issuer.ScanURL(v.ID))
			var dup *models.DuplicateScanError
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.As(err, &dup):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), admitted.Load())
	s.Equal(int32(gates-1), duplicates.Load())
}

func (s *LifecycleSuite) TestCredentialView() {
	v := s.register("Ada", "2026-03-14", "10:00")

	s.Run("pending visitor has no pass yet", func() {
		_, err := s.service.CredentialView(s.ctx, v.ID)
		var notYet *models.NotYetApprovedError
		s.Require().ErrorAs(err, &notYet)
		s.Equal(models.StatusPending, notYet.Status)
	})

	s.Run("approved visitor gets a decodable pass", func() {
		s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), gomock.Any()).Return("m", nil)
		_, err := s.service.Decide(s.ctx, v.ID, models.DecisionAccept)
		s.Require().NoError(err)

		view, err := s.service.CredentialView(s.ctx, v.ID)
		s.Require().NoError(err)
		s.Equal(v.ID, view.Credential.VisitorID)
		s.Equal(s.stored(v.ID).PassLink, view.Credential.PassLink)

		decoded, err := s.issuer.Decode(view.Credential.Token)
		s.Require().NoError(err)
		s.Equal(v.ID, decoded)
	})
}

func (s *LifecycleSuite) TestListOrdersByVisitAndCounts() {
	early := s.register("Early", "2026-03-14", "09:00")
	late := s.register("Late", "2026-03-15", "08:00")
	mid := s.register("Mid", "2026-03-14", "17:30")

	s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), gomock.Any()).Return("m", nil)
	s.notifier.EXPECT().SendRejection(gomock.Any(), gomock.Any()).Return("m", nil)
	_, err := s.service.Decide(s.ctx, mid.ID, models.DecisionAccept)
	s.Require().NoError(err)
	_, err = s.service.Decide(s.ctx, early.ID, models.DecisionDecline)
	s.Require().NoError(err)
	_, err = s.service.ValidateEntry(s.ctx, mid.ID)
	s.Require().NoError(err)

	listing, err := s.service.List(s.ctx)
	s.Require().NoError(err)

	var order []string
	for _, v := range listing.Visitors {
		order = append(order, v.ID)
	}
	s.Equal([]string{late.ID, mid.ID, early.ID}, order)
	s.Equal(Counts{Total: 3, Pending: 1, Approved: 1, Rejected: 1, Scanned: 1}, listing.Counts)
}

func (s *LifecycleSuite) TestNotificationFailureKeepsTransition() {
	v := s.register("Ada", "2026-03-14", "10:00")
	s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", &whatsapp.DeliveryError{Status: 401, Code: 190, Message: "token expired"})

	res, err := s.service.Decide(s.ctx, v.ID, models.DecisionAccept)
	s.Require().NoError(err)
	s.Equal(OutcomeApplied, res.Outcome)
	s.Equal(models.StatusApproved, s.stored(v.ID).Status)

	failures := s.runner.Failures()
	s.Require().Len(failures, 1)
	s.Equal(v.ID, failures[0].VisitorID)
	s.True(dErrors.HasCode(failures[0].Err, dErrors.CodeDeliveryFailed))

	ch := make(chan tasks.Failure, len(failures))
	for _, f := range failures {
		ch <- f
	}
	close(ch)
	s.service.WatchFailures(s.ctx, ch)
	s.Contains(s.actions(v.ID), audit.ActionNotificationFailed)
}

func (s *LifecycleSuite) TestRegisterWithoutNotifier() {
	svc, err := New(s.store, s.issuer, WithLogger(discardLogger()))
	s.Require().NoError(err)

	v, err := svc.Register(s.ctx, validRegistration())
	s.Require().NoError(err)
	s.Equal(models.StatusPending, s.stored(v.ID).Status)
}

// -----------------------------------------------------------------------------
// Webhook
// -----------------------------------------------------------------------------

func delivery(replies ...string) []byte {
	messages := ""
	for i, id := range replies {
		if i > 0 {
			messages += ","
		}
		messages += fmt.Sprintf(`{"id":"m%d","from":"+44 7700 900456","type":"interactive",`+
			`"interactive":{"type":"button_reply","button_reply":{"id":%q,"title":"x"}}}`, i, id)
	}
	return []byte(`{"object":"whatsapp_business_account","entry":[{"id":"WABA","changes":[{"field":"messages",` +
		`"value":{"messaging_product":"whatsapp","messages":[` + messages + `]}}]}]}`)
}

func (s *LifecycleSuite) TestHandleEvent() {
	v := s.register("Ada", "2026-03-14", "10:00")

	s.Run("accept reply approves once across duplicate deliveries", func() {
		s.notifier.EXPECT().SendCredential(gomock.Any(), gomock.Any(), gomock.Any()).Return("m", nil).Times(1)
		body := delivery(whatsapp.AcceptPrefix + v.ID)

		for range 2 {
			res, err := s.service.HandleEvent(s.ctx, body)
			s.Require().NoError(err)
			s.Equal(&EventResult{Processed: 1}, res)
		}
		s.Equal(models.StatusApproved, s.stored(v.ID).Status)

		events := s.sink.ListByVisitor(v.ID)
		s.Require().NotEmpty(events)
		s.Equal("whatsapp:447700900456", events[1].Actor)
	})

	s.Run("unknown visitor and stray messages are ignored", func() {
		res, err := s.service.HandleEvent(s.ctx, delivery(whatsapp.DeclinePrefix+uuid.NewString()))
		s.Require().NoError(err)
		s.Equal(&EventResult{Ignored: 1}, res)

		res, err = s.service.HandleEvent(s.ctx, []byte(`{"object":"whatsapp_business_account","entry":[]}`))
		s.Require().NoError(err)
		s.Equal(&EventResult{Ignored: 1}, res)
	})

	s.Run("garbage body is a bad request", func() {
		_, err := s.service.HandleEvent(s.ctx, []byte("not json"))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *LifecycleSuite) TestEnqueueEvent() {
	v := s.register("Ada", "2026-03-14", "10:00")
	s.notifier.EXPECT().SendRejection(gomock.Any(), gomock.Any()).Return("m", nil)

	s.Require().NoError(s.service.EnqueueEvent(s.ctx, delivery(whatsapp.DeclinePrefix+v.ID)))
	s.Equal(models.StatusRejected, s.stored(v.ID).Status)
	s.Contains(s.runner.Ran(), "handle_webhook_event")
	s.Empty(s.runner.Failures())
}

func (s *LifecycleSuite) TestWebhookVerification() {
	body := delivery(whatsapp.AcceptPrefix + uuid.NewString())

	s.NoError(s.service.VerifySignature(s.ctx, body, whatsapp.Sign(body, appSecret)))

	err := s.service.VerifySignature(s.ctx, body, whatsapp.Sign(body, "wrong"))
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Equal(audit.ActionWebhookRejected, s.sink.All()[0].Action)

	challenge, err := s.service.VerifyHandshake(s.ctx, "subscribe", verifyToken, "12345")
	s.Require().NoError(err)
	s.Equal("12345", challenge)

	_, err = s.service.VerifyHandshake(s.ctx, "subscribe", "guess", "12345")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}
