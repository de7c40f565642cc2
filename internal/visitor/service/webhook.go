package service

import (
	"context"

	"visitorpass/internal/audit"
	"visitorpass/internal/platform/tasks"
	"visitorpass/internal/whatsapp"
	dErrors "visitorpass/pkg/domain-errors"
	"visitorpass/pkg/requestcontext"
)

// VerifyHandshake answers the provider's subscription challenge.
func (s *Service) VerifyHandshake(ctx context.Context, mode, token, challenge string) (string, error) {
	out, err := whatsapp.VerifyHandshake(mode, token, challenge, s.verifyToken)
	if err != nil {
		s.logger.WarnContext(ctx, "webhook verification failed", "mode", mode)
		return "", err
	}
	s.logger.InfoContext(ctx, "webhook verified")
	return out, nil
}

// VerifySignature checks the delivery signature header against the raw body.
func (s *Service) VerifySignature(ctx context.Context, body []byte, header string) error {
	if whatsapp.VerifySignature(body, header, s.appSecret) {
		return nil
	}
	s.logger.WarnContext(ctx, "webhook signature mismatch")
	s.emit(ctx, audit.Event{Action: audit.ActionWebhookRejected, Reason: "signature mismatch"})
	return dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature")
}

// EventResult reports what a webhook delivery caused.
type EventResult struct {
	Processed int
	Ignored   int
	Failed    int
}

// HandleEvent turns every decision reply in a delivery into a Decide call.
// Replays are harmless: Decide reports them as already processed. Unknown
// visitors and non-decision messages are ignored.
func (s *Service) HandleEvent(ctx context.Context, body []byte) (*EventResult, error) {
	payload, err := whatsapp.ParsePayload(body)
	if err != nil {
		return nil, err
	}
	res := &EventResult{}
	replies := payload.Replies()
	if len(replies) == 0 {
		res.Ignored++
		s.logger.DebugContext(ctx, "webhook delivery ignored", "object", payload.Object)
		return res, nil
	}
	for _, r := range replies {
		rctx := requestcontext.WithActor(ctx, "whatsapp:"+whatsapp.Digits(r.From))
		out, err := s.Decide(rctx, r.VisitorID, r.Decision)
		switch {
		case dErrors.HasCode(err, dErrors.CodeNotFound):
			res.Ignored++
			s.logger.WarnContext(ctx, "webhook reply for unknown visitor",
				"visitor_id", r.VisitorID,
				"message_id", r.MessageID,
			)
		case err != nil:
			res.Failed++
		default:
			res.Processed++
			s.logger.InfoContext(ctx, "webhook decision handled",
				"visitor_id", r.VisitorID,
				"message_id", r.MessageID,
				"outcome", out.Outcome,
				"status", out.Status,
			)
		}
	}
	return res, nil
}

// EnqueueEvent schedules HandleEvent in the background so the provider gets
// its acknowledgement immediately.
// When the runner refuses the delivery it returns store_unavailable so the
// provider redelivers; a redelivered decision is a no-op once applied.
func (s *Service) EnqueueEvent(ctx context.Context, body []byte) error {
	raw := append([]byte(nil), body...)
	err := s.tasks.Submit(requestcontext.Detach(ctx), tasks.Task{
		Name: "handle_webhook_event",
		Run: func(ctx context.Context) error {
			res, err := s.HandleEvent(ctx, raw)
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return dErrors.Newf(dErrors.CodeInternal, "%d webhook decisions failed", res.Failed)
			}
			return nil
		},
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "webhook processing is saturated, retry later")
	}
	return nil
}
