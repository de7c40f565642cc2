// Package whatsapp talks to the WhatsApp Cloud API: outbound messages to
// approvers and visitors, and parsing of inbound webhook deliveries.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"visitorpass/internal/platform/config"
	dErrors "visitorpass/pkg/domain-errors"
	"visitorpass/pkg/platform/circuit"
)

// maxResponseBytes bounds how much of a provider response is read.
const maxResponseBytes = 64 << 10

// DeliveryError is the provider's structured refusal.
type DeliveryError struct {
	Status  int
	Code    int
	Type    string
	Message string
	TraceID string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("whatsapp: %s (code %d, type %s, status %d, trace %s)", e.Message, e.Code, e.Type, e.Status, e.TraceID)
}

func (e *DeliveryError) Unwrap() error {
	return dErrors.New(dErrors.CodeDeliveryFailed, "message delivery failed")
}

// Client sends messages from one business phone number.
type Client struct {
	httpClient *http.Client
	endpoint   string
	token      string
	logger     *slog.Logger
	breaker    *circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client built from the configured timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) { cl.logger = logger }
}

// WithBreaker fails sends fast while the Cloud API keeps erroring. Only
// transport errors, 429 and 5xx count as failures.
func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

// NewClient builds a client for {APIBaseURL}/{APIVersion}/{PhoneNumberID}/messages.
func NewClient(cfg config.WhatsAppConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint: fmt.Sprintf("%s/%s/%s/messages",
			strings.TrimRight(cfg.APIBaseURL, "/"), cfg.APIVersion, cfg.PhoneNumberID),
		token:  cfg.AccessToken,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      int    `json:"code"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// send posts msg and returns the provider message id.
func (c *Client) send(ctx context.Context, msg *Message) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("whatsapp: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	if c.breaker != nil && !c.breaker.Allow() {
		return "", dErrors.New(dErrors.CodeDeliveryFailed, "whatsapp circuit open")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(ctx, false)
		return "", dErrors.Wrap(err, dErrors.CodeDeliveryFailed, "message delivery failed")
	}
	defer resp.Body.Close()
	c.observe(ctx, resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeDeliveryFailed, "read provider response")
	}
	var parsed sendResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode/100 != 2 || parsed.Error != nil {
		derr := &DeliveryError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if parsed.Error != nil {
			derr.Code = parsed.Error.Code
			derr.Type = parsed.Error.Type
			derr.Message = parsed.Error.Message
			derr.TraceID = parsed.Error.FBTraceID
		}
		c.logger.ErrorContext(ctx, "whatsapp send failed",
			"to", msg.To,
			"type", msg.Type,
			"status", derr.Status,
			"code", derr.Code,
			"error_type", derr.Type,
			"trace_id", derr.TraceID,
		)
		return "", derr
	}

	var id string
	if len(parsed.Messages) > 0 {
		id = parsed.Messages[0].ID
	}
	c.logger.InfoContext(ctx, "whatsapp message sent", "to", msg.To, "type", msg.Type, "message_id", id)
	return id, nil
}

func (c *Client) observe(ctx context.Context, ok bool) {
	if c.breaker == nil {
		return
	}
	if ok {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "whatsapp circuit closed")
		}
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "whatsapp circuit opened, sends fail fast")
	}
}

// Digits strips everything but ASCII digits. The Cloud API addresses
// recipients by bare international number.
func Digits(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
