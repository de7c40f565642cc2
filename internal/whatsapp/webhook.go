package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"

	"visitorpass/internal/visitor/models"
	dErrors "visitorpass/pkg/domain-errors"
)

// BusinessAccountObject is the only webhook object type acted upon.
const BusinessAccountObject = "whatsapp_business_account"

// SignatureHeader carries the HMAC-SHA256 of the raw body keyed by the app secret.
const SignatureHeader = "X-Hub-Signature-256"

// Payload is the subset of a webhook delivery that carries replies.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Messages         []InboundMessage  `json:"messages"`
	Statuses         []json.RawMessage `json:"statuses"`
}

type InboundMessage struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Interactive *InboundInteractive `json:"interactive,omitempty"`
	Button      *InboundButton      `json:"button,omitempty"`
}

type InboundInteractive struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply,omitempty"`
}

// InboundButton is a quick-reply button from a template message.
type InboundButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// Reply is one decision extracted from a delivery.
type Reply struct {
	MessageID string
	From      string
	ButtonID  string
	VisitorID string
	Decision  models.Decision
}

// ParsePayload decodes a webhook body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid webhook payload")
	}
	return &p, nil
}

// Replies walks every entry, change and message and returns the decision
// replies. Anything that is not a recognised button reply is skipped.
func (p *Payload) Replies() []Reply {
	if p.Object != BusinessAccountObject {
		return nil
	}
	var out []Reply
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			for _, m := range ch.Value.Messages {
				id := buttonID(m)
				if id == "" {
					continue
				}
				d, visitorID, ok := ParseButtonID(id)
				if !ok {
					continue
				}
				out = append(out, Reply{
					MessageID: m.ID,
					From:      m.From,
					ButtonID:  id,
					VisitorID: visitorID,
					Decision:  d,
				})
			}
		}
	}
	return out
}

func buttonID(m InboundMessage) string {
	switch m.Type {
	case "interactive":
		if m.Interactive != nil && m.Interactive.ButtonReply != nil {
			return m.Interactive.ButtonReply.ID
		}
	case "button":
		if m.Button != nil {
			return m.Button.Payload
		}
	}
	return ""
}

// ParseButtonID splits "<DECISION>_<visitor id>". ACCEPT/DECLINE and the
// older APPROVE/REJECT prefixes are recognised.
func ParseButtonID(id string) (models.Decision, string, bool) {
	prefix, visitorID, found := strings.Cut(strings.TrimSpace(id), "_")
	if !found || visitorID == "" {
		return "", "", false
	}
	d, err := models.ParseDecision(prefix)
	if err != nil {
		return "", "", false
	}
	return d, visitorID, true
}

// VerifySignature checks header ("sha256=<hex>") against body. An empty
// secret disables the check.
func VerifySignature(body []byte, header, appSecret string) bool {
	if appSecret == "" {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the header value VerifySignature accepts.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHandshake answers the subscription challenge.
func VerifyHandshake(mode, token, challenge, verifyToken string) (string, error) {
	if mode != "subscribe" || verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", dErrors.New(dErrors.CodeForbidden, "webhook verification failed")
	}
	return challenge, nil
}
