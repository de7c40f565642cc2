package whatsapp

import (
	"context"
	"fmt"

	"visitorpass/internal/visitor/models"
	dErrors "visitorpass/pkg/domain-errors"
)

// Button id prefixes. The suffix is the visitor id.
const (
	AcceptPrefix  = "ACCEPT_"
	DeclinePrefix = "DECLINE_"
)

// Message is the Cloud API send payload. Only the text and interactive
// button shapes are modelled.
type Message struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *Text        `json:"text,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
}

type Text struct {
	Body string `json:"body"`
}

type Interactive struct {
	Type   string            `json:"type"`
	Header *InteractiveText  `json:"header,omitempty"`
	Body   InteractiveBody   `json:"body"`
	Footer *InteractiveBody  `json:"footer,omitempty"`
	Action InteractiveAction `json:"action"`
}

type InteractiveText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type InteractiveBody struct {
	Text string `json:"text"`
}

type InteractiveAction struct {
	Buttons []Button `json:"buttons"`
}

type Button struct {
	Type  string      `json:"type"`
	Reply ButtonReply `json:"reply"`
}

type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func newMessage(to, kind string) *Message {
	return &Message{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               Digits(to),
		Type:             kind,
	}
}

// ApprovalRequest asks the approver to accept or decline a pending visit.
// Button titles stay within the provider's 20 character limit.
func ApprovalRequest(v *models.Visitor) *Message {
	msg := newMessage(v.ApproverMobile, "interactive")
	msg.Interactive = &Interactive{
		Type:   "button",
		Header: &InteractiveText{Type: "text", Text: "Visitor Approval"},
		Body: InteractiveBody{Text: fmt.Sprintf(
			"New visitor request:\n\n*%s*\nMobile: %s\nPurpose: %s\nTo meet: %s\nDate: %s at %s\n\nPlease accept or decline.",
			v.Name, v.Mobile, v.Purpose, v.PersonToMeet, v.VisitDate, v.VisitTime)},
		Footer: &InteractiveBody{Text: "VisitorPass"},
		Action: InteractiveAction{Buttons: []Button{
			{Type: "reply", Reply: ButtonReply{ID: AcceptPrefix + v.ID, Title: "Accept"}},
			{Type: "reply", Reply: ButtonReply{ID: DeclinePrefix + v.ID, Title: "Decline"}},
		}},
	}
	return msg
}

// CredentialNotice delivers the pass link to an approved visitor.
func CredentialNotice(v *models.Visitor, passLink string) *Message {
	msg := newMessage(v.Mobile, "text")
	msg.Text = &Text{Body: fmt.Sprintf(
		"Visit approved\n\nHello %s,\nYour visit has been approved.\n\nDate: %s\nTime: %s\n\nYour entry pass:\n%s\n\nShow the QR code at the security gate. The pass admits you once.",
		v.Name, v.VisitDate, v.VisitTime, passLink)}
	return msg
}

// RejectionNotice tells the visitor the request was declined.
func RejectionNotice(v *models.Visitor) *Message {
	msg := newMessage(v.Mobile, "text")
	msg.Text = &Text{Body: fmt.Sprintf(
		"Visit request declined\n\nHello %s,\n\nYour visit request has been declined. Please contact %s directly.\n\nThank you.",
		v.Name, v.PersonToMeet)}
	return msg
}

// SendApprovalRequest sends ApprovalRequest(v) to the approver.
func (c *Client) SendApprovalRequest(ctx context.Context, v *models.Visitor) (string, error) {
	return c.sendTo(ctx, ApprovalRequest(v))
}

// SendCredential sends the pass link to the visitor.
func (c *Client) SendCredential(ctx context.Context, v *models.Visitor, passLink string) (string, error) {
	return c.sendTo(ctx, CredentialNotice(v, passLink))
}

// SendRejection sends the rejection notice to the visitor.
func (c *Client) SendRejection(ctx context.Context, v *models.Visitor) (string, error) {
	return c.sendTo(ctx, RejectionNotice(v))
}

func (c *Client) sendTo(ctx context.Context, msg *Message) (string, error) {
	if msg.To == "" {
		return "", dErrors.New(dErrors.CodeDeliveryFailed, "recipient has no phone number")
	}
	return c.send(ctx, msg)
}
