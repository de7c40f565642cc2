package audit

import "time"

// Category classifies events for routing and retention.
type Category string

const (
	// CategoryCompliance covers decisions with a lasting record: who approved
	// or rejected which visit, and when.
	CategoryCompliance Category = "compliance"
	// CategorySecurity covers gate refusals and webhook forgeries.
	CategorySecurity   Category = "security"
	// CategoryOperations covers routine activity and delivery failures.
	CategoryOperations Category = "operations"
)

// Action names a lifecycle event.
type Action string

const (
	ActionVisitorRegistered  Action = "visitor_registered"
	ActionVisitApproved      Action = "visit_approved"
	ActionVisitRejected      Action = "visit_rejected"
	ActionDecisionReplayed   Action = "decision_replayed"
	ActionEntryAdmitted      Action = "entry_admitted"
	ActionEntryDenied        Action = "entry_denied"
	ActionDuplicateScan      Action = "duplicate_scan"
	ActionWebhookRejected    Action = "webhook_rejected"
	ActionNotificationFailed Action = "notification_failed"
)

var categories = map[Action]Category{
	ActionVisitApproved:   CategoryCompliance,
	ActionVisitRejected:   CategoryCompliance,
	ActionEntryAdmitted:   CategoryCompliance,
	ActionEntryDenied:     CategorySecurity,
	ActionDuplicateScan:   CategorySecurity,
	ActionWebhookRejected: CategorySecurity,
}

// Category returns the action's category. Unknown actions are operational.
func (a Action) Category() Category {
	if c, ok := categories[a]; ok {
		return c
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. It is
// transport-agnostic so sinks can fan out.
type Event struct {
	ID        string   `json:"id"`
	Category  Category `json:"category"`
	Action    Action   `json:"action"`
	VisitorID string   `json:"visitor_id,omitempty"`
	Actor     string   `json:"actor,omitempty"`

	// PriorStatus is the status read under the lock before the action.
	PriorStatus string    `json:"prior_status,omitempty"`
	Status      string    `json:"status,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
