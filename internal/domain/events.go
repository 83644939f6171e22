package domain

import "time"

// PayoutStatusEvent is published on every committed status change.
type PayoutStatusEvent struct {
	PayoutID   string       `json:"payout_id"`
	MemberID   string       `json:"member_id"`
	UserID     string       `json:"user_id"`
	FromStatus PayoutStatus `json:"from_status"`
	ToStatus   PayoutStatus `json:"to_status"`
	Actor      string       `json:"actor"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Payment gateway event types consumed from the broker.
const (
	PaymentEventCompleted = "payout.payment.completed"
	PaymentEventFailed    = "payout.payment.failed"
)

// PaymentEvent is the gateway's confirmation or failure for a sent payout.
type PaymentEvent struct {
	PayoutID       string    `json:"payout_id"`
	Reference      string    `json:"reference,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	FailureCode    string    `json:"failure_code,omitempty"`
	FailureMessage string    `json:"failure_message,omitempty"`
	Retryable      bool      `json:"retryable,omitempty"`
}

// Notification is a templated, fire-and-forget message to a member.
type Notification struct {
	Recipient string            `json:"recipient"`
	UserID    string            `json:"user_id"`
	Template  string            `json:"template"`
	Data      map[string]string `json:"data"`
}

// Notification templates.
const (
	TemplatePayoutApproved    = "payout_approved"
	TemplatePayoutRejected    = "payout_rejected"
	TemplatePayoutCompleted   = "payout_completed"
	TemplateMembershipRemoved = "membership_removed"
)

// AuditLogEvent is a system-wide audit record, separate from the per-payout trail.
type AuditLogEvent struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Resource  string    `json:"resource"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Details   any       `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert is an admin-facing notice.
type Alert struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SelectionFailure is a per-winner reason a payout was not created.
type SelectionFailure struct {
	MemberID string   `json:"member_id"`
	UserID   string   `json:"user_id"`
	Code     string   `json:"code"`
	Reasons  []string `json:"reasons"`
}

// Selection failure codes.
const (
	SelectionValidationFailed  = "VALIDATION_FAILED"
	SelectionMemberUnavailable = "MEMBER_UNAVAILABLE"
	SelectionPersistFailed     = "PERSIST_FAILED"
)

// BatchResult summarizes one payout batch run.
type BatchResult struct {
	BatchID        string             `json:"batch_id"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	Requested      int                `json:"requested"`
	Created        int                `json:"created"`
	Failed         int                `json:"failed"`
	Payouts        []Payout           `json:"payouts"`
	Failures       []SelectionFailure `json:"failures"`
	Replayed       bool               `json:"replayed"`
	CreatedAt      time.Time          `json:"created_at"`
}
