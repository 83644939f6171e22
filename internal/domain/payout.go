/**
 * @description
 * The payout aggregate: status machine, embedded records and the append-only audit trail.
 */
package domain

import (
	"errors"
	"fmt"
	"time"
)

// PayoutSchemaVersion is bumped whenever an embedded record changes shape.
const PayoutSchemaVersion = 1

// PayoutIDPrefix prefixes every payout identifier.
const PayoutIDPrefix = "PAY-"

// PayoutStatus is the lifecycle status of a payout.
type PayoutStatus string

const (
	PayoutPendingApproval PayoutStatus = "pending_approval"
	PayoutApproved        PayoutStatus = "approved"
	PayoutRejected        PayoutStatus = "rejected"
	PayoutScheduled       PayoutStatus = "scheduled"
	PayoutProcessing      PayoutStatus = "processing"
	PayoutCompleted       PayoutStatus = "completed"
	PayoutPaymentFailed   PayoutStatus = "payment_failed"
)

var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutPendingApproval: {PayoutApproved, PayoutRejected},
	PayoutApproved:        {PayoutScheduled, PayoutProcessing, PayoutPaymentFailed},
	PayoutScheduled:       {PayoutProcessing, PayoutPaymentFailed},
	PayoutProcessing:      {PayoutCompleted, PayoutPaymentFailed},
	PayoutPaymentFailed:   {PayoutApproved},
}

// IsValid reports whether s is a known status.
func (s PayoutStatus) IsValid() bool {
	switch s {
	case PayoutPendingApproval, PayoutApproved, PayoutRejected, PayoutScheduled,
		PayoutProcessing, PayoutCompleted, PayoutPaymentFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no payment-side transition can leave s.
// payment_failed is only left through an explicit retry, so it counts as terminal here.
func (s PayoutStatus) IsTerminal() bool {
	return s == PayoutCompleted || s == PayoutRejected || s == PayoutPaymentFailed
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to PayoutStatus) bool {
	for _, next := range payoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	ErrInvalidTransition   = errors.New("invalid payout status transition")
	ErrAuditTrailRewritten = errors.New("audit trail may only be appended to")
	ErrSnapshotRewritten   = errors.New("eligibility snapshot is write-once")
)

// Audit actions written to the trail.
const (
	AuditCreated               = "created"
	AuditApprovalDecision      = "approval_decision"
	AuditApproved              = "approved"
	AuditRejected              = "rejected"
	AuditInstructionsGenerated = "instructions_generated"
	AuditPaymentSent           = "payment_sent"
	AuditPaymentCompleted      = "payment_completed"
	AuditPaymentFailed         = "payment_failed"
	AuditPaymentRetried        = "payment_retried"
	AuditReceiptGenerated      = "receipt_generated"
	AuditRemovalScheduled      = "removal_scheduled"
	AuditMembershipRemoved     = "membership_removed"
	AuditMembershipReactivated = "membership_reactivated"
)

// AuditEntry is one line of the payout's compliance record.
type AuditEntry struct {
	Action    string            `json:"action"`
	Actor     string            `json:"actor"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// TransitDetails describe a payment that has left the system.
type TransitDetails struct {
	SentAt         time.Time     `json:"sent_at"`
	Method         PaymentMethod `json:"method"`
	ACHTraceNumber string        `json:"ach_trace_number,omitempty"`
	CheckNumber    string        `json:"check_number,omitempty"`
	Carrier        string        `json:"carrier,omitempty"`
	TrackingNumber string        `json:"tracking_number,omitempty"`
}

// Validate checks the method-specific fields.
func (t TransitDetails) Validate() error {
	switch t.Method {
	case PaymentMethodACH:
		if t.ACHTraceNumber == "" {
			return errors.New("ach_trace_number is required for ach payments")
		}
	case PaymentMethodCheck:
		if t.CheckNumber == "" {
			return errors.New("check_number is required for check payments")
		}
	default:
		return fmt.Errorf("unsupported payment method %q", t.Method)
	}
	return nil
}

// CompletionDetails confirm that funds arrived.
type CompletionDetails struct {
	CompletedAt           time.Time `json:"completed_at"`
	ConfirmationReference string    `json:"confirmation_reference,omitempty"`
}

// PaymentFailure is the structured detail of the last failed attempt.
type PaymentFailure struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	FailedAt  time.Time `json:"failed_at"`
	Attempts  int       `json:"attempts"`
}

// Processing is the payment-side record embedded in a payout.
type Processing struct {
	Calculation             *NetPayoutCalculation `json:"calculation,omitempty"`
	Method                  PaymentMethod         `json:"method,omitempty"`
	InstructionsURL         string                `json:"instructions_url,omitempty"`
	InstructionsGeneratedAt *time.Time            `json:"instructions_generated_at,omitempty"`
	Transit                 *TransitDetails       `json:"transit,omitempty"`
	Completion              *CompletionDetails    `json:"completion,omitempty"`
	ReceiptURL              string                `json:"receipt_url,omitempty"`
	Failure                 *PaymentFailure       `json:"failure,omitempty"`
	RemovalSchedule         *RemovalSchedule      `json:"removal_schedule,omitempty"`
}

// Payout is the central persisted aggregate.
type Payout struct {
	ID                  string              `json:"id"`
	MemberID            string              `json:"member_id"`
	UserID              string              `json:"user_id"`
	Amount              int64               `json:"amount"`
	Currency            string              `json:"currency"`
	Status              PayoutStatus        `json:"status"`
	EligibilitySnapshot EligibilitySnapshot `json:"eligibility_snapshot"`
	Approval            ApprovalWorkflow    `json:"approval_workflow"`
	Processing          Processing          `json:"processing"`
	AuditTrail          []AuditEntry        `json:"audit_trail"`
	SchemaVersion       int                 `json:"schema_version"`
	CreatedBy           string              `json:"created_by"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// NewPayoutParams carries what the selector knows when it commits a winner.
type NewPayoutParams struct {
	ID                string
	MemberID          string
	UserID            string
	Amount            int64
	Currency          string
	ApprovalThreshold int64
	Snapshot          EligibilitySnapshot
	Rank              int
	CreatedBy         string
	CreatedAt         time.Time
}

// NewPayout builds a pending payout with a fresh workflow and a single created entry.
func NewPayout(p NewPayoutParams) *Payout {
	return &Payout{
		ID:                  p.ID,
		MemberID:            p.MemberID,
		UserID:              p.UserID,
		Amount:              p.Amount,
		Currency:            p.Currency,
		Status:              PayoutPendingApproval,
		EligibilitySnapshot: p.Snapshot,
		Approval:            NewApprovalWorkflow(RequiredApprovals(p.Amount, p.ApprovalThreshold)),
		AuditTrail: []AuditEntry{{
			Action:    AuditCreated,
			Actor:     p.CreatedBy,
			Timestamp: p.CreatedAt,
			Details: map[string]string{
				"member_id":  p.MemberID,
				"queue_rank": fmt.Sprintf("%d", p.Rank),
				"amount":     fmt.Sprintf("%d", p.Amount),
			},
		}},
		SchemaVersion: PayoutSchemaVersion,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.CreatedAt,
	}
}

// Record appends an audit entry without moving status.
func (p *Payout) Record(action, actor string, at time.Time, details map[string]string) {
	p.AuditTrail = append(p.AuditTrail, AuditEntry{Action: action, Actor: actor, Timestamp: at, Details: details})
	p.UpdatedAt = at
}

// TransitionTo moves the payout to a new status and appends the matching audit entry.
func (p *Payout) TransitionTo(to PayoutStatus, action, actor string, at time.Time, details map[string]string) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.Record(action, actor, at, details)
	return nil
}

// CheckAppendOnly verifies that after is before with zero or more entries appended.
func CheckAppendOnly(before, after []AuditEntry) error {
	if len(after) < len(before) {
		return ErrAuditTrailRewritten
	}
	for i := range before {
		b, a := before[i], after[i]
		if b.Action != a.Action || b.Actor != a.Actor || !b.Timestamp.Equal(a.Timestamp) || len(b.Details) != len(a.Details) {
			return ErrAuditTrailRewritten
		}
		for k, v := range b.Details {
			if a.Details[k] != v {
				return ErrAuditTrailRewritten
			}
		}
	}
	return nil
}

// CheckSnapshotUnchanged guards the write-once eligibility snapshot.
func CheckSnapshotUnchanged(before, after EligibilitySnapshot) error {
	if !before.ComputedAt.Equal(after.ComputedAt) {
		return ErrSnapshotRewritten
	}
	before.ComputedAt, after.ComputedAt = time.Time{}, time.Time{}
	if before != after {
		return ErrSnapshotRewritten
	}
	return nil
}

// PayoutFilter narrows a payout listing.
type PayoutFilter struct {
	Status   PayoutStatus
	MemberID string
	Limit    int
	Offset   int
}
