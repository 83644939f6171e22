package domain

import (
	"errors"
	"strings"
	"time"
)

// Staff roles carried in identity claims.
const (
	RoleAdmin          = "admin"
	RoleFinanceManager = "finance_manager"
	RoleAuditor        = "auditor"
)

// WorkflowStatus is the aggregate state of an approval workflow.
type WorkflowStatus string

const (
	WorkflowPending  WorkflowStatus = "pending"
	WorkflowApproved WorkflowStatus = "approved"
	WorkflowRejected WorkflowStatus = "rejected"
)

// Decision values recorded per approver.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

var (
	ErrWorkflowDecided      = errors.New("approval workflow already decided")
	ErrDuplicateApprover    = errors.New("approver already submitted a decision")
	ErrRejectReasonRequired = errors.New("a reason is required when rejecting")
	ErrApproverRequired     = errors.New("approver id is required")
)

// RequiredApprovals is 2 at or above the threshold and 1 below it.
func RequiredApprovals(amount, threshold int64) int {
	if amount >= threshold {
		return 2
	}
	return 1
}

// CanApprove reports whether any of roles may decide on a payout.
func CanApprove(roles []string) bool {
	return HasAnyRole(roles, RoleAdmin, RoleFinanceManager)
}

// IsStaff reports whether roles grant read access to payout data.
func IsStaff(roles []string) bool {
	return HasAnyRole(roles, RoleAdmin, RoleFinanceManager, RoleAuditor)
}

// HasAnyRole is a case-insensitive membership test.
func HasAnyRole(roles []string, allowed ...string) bool {
	for _, r := range roles {
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSpace(r), a) {
				return true
			}
		}
	}
	return false
}

// ApproverDecision is one admin's recorded vote.
type ApproverDecision struct {
	AdminID   string    `json:"admin_id"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ApprovalWorkflow is the N-of-M gate embedded in a payout.
type ApprovalWorkflow struct {
	RequiredApprovals int                `json:"required_approvals"`
	CurrentApprovals  int                `json:"current_approvals"`
	Decisions         []ApproverDecision `json:"decisions"`
	Status            WorkflowStatus     `json:"status"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}

// NewApprovalWorkflow starts a pending workflow.
func NewApprovalWorkflow(required int) ApprovalWorkflow {
	return ApprovalWorkflow{
		RequiredApprovals: required,
		Decisions:         []ApproverDecision{},
		Status:            WorkflowPending,
	}
}

// IsTerminal reports whether the workflow accepts no more decisions.
func (w ApprovalWorkflow) IsTerminal() bool {
	return w.Status == WorkflowApproved || w.Status == WorkflowRejected
}

// HasDecisionFrom reports whether adminID already voted.
func (w ApprovalWorkflow) HasDecisionFrom(adminID string) bool {
	for _, d := range w.Decisions {
		if d.AdminID == adminID {
			return true
		}
	}
	return false
}

// Decide records a vote. The workflow is left untouched when an error is returned.
// A single rejection is final; approval needs RequiredApprovals approving votes.
func (w *ApprovalWorkflow) Decide(adminID string, approve bool, reason string, at time.Time) error {
	if w.IsTerminal() {
		return ErrWorkflowDecided
	}
	if adminID == "" {
		return ErrApproverRequired
	}
	if w.HasDecisionFrom(adminID) {
		return ErrDuplicateApprover
	}
	reason = strings.TrimSpace(reason)
	if !approve && reason == "" {
		return ErrRejectReasonRequired
	}

	decision := ApproverDecision{AdminID: adminID, Reason: reason, Timestamp: at}
	if approve {
		decision.Decision = DecisionApproved
	} else {
		decision.Decision = DecisionRejected
	}
	w.Decisions = append(w.Decisions, decision)

	if !approve {
		w.Status = WorkflowRejected
		w.CompletedAt = &at
		return nil
	}

	w.CurrentApprovals++
	if w.CurrentApprovals >= w.RequiredApprovals && !w.hasRejection() {
		w.Status = WorkflowApproved
		w.CompletedAt = &at
	}
	return nil
}

func (w ApprovalWorkflow) hasRejection() bool {
	for _, d := range w.Decisions {
		if d.Decision == DecisionRejected {
			return true
		}
	}
	return false
}
