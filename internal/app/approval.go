package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

// ApprovalService runs the N-of-M approval gate on a payout.
type ApprovalService struct {
	repo   store.Repository
	events EventSink
	logger *slog.Logger
	now    func() time.Time
}

// DecisionRequest is one admin's approve or reject call.
type DecisionRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

// SubmitDecision records a decision under the payout row lock. Checks run in order:
// role, existence, terminal workflow, duplicate approver, then input validation.
func (s *ApprovalService) SubmitDecision(ctx context.Context, actor Actor, payoutID string, req DecisionRequest) (*domain.Payout, error) {
	if !domain.CanApprove(actor.Roles) {
		s.logger.Warn("unauthorized approval attempt", "actor", actor.ID, "roles", actor.Roles, "payout_id", payoutID)
		recordAudit(ctx, s.repo, s.logger, domain.AuditLogEvent{
			Action:    "payout_approval_denied",
			Actor:     actor.ID,
			Resource:  "payout:" + payoutID,
			Success:   false,
			Error:     "caller lacks an approval role",
			CreatedAt: s.now(),
		})
		return nil, forbidden("caller is not allowed to approve payouts")
	}
	if strings.TrimSpace(payoutID) == "" {
		return nil, validationError("payout id is required")
	}

	var from domain.PayoutStatus
	updated, err := s.repo.UpdatePayout(ctx, payoutID, func(ctx context.Context, tx store.PayoutTx, p *domain.Payout) error {
		from = p.Status
		now := s.now()

		if p.Approval.IsTerminal() {
			return &Error{
				Code:         CodeAlreadyDecided,
				Message:      fmt.Sprintf("approval workflow already %s", p.Approval.Status),
				CurrentState: string(p.Approval.Status),
			}
		}
		if p.Status != domain.PayoutPendingApproval {
			return invalidState("payout is not awaiting approval", string(p.Status))
		}

		if err := p.Approval.Decide(actor.ID, req.Approve, req.Reason, now); err != nil {
			return decisionError(err, p)
		}

		decision := p.Approval.Decisions[len(p.Approval.Decisions)-1]
		details := map[string]string{
			"decision":  decision.Decision,
			"approvals": fmt.Sprintf("%d/%d", p.Approval.CurrentApprovals, p.Approval.RequiredApprovals),
		}
		if decision.Reason != "" {
			details["reason"] = decision.Reason
		}

		switch p.Approval.Status {
		case domain.WorkflowApproved:
			return p.TransitionTo(domain.PayoutApproved, domain.AuditApproved, actor.ID, now, details)
		case domain.WorkflowRejected:
			if err := p.TransitionTo(domain.PayoutRejected, domain.AuditRejected, actor.ID, now, details); err != nil {
				return err
			}
			// A rejected winner goes back into the queue.
			return tx.UpdateMemberStatus(ctx, p.MemberID, domain.MembershipActive)
		default:
			p.Record(domain.AuditApprovalDecision, actor.ID, now, details)
			return nil
		}
	})
	if err != nil {
		return nil, classify(err, "failed to record approval decision")
	}

	s.logger.Info("approval decision recorded",
		"payout_id", updated.ID,
		"actor", actor.ID,
		"approve", req.Approve,
		"workflow_status", updated.Approval.Status,
	)

	if updated.Approval.IsTerminal() {
		s.events.StatusChanged(ctx, statusEvent(updated, from, actor.ID, updated.UpdatedAt))
		template := domain.TemplatePayoutApproved
		if updated.Approval.Status == domain.WorkflowRejected {
			template = domain.TemplatePayoutRejected
		}
		s.events.Notify(ctx, updated.MemberID, template, map[string]string{
			"payout_id": updated.ID,
			"status":    string(updated.Status),
		})
	}
	return updated, nil
}

func decisionError(err error, p *domain.Payout) error {
	switch {
	case errors.Is(err, domain.ErrWorkflowDecided):
		return &Error{Code: CodeAlreadyDecided, Message: "approval workflow already decided", CurrentState: string(p.Approval.Status)}
	case errors.Is(err, domain.ErrDuplicateApprover):
		return &Error{Code: CodeDuplicateApprover, Message: "approver already submitted a decision for this payout", CurrentState: string(p.Approval.Status)}
	case errors.Is(err, domain.ErrRejectReasonRequired), errors.Is(err, domain.ErrApproverRequired):
		return validationError(err.Error())
	}
	return err
}
