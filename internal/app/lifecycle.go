package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

const (
	billingTimeout      = 15 * time.Second
	removalCancelReason = "payout_cooldown_elapsed"
)

// MembershipLifecycle removes paid members after the cooldown and reactivates them
// when they resume paying.
type MembershipLifecycle struct {
	repo    store.Repository
	billing SubscriptionCanceller
	events  EventSink
	logger  *slog.Logger
	now     func() time.Time
}

// RemovalRunResult summarizes one pass over due removals.
type RemovalRunResult struct {
	Due     int      `json:"due"`
	Removed int      `json:"removed"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// ScheduleRemoval attaches the removal schedule to a completed payout. Calling it again
// keeps the first schedule.
func (m *MembershipLifecycle) ScheduleRemoval(p *domain.Payout, completedAt time.Time, actor string, at time.Time) *domain.RemovalSchedule {
	if p.Processing.RemovalSchedule != nil {
		return p.Processing.RemovalSchedule
	}
	schedule := domain.NewRemovalSchedule(completedAt)
	p.Processing.RemovalSchedule = schedule
	p.Record(domain.AuditRemovalScheduled, actor, at, map[string]string{
		"scheduled_for": schedule.ScheduledFor.Format(time.RFC3339),
	})
	return schedule
}

// CheckDueRemovals lists completed payouts whose removal is due at now.
func (m *MembershipLifecycle) CheckDueRemovals(ctx context.Context, now time.Time) ([]domain.Payout, error) {
	candidates, err := m.repo.ListRemovalCandidates(ctx, now)
	if err != nil {
		return nil, classify(err, "failed to list removal candidates")
	}
	return domain.DueRemovals(candidates, now), nil
}

// RemoveMembership deactivates a paid member whose cooldown has elapsed.
func (m *MembershipLifecycle) RemoveMembership(ctx context.Context, memberID string, actor Actor) (*domain.Payout, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, validationError("member id is required")
	}
	payout, err := m.repo.GetLatestCompletedPayout(ctx, memberID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			return nil, notFound("member has no completed payout")
		}
		return nil, classify(err, "failed to load completed payout")
	}
	schedule := payout.Processing.RemovalSchedule
	if schedule == nil {
		return nil, invalidState("payout has no removal schedule", string(payout.Status))
	}
	if schedule.Removed {
		return payout, nil
	}
	now := m.now()
	if !schedule.IsDue(now) {
		return nil, invalidState("membership removal is not due until "+schedule.ScheduledFor.Format(time.RFC3339), string(payout.Status))
	}

	m.cancelSubscription(ctx, memberID)

	updated, err := m.repo.UpdatePayout(ctx, payout.ID, func(ctx context.Context, tx store.PayoutTx, po *domain.Payout) error {
		s := po.Processing.RemovalSchedule
		if s == nil {
			return invalidState("payout has no removal schedule", string(po.Status))
		}
		if s.Removed {
			return nil
		}
		s.Removed = true
		s.RemovedAt = &now
		po.Record(domain.AuditMembershipRemoved, actor.ID, now, map[string]string{
			"member_id":     po.MemberID,
			"scheduled_for": s.ScheduledFor.Format(time.RFC3339),
		})
		return tx.UpdateMemberStatus(ctx, po.MemberID, domain.MembershipRemoved)
	})
	if err != nil {
		return nil, classify(err, "failed to remove membership")
	}

	m.logger.Info("membership removed", "member_id", memberID, "payout_id", updated.ID, "actor", actor.ID)
	m.events.Notify(ctx, memberID, domain.TemplateMembershipRemoved, map[string]string{
		"payout_id":  updated.ID,
		"removed_at": now.Format(time.RFC3339),
	})
	return updated, nil
}

func (m *MembershipLifecycle) cancelSubscription(ctx context.Context, memberID string) {
	if m.billing == nil {
		return
	}
	bctx, cancel := context.WithTimeout(ctx, billingTimeout)
	defer cancel()
	if err := m.billing.CancelSubscription(bctx, memberID, removalCancelReason); err != nil {
		m.logger.Warn("failed to cancel subscription for removed member", "member_id", memberID, "error", err)
	}
}

// ReactivateMembership returns a removed member to the queue with a fresh tenure start.
func (m *MembershipLifecycle) ReactivateMembership(ctx context.Context, memberID string, newPaymentDate time.Time, actor Actor) (*domain.Payout, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, validationError("member id is required")
	}
	if newPaymentDate.IsZero() {
		return nil, validationError("new payment date is required")
	}
	payout, err := m.repo.GetLatestCompletedPayout(ctx, memberID)
	if err != nil {
		if errors.Is(err, store.ErrPayoutNotFound) {
			return nil, invalidState("membership was never removed", "")
		}
		return nil, classify(err, "failed to load completed payout")
	}

	tenureStart := newPaymentDate.UTC()
	updated, err := m.repo.UpdatePayout(ctx, payout.ID, func(ctx context.Context, tx store.PayoutTx, po *domain.Payout) error {
		s := po.Processing.RemovalSchedule
		if s == nil || !s.Removed {
			return invalidState("membership has not been removed", "not_removed")
		}
		if s.ReactivatedAt != nil {
			return invalidState("membership already reactivated", "reactivated")
		}
		now := m.now()
		s.ReactivatedAt = &now
		s.NewTenureStart = &tenureStart
		po.Record(domain.AuditMembershipReactivated, actor.ID, now, map[string]string{
			"member_id":        po.MemberID,
			"new_tenure_start": tenureStart.Format(time.RFC3339),
		})
		if err := tx.UpdateMemberStatus(ctx, po.MemberID, domain.MembershipActive); err != nil {
			return err
		}
		return tx.SetTenureStart(ctx, po.MemberID, tenureStart)
	})
	if err != nil {
		return nil, classify(err, "failed to reactivate membership")
	}

	m.logger.Info("membership reactivated", "member_id", memberID, "tenure_start", tenureStart, "actor", actor.ID)
	return updated, nil
}

// ProcessDueRemovals removes every due membership, continuing past individual failures.
func (m *MembershipLifecycle) ProcessDueRemovals(ctx context.Context, actor Actor) (*RemovalRunResult, error) {
	due, err := m.CheckDueRemovals(ctx, m.now())
	if err != nil {
		return nil, err
	}
	result := &RemovalRunResult{Due: len(due)}
	for _, p := range due {
		if _, err := m.RemoveMembership(ctx, p.MemberID, actor); err != nil {
			m.logger.Error("failed to remove membership", "member_id", p.MemberID, "payout_id", p.ID, "error", err)
			result.Failed++
			result.Errors = append(result.Errors, p.MemberID+": "+err.Error())
			continue
		}
		result.Removed++
	}
	m.logger.Info("removal run finished", "due", result.Due, "removed", result.Removed, "failed", result.Failed)
	return result, nil
}
