package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenure/payout-service/internal/domain"
)

// completedPayout stores a completed payout with a removal schedule derived from completedAt.
func (h *testHarness) completedPayout(t *testing.T, id, memberID string, completedAt time.Time) *domain.Payout {
	t.Helper()
	h.repo.addMember(memberID, completedAt.AddDate(-2, 0, 0), 24)
	h.repo.members[memberID].member.MembershipStatus = domain.MembershipPaid
	p := h.pendingPayout(id, memberID, testPayoutAmount, testApprovalThreshold)
	p.CreatedAt = completedAt.AddDate(0, -1, 0)
	for _, to := range []domain.PayoutStatus{domain.PayoutApproved, domain.PayoutProcessing, domain.PayoutCompleted} {
		require.NoError(t, p.TransitionTo(to, string(to), "admin-1", completedAt, nil))
	}
	p.Processing.Completion = &domain.CompletionDetails{CompletedAt: completedAt}
	h.engine.Lifecycle.ScheduleRemoval(p, completedAt, "admin-1", completedAt)
	h.repo.putPayout(p)
	return p
}

func TestScheduleRemoval_TwelveCalendarMonthsAndIdempotent(t *testing.T) {
	h := newTestHarness(t)
	p := &domain.Payout{ID: "PAY-1"}
	completedAt := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	first := h.engine.Lifecycle.ScheduleRemoval(p, completedAt, "admin-1", completedAt)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), first.ScheduledFor)

	second := h.engine.Lifecycle.ScheduleRemoval(p, completedAt.AddDate(0, 1, 0), "admin-1", completedAt)
	assert.Equal(t, first.ScheduledFor, second.ScheduledFor)
	assert.Len(t, p.AuditTrail, 1)
}

func TestCheckDueRemovals_OnlyDueAndNotRemoved(t *testing.T) {
	h := newTestHarness(t)
	h.completedPayout(t, "PAY-due", "m-due", testNow.AddDate(-1, 0, -1))
	h.completedPayout(t, "PAY-later", "m-later", testNow.AddDate(0, -6, 0))

	due, err := h.engine.Lifecycle.CheckDueRemovals(context.Background(), testNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "PAY-due", due[0].ID)
}

func TestRemoveMembership(t *testing.T) {
	h := newTestHarness(t)
	h.completedPayout(t, "PAY-1", "m1", testNow.AddDate(-1, 0, -1))
	ctx := context.Background()

	removed, err := h.engine.Lifecycle.RemoveMembership(ctx, "m1", SystemActor("removal_job"))
	require.NoError(t, err)
	assert.True(t, removed.Processing.RemovalSchedule.Removed)
	require.NotNil(t, removed.Processing.RemovalSchedule.RemovedAt)
	assert.Equal(t, domain.MembershipRemoved, h.repo.memberStatus("m1"))
	assert.Equal(t, []string{"m1"}, h.billing.members)
	assert.Equal(t, []string{"m1:" + domain.TemplateMembershipRemoved}, h.sink.notifications)
	assert.Equal(t, domain.AuditMembershipRemoved, removed.AuditTrail[len(removed.AuditTrail)-1].Action)

	again, err := h.engine.Lifecycle.RemoveMembership(ctx, "m1", SystemActor("removal_job"))
	require.NoError(t, err)
	assert.Len(t, again.AuditTrail, len(removed.AuditTrail))
	assert.Len(t, h.billing.members, 1)
}

func TestRemoveMembership_BillingFailureIsNotFatal(t *testing.T) {
	h := newTestHarness(t)
	h.completedPayout(t, "PAY-1", "m1", testNow.AddDate(-1, 0, -1))
	h.billing.err = errStub

	_, err := h.engine.Lifecycle.RemoveMembership(context.Background(), "m1", SystemActor("removal_job"))
	require.NoError(t, err)
	assert.Equal(t, domain.MembershipRemoved, h.repo.memberStatus("m1"))
}

func TestRemoveMembership_NotDue(t *testing.T) {
	h := newTestHarness(t)
	h.completedPayout(t, "PAY-1", "m1", testNow.AddDate(0, -6, 0))

	_, err := h.engine.Lifecycle.RemoveMembership(context.Background(), "m1", SystemActor("removal_job"))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, domain.MembershipPaid, h.repo.memberStatus("m1"))
	assert.Empty(t, h.billing.members)
}

func TestReactivateMembership(t *testing.T) {
	h := newTestHarness(t)
	h.completedPayout(t, "PAY-1", "m1", testNow.AddDate(-1, 0, -1))
	ctx := context.Background()
	newPayment := testNow.Add(48 * time.Hour)

	_, err := h.engine.Lifecycle.ReactivateMembership(ctx, "m1", newPayment, adminActor("admin-1"))
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.engine.Lifecycle.RemoveMembership(ctx, "m1", SystemActor("removal_job"))
	require.NoError(t, err)

	reactivated, err := h.engine.Lifecycle.ReactivateMembership(ctx, "m1", newPayment, adminActor("admin-1"))
	require.NoError(t, err)
	schedule := reactivated.Processing.RemovalSchedule
	require.NotNil(t, schedule.ReactivatedAt)
	require.NotNil(t, schedule.NewTenureStart)
	assert.True(t, schedule.NewTenureStart.Equal(newPayment))
	assert.Equal(t, domain.MembershipActive, h.repo.memberStatus("m1"))
	assert.True(t, h.repo.members["m1"].member.TenureStart.Equal(newPayment))

	_, err = h.engine.Lifecycle.ReactivateMembership(ctx, "m1", newPayment, adminActor("admin-1"))
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.engine.Lifecycle.ReactivateMembership(ctx, "unknown", newPayment, adminActor("admin-1"))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestProcessDueRemovals_ContinuesPastFailures(t *testing.T) {
	h := newTestHarness(t)
	h.completedPayout(t, "PAY-a", "m-a", testNow.AddDate(-1, 0, -2))
	h.completedPayout(t, "PAY-b", "m-b", testNow.AddDate(-1, 0, -1))
	// m-b's member row disappears so its removal fails.
	delete(h.repo.members, "m-b")

	result, err := h.engine.Lifecycle.ProcessDueRemovals(context.Background(), SystemActor("removal_job"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Due)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, domain.MembershipRemoved, h.repo.memberStatus("m-a"))
	assert.False(t, h.repo.payout("PAY-b").Processing.RemovalSchedule.Removed)
}
