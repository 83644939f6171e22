package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenure/payout-service/internal/domain"
)

func seedQueue(h *testHarness) {
	h.repo.addMember("m-early", testNow.AddDate(-3, 0, 0), 36)
	h.repo.addMember("m-mid", testNow.AddDate(-2, 0, 0), 24)
	h.repo.addMember("m-late", testNow.AddDate(-1, -6, 0), 18)
	h.repo.addMember("m-new", testNow.AddDate(0, -3, 0), 3)
}

func TestSelectWinners_RankOrderSkipsIneligible(t *testing.T) {
	h := newTestHarness(t)
	seedQueue(h)

	winners, err := h.engine.Selector.SelectWinners(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, winners, 3)
	assert.Equal(t, "m-early", winners[0].MemberID)
	assert.Equal(t, "m-mid", winners[1].MemberID)
	assert.Equal(t, "m-late", winners[2].MemberID)
	assert.Equal(t, []int{1, 2, 3}, []int{winners[0].Rank, winners[1].Rank, winners[2].Rank})

	_, err = h.engine.Selector.SelectWinners(context.Background(), 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidate_ReportsEachFailingCheck(t *testing.T) {
	h := newTestHarness(t)
	m := h.repo.addMember("m1", testNow.AddDate(-2, 0, 0), 24)
	m.kycStatus = "pending"
	m.subscription = domain.SubscriptionPastDue

	result, err := h.engine.Selector.Validate(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Len(t, result.Reasons, 2)

	_, err = h.engine.Selector.Validate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreatePayoutBatch_CommitsWinnersAndMarksThemWon(t *testing.T) {
	h := newTestHarness(t)
	seedQueue(h)

	result, err := h.engine.Selector.CreatePayoutBatch(context.Background(), BatchRequest{Count: 2, Initiator: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Requested)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Payouts, 2)

	for _, p := range result.Payouts {
		assert.Equal(t, domain.PayoutPendingApproval, p.Status)
		assert.Equal(t, testPayoutAmount, p.Amount)
		assert.Equal(t, 2, p.Approval.RequiredApprovals)
		assert.True(t, p.EligibilitySnapshot.IsEligible)
		require.Len(t, p.AuditTrail, 1)
		assert.Equal(t, domain.AuditCreated, p.AuditTrail[0].Action)
		assert.Equal(t, domain.MembershipWon, h.repo.memberStatus(p.MemberID))
	}
	assert.Equal(t, "m-early", result.Payouts[0].MemberID)
	assert.Equal(t, "m-mid", result.Payouts[1].MemberID)
	assert.Equal(t, domain.MembershipActive, h.repo.memberStatus("m-late"))
	assert.Len(t, h.sink.statuses, 2)
	assert.Contains(t, h.repo.auditActions(), "payout_batch_created")

	// Winners leave the queue.
	winners, err := h.engine.Selector.SelectWinners(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, "m-late", winners[0].MemberID)
	assert.Equal(t, 1, winners[0].Rank)
}

func TestCreatePayoutBatch_SkipsInvalidWinnerWithReason(t *testing.T) {
	h := newTestHarness(t)
	seedQueue(h)
	h.repo.members["m-early"].kycStatus = "rejected"

	result, err := h.engine.Selector.CreatePayoutBatch(context.Background(), BatchRequest{Count: 2, Initiator: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "m-early", result.Failures[0].MemberID)
	assert.Equal(t, domain.SelectionValidationFailed, result.Failures[0].Code)
	assert.NotEmpty(t, result.Failures[0].Reasons)
	assert.Equal(t, domain.MembershipActive, h.repo.memberStatus("m-early"))
	assert.Equal(t, "m-mid", result.Payouts[0].MemberID)
}

func TestCreatePayoutBatch_PersistFailureRollsBackOnlyThatWinner(t *testing.T) {
	h := newTestHarness(t)
	seedQueue(h)
	h.repo.insertErr["m-early"] = errStub

	result, err := h.engine.Selector.CreatePayoutBatch(context.Background(), BatchRequest{Count: 2, Initiator: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, domain.SelectionPersistFailed, result.Failures[0].Code)
	assert.Equal(t, domain.MembershipActive, h.repo.memberStatus("m-early"))
	assert.Equal(t, domain.MembershipWon, h.repo.memberStatus("m-mid"))
}

func TestCreatePayoutBatch_IdempotencyKeyReplaysStoredResult(t *testing.T) {
	h := newTestHarness(t)
	seedQueue(h)
	ctx := context.Background()
	req := BatchRequest{Count: 1, Initiator: "admin-1", IdempotencyKey: "round-2025-03"}

	first, err := h.engine.Selector.CreatePayoutBatch(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := h.engine.Selector.CreatePayoutBatch(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.BatchID, second.BatchID)

	payouts, err := h.repo.ListPayouts(ctx, domain.PayoutFilter{})
	require.NoError(t, err)
	assert.Len(t, payouts, 1)
}

func TestCreatePayoutBatch_RejectsWhenIneligibleOrInvalid(t *testing.T) {
	h := newTestHarness(t)
	seedQueue(h)
	ctx := context.Background()

	_, err := h.engine.Selector.CreatePayoutBatch(ctx, BatchRequest{Count: 0, Initiator: "admin-1"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.engine.Selector.CreatePayoutBatch(ctx, BatchRequest{Count: MaxBatchSize + 1, Initiator: "admin-1"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.engine.Selector.CreatePayoutBatch(ctx, BatchRequest{Count: 1})
	assert.ErrorIs(t, err, ErrValidation)

	h.revenue.total = 1_000
	_, err = h.engine.Selector.CreatePayoutBatch(ctx, BatchRequest{Count: 1, Initiator: "admin-1"})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 0, h.repo.selectionRun)
}
