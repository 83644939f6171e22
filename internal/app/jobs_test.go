package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenure/payout-service/internal/domain"
)

type jobLockStub struct {
	acquired bool
	err      error
	jobs     []string
	released int
}

func (s *jobLockStub) Acquire(ctx context.Context, job string, ttl time.Duration) (func(), bool, error) {
	s.jobs = append(s.jobs, job)
	if s.err != nil || !s.acquired {
		return nil, false, s.err
	}
	return func() { s.released++ }, true, nil
}

func TestAutoSelectCount(t *testing.T) {
	tests := []struct {
		name      string
		potential int64
		committed int
		eligible  int
		want      int
	}{
		{name: "owed capped by queue", potential: 5, committed: 1, eligible: 2, want: 2},
		{name: "queue larger than owed", potential: 3, committed: 1, eligible: 10, want: 2},
		{name: "nothing owed", potential: 2, committed: 2, eligible: 10, want: 0},
		{name: "over committed", potential: 1, committed: 3, eligible: 10, want: 0},
		{name: "capped by batch size", potential: 500, committed: 0, eligible: 400, want: MaxBatchSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, autoSelectCount(tt.potential, tt.committed, tt.eligible))
		})
	}
}

func TestRunEligibilityJob_AutoSelectsOwedWinners(t *testing.T) {
	h := newTestHarness(t)
	seedQueue(h)
	ctx := context.Background()

	result, err := h.engine.Jobs.RunEligibilityJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, result.Batch)
	assert.Equal(t, 2, result.Batch.Created)
	assert.Equal(t, "auto:2025-03-01", result.Batch.IdempotencyKey)

	// Revenue supports two winners and two are committed.
	again, err := h.engine.Jobs.RunEligibilityJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, again.Batch)

	payouts, err := h.repo.ListPayouts(ctx, domain.PayoutFilter{})
	require.NoError(t, err)
	assert.Len(t, payouts, 2)
}

func TestRunEligibilityJob_AutoSelectDisabled(t *testing.T) {
	h := newTestHarness(t)
	seedQueue(h)
	h.engine.Jobs.policy.AutoSelectWinners = false

	result, err := h.engine.Jobs.RunEligibilityJob(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Snapshot.IsEligible)
	assert.Nil(t, result.Batch)
	assert.Equal(t, 0, h.repo.selectionRun)
}

func TestRunExclusive_SkipsWhenLockHeldElsewhere(t *testing.T) {
	h := newTestHarness(t)
	lock := &jobLockStub{acquired: false}
	h.engine.Jobs.lock = lock

	ran := false
	h.engine.Jobs.runExclusive("eligibility_check", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.False(t, ran)
	assert.Equal(t, []string{"eligibility_check"}, lock.jobs)
}

func TestRunExclusive_RunsLocallyWhenLockUnavailable(t *testing.T) {
	h := newTestHarness(t)
	h.engine.Jobs.lock = &jobLockStub{err: errStub}

	ran := false
	h.engine.Jobs.runExclusive("eligibility_check", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran)
}

func TestRunExclusive_ReleasesAcquiredLock(t *testing.T) {
	h := newTestHarness(t)
	lock := &jobLockStub{acquired: true}
	h.engine.Jobs.lock = lock

	h.engine.Jobs.runExclusive("membership_removals", func(ctx context.Context) error { return errStub })
	assert.Equal(t, 1, lock.released)
}

func TestProcessDueRemovals_CronEntryPoint(t *testing.T) {
	h := newTestHarness(t)
	h.completedPayout(t, "PAY-1", "m1", testNow.AddDate(-1, 0, -1))
	h.engine.Jobs.lock = &jobLockStub{acquired: true}

	h.engine.Jobs.ProcessDueRemovals()
	assert.Equal(t, domain.MembershipRemoved, h.repo.memberStatus("m1"))
}
