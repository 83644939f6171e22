/**
 * @description
 * Scheduled job implementations for the payout service. Each job is a plain method that
 * the cron scheduler and the internal HTTP triggers both call.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

const (
	eligibilityJobName = "eligibility_check"
	removalJobName     = "membership_removals"

	jobTimeout = 10 * time.Minute
	jobLockTTL = 15 * time.Minute
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo        store.Repository
	eligibility *EligibilityEvaluator
	selector    *WinnerSelector
	lifecycle   *MembershipLifecycle
	lock        JobLock
	policy      PayoutPolicy
	logger      *slog.Logger
	now         func() time.Time
}

// EligibilityJobResult reports one eligibility run and any automatic selection.
type EligibilityJobResult struct {
	Snapshot *domain.EligibilitySnapshot `json:"snapshot"`
	Batch    *domain.BatchResult         `json:"batch,omitempty"`
}

// RunEligibilityJob runs the eligibility check and, when the program is eligible and
// auto-selection is on, creates a batch for the winners the revenue supports but
// that have not been committed yet.
func (j *Jobs) RunEligibilityJob(ctx context.Context) (*EligibilityJobResult, error) {
	actor := SystemActor(eligibilityJobName)
	snapshot, err := j.eligibility.RunCheck(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	result := &EligibilityJobResult{Snapshot: snapshot}
	if !snapshot.IsEligible || !j.policy.AutoSelectWinners {
		return result, nil
	}

	committed, err := j.repo.CountCommittedPayouts(ctx)
	if err != nil {
		return result, classify(err, "failed to count committed payouts")
	}
	count := autoSelectCount(snapshot.PotentialWinners, committed, snapshot.EligibleCandidates)
	if count == 0 {
		j.logger.Info("no additional winners to select", "potential_winners", snapshot.PotentialWinners, "committed", committed)
		return result, nil
	}

	batch, err := j.selector.CreatePayoutBatch(ctx, BatchRequest{
		Count:          count,
		Initiator:      actor.ID,
		IdempotencyKey: "auto:" + j.now().Format("2006-01-02"),
	})
	if err != nil {
		return result, err
	}
	result.Batch = batch
	return result, nil
}

// autoSelectCount is the number of winners still owed, capped by the queue and batch size.
func autoSelectCount(potentialWinners int64, committed, eligibleCandidates int) int {
	owed := potentialWinners - int64(committed)
	if owed <= 0 {
		return 0
	}
	count := eligibleCandidates
	if owed < int64(count) {
		count = int(owed)
	}
	if count > MaxBatchSize {
		count = MaxBatchSize
	}
	return count
}

// RunRemovalJob removes every membership whose cooldown has elapsed.
func (j *Jobs) RunRemovalJob(ctx context.Context) (*RemovalRunResult, error) {
	return j.lifecycle.ProcessDueRemovals(ctx, SystemActor(removalJobName))
}

// RunEligibilityCheck is the cron entry point for the daily eligibility check.
func (j *Jobs) RunEligibilityCheck() {
	j.runExclusive(eligibilityJobName, func(ctx context.Context) error {
		_, err := j.RunEligibilityJob(ctx)
		return err
	})
}

// ProcessDueRemovals is the cron entry point for the daily removal run.
func (j *Jobs) ProcessDueRemovals() {
	j.runExclusive(removalJobName, func(ctx context.Context) error {
		_, err := j.RunRemovalJob(ctx)
		return err
	})
}

// runExclusive runs fn under the distributed job lock. When the lock backend is
// unavailable the job still runs locally.
func (j *Jobs) runExclusive(job string, fn func(ctx context.Context) error) {
	j.logger.Info("starting scheduled job", "job", job)
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if j.lock != nil {
		release, acquired, err := j.lock.Acquire(ctx, job, jobLockTTL)
		switch {
		case err != nil:
			j.logger.Warn("job lock unavailable; running locally", "job", job, "error", err)
		case !acquired:
			j.logger.Info("job already running on another instance; skipping", "job", job)
			return
		default:
			defer release()
		}
	}

	if err := fn(ctx); err != nil {
		j.logger.Error("scheduled job failed", "job", job, "error", err)
		return
	}
	j.logger.Info("scheduled job finished", "job", job)
}
