package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

const revenueTimeout = 15 * time.Second

// EligibilityEvaluator decides whether a payout round is currently permitted.
type EligibilityEvaluator struct {
	repo    store.Repository
	revenue RevenueSource
	ranking *RankingProjection
	policy  domain.EligibilityPolicy
	logger  *slog.Logger
	now     func() time.Time
}

// Evaluate computes a snapshot without side effects.
func (e *EligibilityEvaluator) Evaluate(ctx context.Context) (*domain.EligibilitySnapshot, error) {
	revenue, source, err := e.totalRevenue(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := e.ranking.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := domain.EvaluateEligibility(e.policy, revenue, source, domain.CountEligible(candidates), e.now())
	return &snapshot, nil
}

// RunCheck evaluates eligibility and records the outcome. The check is always written to
// the audit log; an eligible result also raises an admin alert.
func (e *EligibilityEvaluator) RunCheck(ctx context.Context, actor string) (*domain.EligibilitySnapshot, error) {
	snapshot, err := e.Evaluate(ctx)
	if err != nil {
		e.logger.Error("payout eligibility check failed", "actor", actor, "error", err)
		recordAudit(ctx, e.repo, e.logger, domain.AuditLogEvent{
			Action:    "payout_eligibility_check",
			Actor:     actor,
			Resource:  "payout_program",
			Success:   false,
			Error:     err.Error(),
			CreatedAt: e.now(),
		})
		return nil, err
	}

	e.logger.Info("payout eligibility check completed",
		"actor", actor,
		"eligible", snapshot.IsEligible,
		"revenue", snapshot.TotalRevenue,
		"revenue_source", snapshot.RevenueSource,
		"program_age_months", snapshot.ProgramAgeMonths,
		"potential_winners", snapshot.PotentialWinners,
		"eligible_candidates", snapshot.EligibleCandidates,
	)
	recordAudit(ctx, e.repo, e.logger, domain.AuditLogEvent{
		Action:    "payout_eligibility_check",
		Actor:     actor,
		Resource:  "payout_program",
		Success:   true,
		Details:   snapshot,
		CreatedAt: snapshot.ComputedAt,
	})

	if snapshot.IsEligible {
		alert := domain.Alert{
			Type:     "payout_eligible",
			Severity: "info",
			Title:    "Payout round available",
			Message: fmt.Sprintf("Program revenue %d supports %d payout(s); %d eligible member(s) in queue.",
				snapshot.TotalRevenue, snapshot.PotentialWinners, snapshot.EligibleCandidates),
			Data:      snapshot,
			CreatedAt: snapshot.ComputedAt,
		}
		if err := e.repo.InsertAlert(ctx, alert); err != nil {
			e.logger.Warn("failed to create eligibility alert", "error", err)
		}
		recordAudit(ctx, e.repo, e.logger, domain.AuditLogEvent{
			Action:    "payout_eligibility_reached",
			Actor:     actor,
			Resource:  "payout_program",
			Success:   true,
			Details:   snapshot,
			CreatedAt: snapshot.ComputedAt,
		})
	}

	return snapshot, nil
}

// totalRevenue prefers the billing service and falls back to the local ledger.
// When both answer and disagree, the divergence is logged and the billing figure is used.
func (e *EligibilityEvaluator) totalRevenue(ctx context.Context) (int64, string, error) {
	local, localErr := e.repo.SumSucceededPayments(ctx)

	var (
		remote    int64
		remoteErr error
	)
	if e.revenue == nil {
		remoteErr = fmt.Errorf("billing service not configured")
	} else {
		rctx, cancel := context.WithTimeout(ctx, revenueTimeout)
		remote, remoteErr = e.revenue.GetTotalRevenue(rctx)
		cancel()
	}

	if remoteErr == nil {
		if localErr == nil && local != remote {
			e.logger.Warn("revenue sources diverge", "billing_service", remote, "local_ledger", local, "difference", remote-local)
		}
		return remote, domain.RevenueSourceBilling, nil
	}

	if localErr != nil {
		return 0, "", dependencyFailure("revenue unavailable from billing service and local ledger", fmt.Errorf("billing: %v; ledger: %w", remoteErr, localErr))
	}
	e.logger.Warn("billing service revenue lookup failed; using local ledger", "error", remoteErr, "local_ledger", local)
	return local, domain.RevenueSourceLocalLedger, nil
}
