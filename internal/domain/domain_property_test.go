package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: isEligible == revenue >= threshold && age >= ageThreshold, potentialWinners == floor(revenue/amount) >= 0
func TestEligibilityProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	launch := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("eligibility is the conjunction of both thresholds", prop.ForAll(
		func(revenue, threshold, payoutAmount int64, ageThreshold float64, elapsedDays int) bool {
			policy := EligibilityPolicy{
				LaunchDate:         launch,
				RevenueThreshold:   threshold,
				AgeThresholdMonths: ageThreshold,
				PayoutAmount:       payoutAmount,
			}
			now := launch.Add(time.Duration(elapsedDays) * 24 * time.Hour)
			snap := EvaluateEligibility(policy, revenue, RevenueSourceBilling, 0, now)

			wantAge := ProgramAgeMonths(launch, now)
			if snap.IsEligible != (revenue >= threshold && wantAge >= ageThreshold) {
				return false
			}
			if snap.PotentialWinners < 0 {
				return false
			}
			if revenue >= 0 && payoutAmount > 0 && snap.PotentialWinners != revenue/payoutAmount {
				return false
			}
			return true
		},
		gen.Int64Range(-1_000_000, 10_000_000_000),
		gen.Int64Range(0, 10_000_000_000),
		gen.Int64Range(0, 100_000_000),
		gen.Float64Range(0, 60),
		gen.IntRange(0, 3650),
	))

	properties.TestingRun(t)
}

// Property: net == gross - fee - (no form ? round(gross*0.24) : 0) and breakdown length is 3 or 4.
func TestNetPayoutProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("net amount follows the deduction formula", prop.ForAll(
		func(gross, fee int64, hasForm bool) bool {
			calc := CalculateNetPayout(gross, fee, hasForm)
			want := gross - fee
			if !hasForm {
				want -= TaxWithholding(gross)
			}
			if calc.Net != want {
				return false
			}
			if hasForm {
				return len(calc.Breakdown) == 3
			}
			return len(calc.Breakdown) == 4
		},
		gen.Int64Range(0, 1_000_000_000),
		gen.Int64Range(0, 100_000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: no sequence of decisions yields approved while a rejection is recorded.
func TestApprovalWorkflowNeverApprovesWithRejection(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("rejection dominates approvals", prop.ForAll(
		func(required int, votes []bool) bool {
			w := NewApprovalWorkflow(required)
			now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, approve := range votes {
				_ = w.Decide(fmt.Sprintf("admin-%d", i), approve, "reason", now)
			}
			if w.Status == WorkflowApproved && w.hasRejection() {
				return false
			}
			if w.hasRejection() && w.Status != WorkflowRejected {
				return false
			}
			return w.CurrentApprovals <= len(votes)
		},
		gen.IntRange(1, 2),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

// Property: ranks are 1..n without gaps for any set of facts.
func TestRankIsDense(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("rank is dense and gapless", prop.ForAll(
		func(offsets []int) bool {
			facts := make([]MemberFacts, len(offsets))
			for i, off := range offsets {
				at := base.Add(time.Duration(off) * time.Hour)
				facts[i] = MemberFacts{
					MemberID:           fmt.Sprintf("m-%03d", i),
					MembershipStatus:   MembershipActive,
					SubscriptionStatus: SubscriptionActive,
					FirstPaymentAt:     &at,
					PaymentCount:       off % 20,
				}
			}
			ranked := RankCandidates(facts)
			for i, c := range ranked {
				if c.Rank != i+1 {
					return false
				}
				if i > 0 && c.FirstPaymentAt.Before(*ranked[i-1].FirstPaymentAt) {
					return false
				}
			}
			return len(ranked) == len(facts)
		},
		gen.SliceOf(gen.IntRange(0, 500)),
	))

	properties.TestingRun(t)
}
