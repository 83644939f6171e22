package domain

import (
	"time"
)

// DaysPerMonth keeps program age deterministic regardless of calendar month lengths.
const DaysPerMonth = 30.44

// Revenue sources recorded on a snapshot.
const (
	RevenueSourceBilling     = "billing_service"
	RevenueSourceLocalLedger = "local_ledger"
)

// EligibilityPolicy holds the program-wide thresholds. Amounts are in minor units.
type EligibilityPolicy struct {
	LaunchDate         time.Time
	RevenueThreshold   int64
	AgeThresholdMonths float64
	PayoutAmount       int64
}

// EligibilitySnapshot is the point-in-time answer to "may a payout round happen now".
type EligibilitySnapshot struct {
	TotalRevenue       int64     `json:"total_revenue"`
	RevenueSource      string    `json:"revenue_source"`
	ProgramAgeMonths   float64   `json:"program_age_months"`
	RevenueThreshold   int64     `json:"revenue_threshold"`
	AgeThresholdMonths float64   `json:"age_threshold_months"`
	MeetsRevenue       bool      `json:"meets_revenue_threshold"`
	MeetsAge           bool      `json:"meets_age_threshold"`
	IsEligible         bool      `json:"is_eligible"`
	PotentialWinners   int64     `json:"potential_winners"`
	PayoutAmount       int64     `json:"payout_amount"`
	EligibleCandidates int       `json:"eligible_candidates"`
	ComputedAt         time.Time `json:"computed_at"`
}

// ProgramAgeMonths returns the months elapsed since launch using DaysPerMonth.
func ProgramAgeMonths(launch, now time.Time) float64 {
	if now.Before(launch) {
		return 0
	}
	days := now.Sub(launch).Hours() / 24
	return days / DaysPerMonth
}

// PotentialWinners is floor(revenue / payoutAmount), clamped at zero.
func PotentialWinners(revenue, payoutAmount int64) int64 {
	if revenue <= 0 || payoutAmount <= 0 {
		return 0
	}
	return revenue / payoutAmount
}

// EvaluateEligibility applies the policy to a revenue figure.
func EvaluateEligibility(policy EligibilityPolicy, revenue int64, source string, eligibleCandidates int, now time.Time) EligibilitySnapshot {
	age := ProgramAgeMonths(policy.LaunchDate, now)
	meetsRevenue := revenue >= policy.RevenueThreshold
	meetsAge := age >= policy.AgeThresholdMonths

	return EligibilitySnapshot{
		TotalRevenue:       revenue,
		RevenueSource:      source,
		ProgramAgeMonths:   age,
		RevenueThreshold:   policy.RevenueThreshold,
		AgeThresholdMonths: policy.AgeThresholdMonths,
		MeetsRevenue:       meetsRevenue,
		MeetsAge:           meetsAge,
		IsEligible:         meetsRevenue && meetsAge,
		PotentialWinners:   PotentialWinners(revenue, policy.PayoutAmount),
		PayoutAmount:       policy.PayoutAmount,
		EligibleCandidates: eligibleCandidates,
		ComputedAt:         now,
	}
}
