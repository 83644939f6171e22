package domain

import (
	"sort"
	"time"
)

// MinQualifyingPayments is the cumulative count of succeeded payments a member needs
// in the current tenure before they can win.
const MinQualifyingPayments = 12

// MemberFacts is one row of raw facts read for the ranking.
type MemberFacts struct {
	MemberID           string
	UserID             string
	MembershipStatus   MembershipStatus
	TenureStart        time.Time
	SubscriptionStatus string
	FirstPaymentAt     *time.Time
	PaymentCount       int
	PaymentTotal       int64
	HasReceivedPayout  bool
}

// Candidate is a ranked queue entry. It is derived on every read and never stored.
type Candidate struct {
	MemberID           string     `json:"member_id"`
	UserID             string     `json:"user_id"`
	Rank               int        `json:"rank"`
	TenureStart        time.Time  `json:"tenure_start"`
	FirstPaymentAt     *time.Time `json:"first_payment_at,omitempty"`
	PaymentCount       int        `json:"payment_count"`
	PaymentTotal       int64      `json:"payment_total"`
	SubscriptionStatus string     `json:"subscription_status"`
	HasReceivedPayout  bool       `json:"has_received_payout"`
	IsEligible         bool       `json:"is_eligible"`
}

// queueTime is the ordering key: first qualifying payment, or tenure start if none yet.
func (f MemberFacts) queueTime() time.Time {
	if f.FirstPaymentAt != nil {
		return *f.FirstPaymentAt
	}
	return f.TenureStart
}

// RankCandidates filters the facts to queue members and assigns a dense 1-based rank.
// The result is a strict total order: earliest queue time first, member id breaking ties.
func RankCandidates(facts []MemberFacts) []Candidate {
	filtered := make([]MemberFacts, 0, len(facts))
	for _, f := range facts {
		if f.MembershipStatus != MembershipActive {
			continue
		}
		if !IsActiveSubscription(f.SubscriptionStatus) {
			continue
		}
		if f.HasReceivedPayout {
			continue
		}
		filtered = append(filtered, f)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i].queueTime(), filtered[j].queueTime()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return filtered[i].MemberID < filtered[j].MemberID
	})

	candidates := make([]Candidate, len(filtered))
	for i, f := range filtered {
		candidates[i] = Candidate{
			MemberID:           f.MemberID,
			UserID:             f.UserID,
			Rank:               i + 1,
			TenureStart:        f.TenureStart,
			FirstPaymentAt:     f.FirstPaymentAt,
			PaymentCount:       f.PaymentCount,
			PaymentTotal:       f.PaymentTotal,
			SubscriptionStatus: f.SubscriptionStatus,
			HasReceivedPayout:  f.HasReceivedPayout,
			IsEligible:         f.PaymentCount >= MinQualifyingPayments,
		}
	}
	return candidates
}

// TakeWinners returns the first count candidates that are eligible and unpaid.
func TakeWinners(candidates []Candidate, count int) []Candidate {
	if count <= 0 {
		return nil
	}
	winners := make([]Candidate, 0, count)
	for _, c := range candidates {
		if !c.IsEligible || c.HasReceivedPayout {
			continue
		}
		winners = append(winners, c)
		if len(winners) == count {
			break
		}
	}
	return winners
}

// CountEligible returns how many candidates could win right now.
func CountEligible(candidates []Candidate) int {
	n := 0
	for _, c := range candidates {
		if c.IsEligible && !c.HasReceivedPayout {
			n++
		}
	}
	return n
}
