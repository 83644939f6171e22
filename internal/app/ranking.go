package app

import (
	"context"

	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

// RankingProjection derives the queue from current facts on every call.
type RankingProjection struct {
	repo store.Repository
}

// NewRankingProjection creates a projection over repo.
func NewRankingProjection(repo store.Repository) *RankingProjection {
	return &RankingProjection{repo: repo}
}

// Candidates returns the full ranked queue.
func (r *RankingProjection) Candidates(ctx context.Context) ([]domain.Candidate, error) {
	facts, err := r.repo.LoadRankingFacts(ctx)
	if err != nil {
		return nil, classify(err, "failed to load ranking")
	}
	return domain.RankCandidates(facts), nil
}

// EligibleMembers returns the queue entries that could win right now, in rank order.
func (r *RankingProjection) EligibleMembers(ctx context.Context) ([]domain.Candidate, error) {
	candidates, err := r.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.IsEligible && !c.HasReceivedPayout {
			eligible = append(eligible, c)
		}
	}
	return eligible, nil
}
