package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

// MaxBatchSize caps how many payouts one batch may create.
const MaxBatchSize = 100

// BatchRequest asks for a payout batch.
type BatchRequest struct {
	Count          int    `json:"count"`
	Initiator      string `json:"-"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// WinnerSelector picks winners from the ranking and commits their payouts.
type WinnerSelector struct {
	repo        store.Repository
	ranking     *RankingProjection
	eligibility *EligibilityEvaluator
	events      EventSink
	policy      PayoutPolicy
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

// SelectWinners returns the first count eligible, unpaid candidates in rank order.
func (s *WinnerSelector) SelectWinners(ctx context.Context, count int) ([]domain.Candidate, error) {
	if count <= 0 {
		return nil, validationError("count must be greater than zero")
	}
	candidates, err := s.ranking.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	return domain.TakeWinners(candidates, count), nil
}

// Validate re-checks a candidate's compliance prerequisites against current state.
func (s *WinnerSelector) Validate(ctx context.Context, memberID string) (*domain.ValidationResult, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, validationError("member id is required")
	}
	state, err := s.repo.GetComplianceState(ctx, memberID)
	if err != nil {
		return nil, classify(err, "failed to load compliance state")
	}
	result := domain.ValidateCompliance(*state)
	return &result, nil
}

// selectionError is a per-winner reason to skip, recorded on the batch result.
type selectionError struct {
	code    string
	reasons []string
}

func (e *selectionError) Error() string {
	return e.code + ": " + strings.Join(e.reasons, "; ")
}

// CreatePayoutBatch commits payouts for up to req.Count winners in one serialized
// transaction. Each winner is handled in its own savepoint so one failure does not
// abort the batch. A repeated idempotency key returns the stored result.
func (s *WinnerSelector) CreatePayoutBatch(ctx context.Context, req BatchRequest) (*domain.BatchResult, error) {
	if req.Count <= 0 || req.Count > MaxBatchSize {
		return nil, validationError(fmt.Sprintf("count must be between 1 and %d", MaxBatchSize))
	}
	if strings.TrimSpace(req.Initiator) == "" {
		return nil, validationError("initiator is required")
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	snapshot, err := s.eligibility.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	if !snapshot.IsEligible {
		return nil, invalidState("payout round is not currently permitted", "ineligible")
	}

	var result *domain.BatchResult
	err = s.repo.RunSelection(ctx, func(ctx context.Context, tx store.SelectionTx) error {
		if req.IdempotencyKey != "" {
			existing, err := tx.FindBatchRun(ctx, req.IdempotencyKey)
			if err == nil {
				existing.Replayed = true
				result = existing
				return nil
			}
			if !errors.Is(err, store.ErrBatchRunNotFound) {
				return err
			}
		}

		facts, err := tx.LoadRankingFacts(ctx)
		if err != nil {
			return err
		}
		winners := domain.TakeWinners(domain.RankCandidates(facts), req.Count)

		now := s.now()
		batch := &domain.BatchResult{
			BatchID:        uuid.NewString(),
			IdempotencyKey: req.IdempotencyKey,
			Requested:      req.Count,
			Payouts:        []domain.Payout{},
			Failures:       []domain.SelectionFailure{},
			CreatedAt:      now,
		}

		for _, winner := range winners {
			payout, err := s.commitWinner(ctx, tx, winner, *snapshot, req.Initiator, now)
			if err != nil {
				batch.Failures = append(batch.Failures, s.selectionFailure(winner, err))
				continue
			}
			batch.Payouts = append(batch.Payouts, *payout)
		}
		batch.Created = len(batch.Payouts)
		batch.Failed = len(batch.Failures)

		if req.IdempotencyKey != "" {
			if err := tx.SaveBatchRun(ctx, batch); err != nil {
				return err
			}
		}
		result = batch
		return nil
	})
	if err != nil {
		return nil, classify(err, "failed to create payout batch")
	}

	if result.Replayed {
		s.logger.Info("payout batch replayed", "idempotency_key", req.IdempotencyKey, "batch_id", result.BatchID)
		return result, nil
	}

	s.logger.Info("payout batch created",
		"batch_id", result.BatchID,
		"initiator", req.Initiator,
		"requested", result.Requested,
		"created", result.Created,
		"failed", result.Failed,
	)
	recordAudit(ctx, s.repo, s.logger, domain.AuditLogEvent{
		Action:    "payout_batch_created",
		Actor:     req.Initiator,
		Resource:  "payout_batch:" + result.BatchID,
		Success:   true,
		Details:   map[string]int{"requested": result.Requested, "created": result.Created, "failed": result.Failed},
		CreatedAt: result.CreatedAt,
	})
	for i := range result.Payouts {
		p := &result.Payouts[i]
		s.events.StatusChanged(ctx, statusEvent(p, "", req.Initiator, p.CreatedAt))
	}
	return result, nil
}

// commitWinner locks, re-validates and persists one winner inside a savepoint.
func (s *WinnerSelector) commitWinner(ctx context.Context, tx store.SelectionTx, winner domain.Candidate, snapshot domain.EligibilitySnapshot, initiator string, now time.Time) (*domain.Payout, error) {
	var created *domain.Payout
	err := tx.Savepoint(ctx, func(ctx context.Context, sp store.SelectionTx) error {
		state, err := sp.LockMember(ctx, winner.MemberID)
		if err != nil {
			if errors.Is(err, store.ErrMemberNotFound) {
				return &selectionError{code: domain.SelectionMemberUnavailable, reasons: []string{"member no longer exists"}}
			}
			return err
		}
		if state.MembershipStatus != domain.MembershipActive {
			return &selectionError{
				code:    domain.SelectionMemberUnavailable,
				reasons: []string{fmt.Sprintf("membership status is %s", state.MembershipStatus)},
			}
		}
		if v := domain.ValidateCompliance(*state); !v.Valid {
			return &selectionError{code: domain.SelectionValidationFailed, reasons: v.Reasons}
		}

		payout := domain.NewPayout(domain.NewPayoutParams{
			ID:                s.newID(),
			MemberID:          winner.MemberID,
			UserID:            winner.UserID,
			Amount:            s.policy.PayoutAmount,
			Currency:          s.policy.Currency,
			ApprovalThreshold: s.policy.ApprovalThreshold,
			Snapshot:          snapshot,
			Rank:              winner.Rank,
			CreatedBy:         initiator,
			CreatedAt:         now,
		})
		if err := sp.InsertPayout(ctx, payout); err != nil {
			return err
		}
		if err := sp.UpdateMemberStatus(ctx, winner.MemberID, domain.MembershipWon); err != nil {
			return err
		}
		created = payout
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *WinnerSelector) selectionFailure(winner domain.Candidate, err error) domain.SelectionFailure {
	failure := domain.SelectionFailure{MemberID: winner.MemberID, UserID: winner.UserID}
	var selErr *selectionError
	if errors.As(err, &selErr) {
		failure.Code = selErr.code
		failure.Reasons = selErr.reasons
		s.logger.Info("winner skipped", "member_id", winner.MemberID, "code", selErr.code, "reasons", selErr.reasons)
		return failure
	}
	s.logger.Error("failed to commit winner", "member_id", winner.MemberID, "error", err)
	failure.Code = domain.SelectionPersistFailed
	failure.Reasons = []string{"failed to persist payout"}
	return failure
}
