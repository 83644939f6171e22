package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tenure/payout-service/internal/domain"
)

// selectionLockKey is the advisory lock shared by every winner-selection transaction.
const selectionLockKey = "payout_winner_selection"

// RunSelection opens a transaction, takes the selection advisory lock and runs fn.
// The lock is released when the transaction ends.
func (r *PostgresRepository) RunSelection(ctx context.Context, fn func(ctx context.Context, tx SelectionTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin selection transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", selectionLockKey); err != nil {
		return fmt.Errorf("failed to acquire selection lock: %w", err)
	}

	if err := fn(ctx, &selectionTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type selectionTx struct {
	tx pgx.Tx
}

func (s *selectionTx) LoadRankingFacts(ctx context.Context) ([]domain.MemberFacts, error) {
	return loadRankingFacts(ctx, s.tx)
}

func (s *selectionTx) LockMember(ctx context.Context, memberID string) (*domain.ComplianceState, error) {
	return scanCompliance(s.tx.QueryRow(ctx, complianceQuery+" FOR UPDATE OF m", memberID))
}

func (s *selectionTx) InsertPayout(ctx context.Context, payout *domain.Payout) error {
	return insertPayout(ctx, s.tx, payout)
}

func (s *selectionTx) UpdateMemberStatus(ctx context.Context, memberID string, status domain.MembershipStatus) error {
	return updateMemberStatus(ctx, s.tx, memberID, status)
}

// Savepoint uses a pgx pseudo nested transaction, which is a SAVEPOINT on the wire.
func (s *selectionTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx SelectionTx) error) error {
	nested, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	defer nested.Rollback(ctx)

	if err := fn(ctx, &selectionTx{tx: nested}); err != nil {
		return err
	}
	return nested.Commit(ctx)
}

func (s *selectionTx) FindBatchRun(ctx context.Context, idempotencyKey string) (*domain.BatchResult, error) {
	var raw []byte
	err := s.tx.QueryRow(ctx, "SELECT result FROM payout_batch_runs WHERE idempotency_key = $1", idempotencyKey).Scan(&raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBatchRunNotFound
		}
		return nil, fmt.Errorf("failed to load batch run: %w", err)
	}
	var result domain.BatchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode batch run: %w", err)
	}
	return &result, nil
}

func (s *selectionTx) SaveBatchRun(ctx context.Context, result *domain.BatchResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode batch run: %w", err)
	}
	query := `
		INSERT INTO payout_batch_runs (idempotency_key, batch_id, result, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.tx.Exec(ctx, query, result.IdempotencyKey, result.BatchID, raw, result.CreatedAt); err != nil {
		return fmt.Errorf("failed to save batch run: %w", err)
	}
	return nil
}
