/**
 * @description
 * Contract for the payout service's data access. The app layer depends on this
 * interface; PostgresRepository is the production implementation.
 *
 * @dependencies
 * - internal/domain: payout aggregate and member facts.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tenure/payout-service/internal/domain"
)

var (
	ErrPayoutNotFound     = errors.New("payout not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrPreferenceNotFound = errors.New("payout preference not found")
	ErrBatchRunNotFound   = errors.New("batch run not found")
)

// Repository defines every read and write the payout engine performs.
type Repository interface {
	// Ranking and eligibility
	LoadRankingFacts(ctx context.Context) ([]domain.MemberFacts, error)
	SumSucceededPayments(ctx context.Context) (int64, error)
	CountCommittedPayouts(ctx context.Context) (int, error)
	GetComplianceState(ctx context.Context, memberID string) (*domain.ComplianceState, error)

	// Selection runs fn inside one transaction serialized against other selections.
	RunSelection(ctx context.Context, fn func(ctx context.Context, tx SelectionTx) error) error

	// Payouts
	GetPayout(ctx context.Context, payoutID string) (*domain.Payout, error)
	ListPayouts(ctx context.Context, filter domain.PayoutFilter) ([]domain.Payout, error)
	UpdatePayout(ctx context.Context, payoutID string, fn PayoutMutation) (*domain.Payout, error)
	GetLatestCompletedPayout(ctx context.Context, memberID string) (*domain.Payout, error)
	ListRemovalCandidates(ctx context.Context, now time.Time) ([]domain.Payout, error)

	// Members
	GetMember(ctx context.Context, memberID string) (*domain.Member, error)
	GetPayoutPreference(ctx context.Context, memberID string) (*domain.PayoutPreference, error)
	HasValidTaxForm(ctx context.Context, memberID string, at time.Time) (bool, error)

	// System audit log and admin alerts
	InsertAuditLog(ctx context.Context, event domain.AuditLogEvent) error
	InsertAlert(ctx context.Context, alert domain.Alert) error
}

// SelectionTx is the transactional view used while committing a payout batch.
type SelectionTx interface {
	LoadRankingFacts(ctx context.Context) ([]domain.MemberFacts, error)
	LockMember(ctx context.Context, memberID string) (*domain.ComplianceState, error)
	InsertPayout(ctx context.Context, payout *domain.Payout) error
	UpdateMemberStatus(ctx context.Context, memberID string, status domain.MembershipStatus) error
	// Savepoint runs fn in a nested transaction; an error rolls back only fn's writes.
	Savepoint(ctx context.Context, fn func(ctx context.Context, tx SelectionTx) error) error
	FindBatchRun(ctx context.Context, idempotencyKey string) (*domain.BatchResult, error)
	SaveBatchRun(ctx context.Context, result *domain.BatchResult) error
}

// PayoutTx exposes the member writes allowed alongside a locked payout update.
type PayoutTx interface {
	GetMember(ctx context.Context, memberID string) (*domain.Member, error)
	UpdateMemberStatus(ctx context.Context, memberID string, status domain.MembershipStatus) error
	SetTenureStart(ctx context.Context, memberID string, tenureStart time.Time) error
}

// PayoutMutation edits a payout loaded under a row lock. Returning an error rolls back.
type PayoutMutation func(ctx context.Context, tx PayoutTx, payout *domain.Payout) error
