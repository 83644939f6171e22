/**
 * @description
 * Wiring for the payout workflow engine. Every component is built once here and
 * shared by the HTTP handlers, the cron jobs and the payment event consumer.
 */
package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

// RevenueSource supplies program revenue from the billing service.
type RevenueSource interface {
	GetTotalRevenue(ctx context.Context) (int64, error)
}

// SubscriptionCanceller cancels a member's billing.
type SubscriptionCanceller interface {
	CancelSubscription(ctx context.Context, memberID, reason string) error
}

// DocumentRenderer renders a PDF and returns its URL.
type DocumentRenderer interface {
	Render(ctx context.Context, template string, data any) (string, error)
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Roles []string
}

// SystemActor is used for scheduled and event-driven work.
func SystemActor(name string) Actor {
	return Actor{ID: "system:" + name}
}

// PayoutPolicy carries the configured amounts, all in minor units.
type PayoutPolicy struct {
	Eligibility       domain.EligibilityPolicy
	PayoutAmount      int64
	RetentionFee      int64
	ApprovalThreshold int64
	Currency          string
	AutoSelectWinners bool
}

// EngineDeps are the collaborators the engine is built from.
type EngineDeps struct {
	Repo      store.Repository
	Revenue   RevenueSource
	Billing   SubscriptionCanceller
	Documents DocumentRenderer
	Publisher EventPublisher
	Cipher    *BankDetailsCipher
	JobLock   JobLock
	Exchange  string
	Policy    PayoutPolicy
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine bundles the payout workflow components.
type Engine struct {
	Ranking     *RankingProjection
	Eligibility *EligibilityEvaluator
	Selector    *WinnerSelector
	Approvals   *ApprovalService
	Payments    *PaymentProcessor
	Lifecycle   *MembershipLifecycle
	Jobs        *Jobs
	Consumer    *PaymentEventConsumer

	repo store.Repository
}

// NewEngine builds every component from deps.
func NewEngine(deps EngineDeps) *Engine {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := NewEventSink(deps.Publisher, deps.Repo, deps.Exchange, logger)

	ranking := NewRankingProjection(deps.Repo)
	eligibility := &EligibilityEvaluator{
		repo:    deps.Repo,
		revenue: deps.Revenue,
		ranking: ranking,
		policy:  deps.Policy.Eligibility,
		logger:  logger,
		now:     now,
	}
	selector := &WinnerSelector{
		repo:        deps.Repo,
		ranking:     ranking,
		eligibility: eligibility,
		events:      events,
		policy:      deps.Policy,
		logger:      logger,
		now:         now,
		newID:       func() string { return domain.PayoutIDPrefix + uuid.NewString() },
	}
	approvals := &ApprovalService{
		repo:   deps.Repo,
		events: events,
		logger: logger,
		now:    now,
	}
	lifecycle := &MembershipLifecycle{
		repo:    deps.Repo,
		billing: deps.Billing,
		events:  events,
		logger:  logger,
		now:     now,
	}
	payments := &PaymentProcessor{
		repo:      deps.Repo,
		documents: deps.Documents,
		cipher:    deps.Cipher,
		lifecycle: lifecycle,
		events:    events,
		policy:    deps.Policy,
		logger:    logger,
		now:       now,
	}
	jobs := &Jobs{
		repo:        deps.Repo,
		eligibility: eligibility,
		selector:    selector,
		lifecycle:   lifecycle,
		lock:        deps.JobLock,
		policy:      deps.Policy,
		logger:      logger,
		now:         now,
	}

	return &Engine{
		Ranking:     ranking,
		Eligibility: eligibility,
		Selector:    selector,
		Approvals:   approvals,
		Payments:    payments,
		Lifecycle:   lifecycle,
		Jobs:        jobs,
		Consumer:    NewPaymentEventConsumer(payments, logger),
		repo:        deps.Repo,
	}
}

// Payout loads one payout with its embedded sub-records.
func (e *Engine) Payout(ctx context.Context, payoutID string) (*domain.Payout, error) {
	if strings.TrimSpace(payoutID) == "" {
		return nil, validationError("payout id is required")
	}
	p, err := e.repo.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, classify(err, "failed to load payout")
	}
	return p, nil
}

// Payouts lists payouts newest first.
func (e *Engine) Payouts(ctx context.Context, filter domain.PayoutFilter) ([]domain.Payout, error) {
	payouts, err := e.repo.ListPayouts(ctx, filter)
	if err != nil {
		return nil, classify(err, "failed to list payouts")
	}
	return payouts, nil
}

// DueRemovals lists memberships whose removal is due now.
func (e *Engine) DueRemovals(ctx context.Context) ([]domain.Payout, error) {
	return e.Lifecycle.CheckDueRemovals(ctx, e.Lifecycle.now())
}
