package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

const publishTimeout = 5 * time.Second

// EventSink delivers the engine's fire-and-forget side effects.
type EventSink interface {
	// Notify sends a templated message to the payout owner. Failures are only logged.
	Notify(ctx context.Context, memberID, template string, data map[string]string)
	// StatusChanged publishes a payout status event. Failures are only logged.
	StatusChanged(ctx context.Context, event domain.PayoutStatusEvent)
}

type brokerEventSink struct {
	publisher EventPublisher
	members   memberLookup
	exchange  string
	logger    *slog.Logger
}

type memberLookup interface {
	GetMember(ctx context.Context, memberID string) (*domain.Member, error)
}

// NewEventSink publishes notifications and status events to the broker.
func NewEventSink(publisher EventPublisher, members store.Repository, exchange string, logger *slog.Logger) EventSink {
	return &brokerEventSink{publisher: publisher, members: members, exchange: exchange, logger: logger}
}

func (s *brokerEventSink) Notify(ctx context.Context, memberID, template string, data map[string]string) {
	if s.publisher == nil {
		return
	}
	member, err := s.members.GetMember(ctx, memberID)
	if err != nil {
		s.logger.Warn("notification skipped: member lookup failed", "member_id", memberID, "template", template, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	msg := domain.Notification{
		Recipient: member.Email,
		UserID:    member.UserID,
		Template:  template,
		Data:      data,
	}
	if err := s.publisher.Publish(ctx, s.exchange, "notification.send."+template, msg); err != nil {
		s.logger.Warn("failed to publish notification", "member_id", memberID, "template", template, "error", err)
	}
}

func (s *brokerEventSink) StatusChanged(ctx context.Context, event domain.PayoutStatusEvent) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, s.exchange, "payout.status."+string(event.ToStatus), event); err != nil {
		s.logger.Warn("failed to publish payout status event", "payout_id", event.PayoutID, "status", event.ToStatus, "error", err)
	}
}

func statusEvent(p *domain.Payout, from domain.PayoutStatus, actor string, at time.Time) domain.PayoutStatusEvent {
	return domain.PayoutStatusEvent{
		PayoutID:   p.ID,
		MemberID:   p.MemberID,
		UserID:     p.UserID,
		FromStatus: from,
		ToStatus:   p.Status,
		Actor:      actor,
		OccurredAt: at,
	}
}

// recordAudit writes to the system audit log; failures are logged and swallowed.
func recordAudit(ctx context.Context, repo store.Repository, logger *slog.Logger, event domain.AuditLogEvent) {
	if err := repo.InsertAuditLog(ctx, event); err != nil {
		logger.Warn("failed to write audit log", "action", event.Action, "error", err)
	}
}
