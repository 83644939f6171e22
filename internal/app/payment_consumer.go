package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tenure/payout-service/internal/domain"
)

const consumerTimeout = 15 * time.Second

const paymentGatewayActor = "payment_gateway"

// PaymentEventConsumer applies payment gateway events delivered over the broker.
// Handlers return true to ack and false to requeue.
type PaymentEventConsumer struct {
	payments *PaymentProcessor
	logger   *slog.Logger
}

// NewPaymentEventConsumer creates a consumer that routes events to payments.
func NewPaymentEventConsumer(payments *PaymentProcessor, logger *slog.Logger) *PaymentEventConsumer {
	return &PaymentEventConsumer{payments: payments, logger: logger}
}

// Bindings maps routing keys to handlers for rabbitmq.Consumer.
func (c *PaymentEventConsumer) Bindings() map[string]func([]byte) bool {
	return map[string]func([]byte) bool{
		domain.PaymentEventCompleted: c.HandleCompleted,
		domain.PaymentEventFailed:    c.HandleFailed,
	}
}

// HandleCompleted confirms a processing payout.
func (c *PaymentEventConsumer) HandleCompleted(body []byte) bool {
	event, ok := c.decode(domain.PaymentEventCompleted, body)
	if !ok {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	_, err := c.payments.ConfirmPaymentComplete(ctx, SystemActor(paymentGatewayActor), event.PayoutID, domain.CompletionDetails{
		CompletedAt:           event.OccurredAt,
		ConfirmationReference: event.Reference,
	})
	return c.settle(domain.PaymentEventCompleted, event.PayoutID, err)
}

// HandleFailed records a failed payment attempt.
func (c *PaymentEventConsumer) HandleFailed(body []byte) bool {
	event, ok := c.decode(domain.PaymentEventFailed, body)
	if !ok {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
	defer cancel()

	code := event.FailureCode
	if code == "" {
		code = "gateway_failure"
	}
	message := event.FailureMessage
	if message == "" {
		message = "payment gateway reported a failure"
	}
	_, err := c.payments.HandlePaymentFailure(ctx, SystemActor(paymentGatewayActor), event.PayoutID, PaymentFailureInput{
		Code:      code,
		Message:   message,
		Retryable: event.Retryable,
	})
	return c.settle(domain.PaymentEventFailed, event.PayoutID, err)
}

func (c *PaymentEventConsumer) decode(routingKey string, body []byte) (domain.PaymentEvent, bool) {
	var event domain.PaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("dropping malformed payment event", "routing_key", routingKey, "error", err)
		return event, false
	}
	if strings.TrimSpace(event.PayoutID) == "" {
		c.logger.Error("dropping payment event without payout id", "routing_key", routingKey)
		return event, false
	}
	return event, true
}

// settle decides ack or requeue. Unknown payouts and state conflicts are duplicates or
// stale events and are acked; dependency and internal failures are requeued.
func (c *PaymentEventConsumer) settle(routingKey, payoutID string, err error) bool {
	if err == nil {
		c.logger.Info("payment event applied", "routing_key", routingKey, "payout_id", payoutID)
		return true
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) || errors.Is(err, ErrValidation) {
		c.logger.Warn("payment event ignored", "routing_key", routingKey, "payout_id", payoutID, "error", err)
		return true
	}
	c.logger.Error("payment event failed; requeueing", "routing_key", routingKey, "payout_id", payoutID, "error", err)
	return false
}
