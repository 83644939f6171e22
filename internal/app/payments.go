package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tenure/payout-service/internal/domain"
	"github.com/tenure/payout-service/internal/store"
)

const documentTimeout = 15 * time.Second

// Document templates rendered by the document service.
const (
	templateInstructions = "payout_payment_instructions"
	templateReceipt      = "payout_receipt"
)

// PaymentProcessor drives a payout from approval to completed or failed.
type PaymentProcessor struct {
	repo      store.Repository
	documents DocumentRenderer
	cipher    *BankDetailsCipher
	lifecycle *MembershipLifecycle
	events    EventSink
	policy    PayoutPolicy
	logger    *slog.Logger
	now       func() time.Time
}

// PaymentFailureInput describes a failed payment attempt.
type PaymentFailureInput struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// CalculateNetPayout previews the net amount for the configured gross payout.
func (p *PaymentProcessor) CalculateNetPayout(hasValidTaxForm bool) domain.NetPayoutCalculation {
	return domain.CalculateNetPayout(p.policy.PayoutAmount, p.policy.RetentionFee, hasValidTaxForm)
}

type instructionsDocument struct {
	PayoutID    string                      `json:"payout_id"`
	MemberID    string                      `json:"member_id"`
	Currency    string                      `json:"currency"`
	Method      domain.PaymentMethod        `json:"method"`
	Calculation domain.NetPayoutCalculation `json:"calculation"`
	Bank        *domain.BankDetails         `json:"bank,omitempty"`
	Address     *domain.MailingAddress      `json:"address,omitempty"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

// GenerateInstructions resolves the member's payout destination, computes the net amount,
// renders the instructions document and moves the payout to scheduled.
func (p *PaymentProcessor) GenerateInstructions(ctx context.Context, actor Actor, payoutID string) (*domain.Payout, error) {
	payout, err := p.repo.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, classify(err, "failed to load payout")
	}
	if payout.Status != domain.PayoutApproved {
		return nil, invalidState("payment instructions require an approved payout", string(payout.Status))
	}

	pref, err := p.repo.GetPayoutPreference(ctx, payout.MemberID)
	if err != nil {
		if errors.Is(err, store.ErrPreferenceNotFound) {
			return nil, detailsMissing("member has no payout preference on file")
		}
		return nil, dependencyFailure("failed to load payout preference", err)
	}

	doc := instructionsDocument{
		PayoutID: payout.ID,
		MemberID: payout.MemberID,
		Currency: payout.Currency,
		Method:   pref.Method,
	}
	auditDetails := map[string]string{"method": string(pref.Method)}

	switch pref.Method {
	case domain.PaymentMethodACH:
		if strings.TrimSpace(pref.EncryptedBankDetails) == "" {
			return nil, detailsMissing("member has no bank details on file")
		}
		bank, err := p.cipher.Decrypt(payout.MemberID, pref.EncryptedBankDetails)
		if errors.Is(err, ErrMalformedBankDetails) {
			return nil, detailsMissing("stored bank details cannot be decrypted")
		}
		if err != nil {
			return nil, dependencyFailure("failed to decrypt bank details", err)
		}
		if bank.RoutingNumber == "" || bank.AccountNumber == "" {
			return nil, detailsMissing("stored bank details are incomplete")
		}
		doc.Bank = bank
		auditDetails["account"] = maskAccount(bank.AccountNumber)
	case domain.PaymentMethodCheck:
		if pref.MailingAddress == nil || !pref.MailingAddress.IsComplete() {
			return nil, detailsMissing("member has no primary mailing address on file")
		}
		doc.Address = pref.MailingAddress
	default:
		return nil, detailsMissing(fmt.Sprintf("unsupported payment method %q", pref.Method))
	}

	now := p.now()
	hasForm, err := p.repo.HasValidTaxForm(ctx, payout.MemberID, now)
	if err != nil {
		return nil, dependencyFailure("failed to check tax form", err)
	}
	calc := domain.CalculateNetPayout(payout.Amount, p.policy.RetentionFee, hasForm)
	doc.Calculation = calc
	doc.GeneratedAt = now

	url := p.render(ctx, templateInstructions, payout.ID, doc)
	auditDetails["net_amount"] = fmt.Sprintf("%d", calc.Net)
	if url != "" {
		auditDetails["document_url"] = url
	}

	var from domain.PayoutStatus
	updated, err := p.repo.UpdatePayout(ctx, payoutID, func(ctx context.Context, tx store.PayoutTx, po *domain.Payout) error {
		from = po.Status
		if po.Status != domain.PayoutApproved {
			return invalidState("payment instructions require an approved payout", string(po.Status))
		}
		po.Processing.Calculation = &calc
		po.Processing.Method = pref.Method
		po.Processing.InstructionsURL = url
		po.Processing.InstructionsGeneratedAt = &now
		return po.TransitionTo(domain.PayoutScheduled, domain.AuditInstructionsGenerated, actor.ID, now, auditDetails)
	})
	if err != nil {
		return nil, classify(err, "failed to store payment instructions")
	}

	p.logger.Info("payment instructions generated", "payout_id", updated.ID, "method", pref.Method, "net", calc.Net)
	p.events.StatusChanged(ctx, statusEvent(updated, from, actor.ID, now))
	return updated, nil
}

// MarkPaymentSent records transit details for an approved or scheduled payout.
func (p *PaymentProcessor) MarkPaymentSent(ctx context.Context, actor Actor, payoutID string, transit domain.TransitDetails) (*domain.Payout, error) {
	var from domain.PayoutStatus
	updated, err := p.repo.UpdatePayout(ctx, payoutID, func(ctx context.Context, tx store.PayoutTx, po *domain.Payout) error {
		from = po.Status
		if po.Status != domain.PayoutApproved && po.Status != domain.PayoutScheduled {
			return invalidState("payment can only be sent for an approved or scheduled payout", string(po.Status))
		}
		if transit.Method == "" {
			transit.Method = po.Processing.Method
		}
		if err := transit.Validate(); err != nil {
			return validationError(err.Error())
		}
		now := p.now()
		if transit.SentAt.IsZero() {
			transit.SentAt = now
		}
		po.Processing.Transit = &transit
		po.Processing.Method = transit.Method

		details := map[string]string{"method": string(transit.Method)}
		if transit.ACHTraceNumber != "" {
			details["ach_trace_number"] = transit.ACHTraceNumber
		}
		if transit.CheckNumber != "" {
			details["check_number"] = transit.CheckNumber
		}
		if transit.TrackingNumber != "" {
			details["tracking_number"] = transit.TrackingNumber
		}
		return po.TransitionTo(domain.PayoutProcessing, domain.AuditPaymentSent, actor.ID, now, details)
	})
	if err != nil {
		return nil, classify(err, "failed to mark payment sent")
	}

	p.logger.Info("payment marked sent", "payout_id", updated.ID, "method", transit.Method)
	p.events.StatusChanged(ctx, statusEvent(updated, from, actor.ID, updated.UpdatedAt))
	return updated, nil
}

// ConfirmPaymentComplete completes a processing payout, marks the member paid and
// schedules the membership removal. The receipt is rendered afterwards, best-effort.
func (p *PaymentProcessor) ConfirmPaymentComplete(ctx context.Context, actor Actor, payoutID string, completion domain.CompletionDetails) (*domain.Payout, error) {
	current, err := p.repo.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, classify(err, "failed to load payout")
	}
	if current.Status != domain.PayoutProcessing {
		return nil, invalidState("payment can only be completed while processing", string(current.Status))
	}

	var fallbackCalc *domain.NetPayoutCalculation
	if current.Processing.Calculation == nil {
		hasForm, err := p.repo.HasValidTaxForm(ctx, current.MemberID, p.now())
		if err != nil {
			return nil, dependencyFailure("failed to check tax form", err)
		}
		calc := domain.CalculateNetPayout(current.Amount, p.policy.RetentionFee, hasForm)
		fallbackCalc = &calc
	}

	updated, err := p.repo.UpdatePayout(ctx, payoutID, func(ctx context.Context, tx store.PayoutTx, po *domain.Payout) error {
		if po.Status != domain.PayoutProcessing {
			return invalidState("payment can only be completed while processing", string(po.Status))
		}
		now := p.now()
		if completion.CompletedAt.IsZero() {
			completion.CompletedAt = now
		}
		if po.Processing.Calculation == nil {
			po.Processing.Calculation = fallbackCalc
		}
		po.Processing.Completion = &completion
		po.Processing.Failure = nil

		details := map[string]string{"completed_at": completion.CompletedAt.Format(time.RFC3339)}
		if completion.ConfirmationReference != "" {
			details["confirmation_reference"] = completion.ConfirmationReference
		}
		if err := po.TransitionTo(domain.PayoutCompleted, domain.AuditPaymentCompleted, actor.ID, now, details); err != nil {
			return err
		}
		p.lifecycle.ScheduleRemoval(po, completion.CompletedAt, actor.ID, now)
		return tx.UpdateMemberStatus(ctx, po.MemberID, domain.MembershipPaid)
	})
	if err != nil {
		return nil, classify(err, "failed to complete payment")
	}

	p.logger.Info("payment completed", "payout_id", updated.ID, "member_id", updated.MemberID)
	p.events.StatusChanged(ctx, statusEvent(updated, domain.PayoutProcessing, actor.ID, updated.UpdatedAt))

	if url := p.render(ctx, templateReceipt, updated.ID, updated); url != "" {
		withReceipt, err := p.repo.UpdatePayout(ctx, payoutID, func(ctx context.Context, tx store.PayoutTx, po *domain.Payout) error {
			po.Processing.ReceiptURL = url
			po.Record(domain.AuditReceiptGenerated, actor.ID, p.now(), map[string]string{"document_url": url})
			return nil
		})
		if err != nil {
			p.logger.Warn("failed to store receipt url", "payout_id", updated.ID, "error", err)
		} else {
			updated = withReceipt
		}
	}

	data := map[string]string{"payout_id": updated.ID}
	if calc := updated.Processing.Calculation; calc != nil {
		data["net_amount"] = fmt.Sprintf("%d", calc.Net)
	}
	if updated.Processing.ReceiptURL != "" {
		data["receipt_url"] = updated.Processing.ReceiptURL
	}
	p.events.Notify(ctx, updated.MemberID, domain.TemplatePayoutCompleted, data)
	return updated, nil
}

// HandlePaymentFailure records a failed attempt on an approved payout that has not finished.
// Nothing is retried automatically.
func (p *PaymentProcessor) HandlePaymentFailure(ctx context.Context, actor Actor, payoutID string, input PaymentFailureInput) (*domain.Payout, error) {
	input.Code = strings.TrimSpace(input.Code)
	input.Message = strings.TrimSpace(input.Message)
	if input.Code == "" || input.Message == "" {
		return nil, validationError("failure code and message are required")
	}

	var from domain.PayoutStatus
	updated, err := p.repo.UpdatePayout(ctx, payoutID, func(ctx context.Context, tx store.PayoutTx, po *domain.Payout) error {
		from = po.Status
		switch po.Status {
		case domain.PayoutApproved, domain.PayoutScheduled, domain.PayoutProcessing:
		default:
			return invalidState("payment failure can only be recorded on an approved payout in payment", string(po.Status))
		}
		now := p.now()
		attempts := 1
		if prev := po.Processing.Failure; prev != nil {
			attempts = prev.Attempts + 1
		}
		po.Processing.Failure = &domain.PaymentFailure{
			Code:      input.Code,
			Message:   input.Message,
			Retryable: input.Retryable,
			FailedAt:  now,
			Attempts:  attempts,
		}
		return po.TransitionTo(domain.PayoutPaymentFailed, domain.AuditPaymentFailed, actor.ID, now, map[string]string{
			"code":      input.Code,
			"message":   input.Message,
			"retryable": fmt.Sprintf("%t", input.Retryable),
			"attempt":   fmt.Sprintf("%d", attempts),
		})
	})
	if err != nil {
		return nil, classify(err, "failed to record payment failure")
	}

	p.logger.Warn("payment failed", "payout_id", updated.ID, "code", input.Code, "retryable", input.Retryable)
	p.events.StatusChanged(ctx, statusEvent(updated, from, actor.ID, updated.UpdatedAt))
	return updated, nil
}

// RetryPayment returns a retryable failed payout to approved so it can be paid again.
func (p *PaymentProcessor) RetryPayment(ctx context.Context, actor Actor, payoutID string) (*domain.Payout, error) {
	updated, err := p.repo.UpdatePayout(ctx, payoutID, func(ctx context.Context, tx store.PayoutTx, po *domain.Payout) error {
		if po.Status != domain.PayoutPaymentFailed {
			return invalidState("only failed payments can be retried", string(po.Status))
		}
		if po.Processing.Failure == nil || !po.Processing.Failure.Retryable {
			return invalidState("payment failure is not retryable", string(po.Status))
		}
		if po.Approval.Status != domain.WorkflowApproved {
			return invalidState("payout has not completed its approval workflow", string(po.Status))
		}
		po.Processing.Transit = nil
		return po.TransitionTo(domain.PayoutApproved, domain.AuditPaymentRetried, actor.ID, p.now(), map[string]string{
			"previous_failure": po.Processing.Failure.Code,
		})
	})
	if err != nil {
		return nil, classify(err, "failed to retry payment")
	}

	p.logger.Info("payment retry approved", "payout_id", updated.ID, "actor", actor.ID)
	p.events.StatusChanged(ctx, statusEvent(updated, domain.PayoutPaymentFailed, actor.ID, updated.UpdatedAt))
	return updated, nil
}

// render calls the document service; failures are logged and yield an empty URL.
func (p *PaymentProcessor) render(ctx context.Context, template, payoutID string, data any) string {
	if p.documents == nil {
		return ""
	}
	rctx, cancel := context.WithTimeout(ctx, documentTimeout)
	defer cancel()

	url, err := p.documents.Render(rctx, template, data)
	if err != nil {
		p.logger.Warn("document rendering failed", "template", template, "payout_id", payoutID, "error", err)
		return ""
	}
	return url
}
