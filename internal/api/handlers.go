/**
 * @description
 * HTTP handlers for the payout service. Handlers decode input, call one engine
 * operation and map typed engine errors onto HTTP statuses.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tenure/payout-service/internal/app"
	"github.com/tenure/payout-service/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler holds the payout engine that handlers interact with.
type Handler struct {
	engine *app.Engine
	logger *slog.Logger
}

// NewHandler creates a new Handler over engine.
func NewHandler(engine *app.Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

type errorResponse struct {
	Code         app.ErrorCode `json:"code"`
	Message      string        `json:"message"`
	CurrentState string        `json:"current_state,omitempty"`
	Retryable    bool          `json:"retryable"`
}

func statusForCode(code app.ErrorCode) int {
	switch code {
	case app.CodeValidation:
		return http.StatusBadRequest
	case app.CodeInvalidState, app.CodeAlreadyDecided, app.CodeDuplicateApprover:
		return http.StatusConflict
	case app.CodeForbidden:
		return http.StatusForbidden
	case app.CodeNotFound:
		return http.StatusNotFound
	case app.CodeDependencyFailure:
		return http.StatusServiceUnavailable
	case app.CodePaymentDetailsMissing:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(w http.ResponseWriter, err error) {
	var appErr *app.Error
	if !errors.As(err, &appErr) {
		appErr = &app.Error{Code: app.CodeInternal}
	}
	resp := errorResponse{
		Code:         appErr.Code,
		Message:      appErr.Message,
		CurrentState: appErr.CurrentState,
		Retryable:    appErr.Retryable,
	}
	if appErr.Code == app.CodeInternal {
		resp.Message = "internal error"
	}
	respondWithJSON(w, statusForCode(appErr.Code), resp)
}

// fail logs with request context and writes the typed error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var appErr *app.Error
	if errors.As(err, &appErr) && appErr.Code != app.CodeInternal && appErr.Code != app.CodeDependencyFailure {
		h.logger.Info("request rejected", "op", op, "path", r.URL.Path, "code", appErr.Code, "message", appErr.Message)
	} else {
		h.logger.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
	}
	respondWithError(w, err)
}

func badRequest(w http.ResponseWriter, msg string) {
	respondWithError(w, &app.Error{Code: app.CodeValidation, Message: msg})
}

func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (app.Actor, bool) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return actor, ok
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req app.BatchRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	req.Initiator = actor.ID
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		req.IdempotencyKey = key
	}

	result, err := h.engine.Selector.CreatePayoutBatch(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create_payout_batch", err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	respondWithJSON(w, status, result)
}

func (h *Handler) handleSubmitApproval(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req app.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}

	payout, err := h.engine.Approvals.SubmitDecision(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, "submit_approval", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) handleGenerateInstructions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	payout, err := h.engine.Payments.GenerateInstructions(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "generate_instructions", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) handleMarkSent(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var transit domain.TransitDetails
	if err := decodeBody(r, &transit); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	payout, err := h.engine.Payments.MarkPaymentSent(r.Context(), actor, chi.URLParam(r, "id"), transit)
	if err != nil {
		h.fail(w, r, "mark_payment_sent", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) handleConfirmComplete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var completion domain.CompletionDetails
	if err := decodeBody(r, &completion); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	payout, err := h.engine.Payments.ConfirmPaymentComplete(r.Context(), actor, chi.URLParam(r, "id"), completion)
	if err != nil {
		h.fail(w, r, "confirm_payment_complete", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) handlePaymentFailure(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var input app.PaymentFailureInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	payout, err := h.engine.Payments.HandlePaymentFailure(r.Context(), actor, chi.URLParam(r, "id"), input)
	if err != nil {
		h.fail(w, r, "payment_failure", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	payout, err := h.engine.Payments.RetryPayment(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "retry_payment", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) handleGetEligibility(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.engine.Eligibility.Evaluate(r.Context())
	if err != nil {
		h.fail(w, r, "get_eligibility_status", err)
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleTriggerEligibilityCheck(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	snapshot, err := h.engine.Eligibility.RunCheck(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, r, "trigger_eligibility_check", err)
		return
	}
	respondWithJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleGetEligibleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.engine.Ranking.EligibleMembers(r.Context())
	if err != nil {
		h.fail(w, r, "get_eligible_members", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
		"count":   len(members),
	})
}

func (h *Handler) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.PayoutFilter{
		Status:   domain.PayoutStatus(strings.TrimSpace(q.Get("status"))),
		MemberID: strings.TrimSpace(q.Get("member_id")),
		Limit:    defaultListLimit,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		badRequest(w, "Unknown payout status")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			badRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	payouts, err := h.engine.Payouts(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list_payouts", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"payouts": payouts,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (h *Handler) handleGetPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := h.engine.Payout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get_payout", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) handleValidateCandidate(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Selector.Validate(r.Context(), chi.URLParam(r, "memberID"))
	if err != nil {
		h.fail(w, r, "validate_candidate", err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCalculationPreview(w http.ResponseWriter, r *http.Request) {
	hasTaxForm := false
	if raw := r.URL.Query().Get("has_tax_form"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(w, "has_tax_form must be a boolean")
			return
		}
		hasTaxForm = parsed
	}
	respondWithJSON(w, http.StatusOK, h.engine.Payments.CalculateNetPayout(hasTaxForm))
}

type reactivateRequest struct {
	NewPaymentDate time.Time `json:"new_payment_date"`
}

func (h *Handler) handleReactivateMembership(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req reactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	payout, err := h.engine.Lifecycle.ReactivateMembership(r.Context(), chi.URLParam(r, "memberID"), req.NewPaymentDate, actor)
	if err != nil {
		h.fail(w, r, "reactivate_membership", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func (h *Handler) handleRunEligibilityJob(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Jobs.RunEligibilityJob(r.Context())
	if err != nil {
		h.fail(w, r, "run_eligibility_job", err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRunRemovalJob(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Jobs.RunRemovalJob(r.Context())
	if err != nil {
		h.fail(w, r, "run_removal_job", err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListDueRemovals(w http.ResponseWriter, r *http.Request) {
	due, err := h.engine.DueRemovals(r.Context())
	if err != nil {
		h.fail(w, r, "list_due_removals", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"payouts": due,
		"count":   len(due),
	})
}

func (h *Handler) handleRemoveMembership(w http.ResponseWriter, r *http.Request) {
	payout, err := h.engine.Lifecycle.RemoveMembership(r.Context(), chi.URLParam(r, "memberID"), app.SystemActor("internal_api"))
	if err != nil {
		h.fail(w, r, "remove_membership", err)
		return
	}
	respondWithJSON(w, http.StatusOK, payout)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
