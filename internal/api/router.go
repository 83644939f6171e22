/**
 * @description
 * HTTP router setup for the payout service using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tenure/payout-service/internal/domain"
)

// RouterConfig carries the auth settings for NewRouter.
type RouterConfig struct {
	JWKSURL                       string
	InternalAPIKey                string
	EligibilityCheckRatePerMinute int
}

// NewRouter creates a new Chi router and registers payout routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	return newRouter(h, ClerkAuthMiddleware(cfg.JWKSURL), cfg)
}

func newRouter(h *Handler, auth func(http.Handler) http.Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Payout service is healthy"))
	})

	r.Route("/internal/payouts", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(cfg.InternalAPIKey))
		r.Post("/eligibility/run", h.handleRunEligibilityJob)
		r.Post("/removals/run", h.handleRunRemovalJob)
		r.Get("/removals/due", h.handleListDueRemovals)
		r.Post("/members/{memberID}/remove", h.handleRemoveMembership)
	})

	checkLimiter := NewCallerRateLimiter(cfg.EligibilityCheckRatePerMinute)
	staff := RequireRoles(domain.RoleAdmin, domain.RoleFinanceManager, domain.RoleAuditor)
	approvers := RequireRoles(domain.RoleAdmin, domain.RoleFinanceManager)
	admins := RequireRoles(domain.RoleAdmin)

	r.Group(func(r chi.Router) {
		r.Use(auth)

		r.Route("/payouts", func(r chi.Router) {
			r.With(staff).Get("/", h.handleListPayouts)
			r.With(staff).Get("/eligibility", h.handleGetEligibility)
			r.With(admins, checkLimiter.Middleware).Post("/eligibility/check", h.handleTriggerEligibilityCheck)
			r.With(staff).Get("/eligible-members", h.handleGetEligibleMembers)
			r.With(staff).Get("/calculation", h.handleCalculationPreview)
			r.With(staff).Get("/candidates/{memberID}/validation", h.handleValidateCandidate)
			r.With(admins).Post("/batches", h.handleCreateBatch)

			r.Route("/{id}", func(r chi.Router) {
				r.With(staff).Get("/", h.handleGetPayout)
				// Role checks for approvals happen in the engine so denied attempts are audited.
				r.Post("/approvals", h.handleSubmitApproval)
				r.With(approvers).Post("/instructions", h.handleGenerateInstructions)
				r.With(approvers).Post("/sent", h.handleMarkSent)
				r.With(approvers).Post("/complete", h.handleConfirmComplete)
				r.With(approvers).Post("/failure", h.handlePaymentFailure)
				r.With(approvers).Post("/retry", h.handleRetryPayment)
			})
		})

		r.With(admins).Post("/members/{memberID}/reactivate", h.handleReactivateMembership)
	})

	return r
}
