package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/myasiaentertainmentjp/graymall-sub000/internal/api/handlers"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/api/httpx"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/api/validate"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/auth"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/config"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/middleware"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/models"
	repo "github.com/myasiaentertainmentjp/graymall-sub000/internal/repository"
	"github.com/myasiaentertainmentjp/graymall-sub000/internal/services"
)

type RouterDeps struct {
	Cfg           config.Config
	TM            *auth.TokenManager
	UserSvc       *services.UserService
	LedgerSvc     *services.LedgerService
	SettlementSvc *services.SettlementService
	BalanceSvc    *services.BalanceService
	WithdrawalSvc *services.WithdrawalService
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(d.Cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())

	authMW := middleware.NewAuthMiddleware(d.TM)
	ah := handlers.NewAuthHandler(d.TM, d.UserSvc)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", ah.Register)
		r.Post("/auth/login", ah.Login)
		r.Post("/auth/refresh", ah.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(authMW.Auth)

			// ---------- balance ----------
			r.Get("/balance", func(w http.ResponseWriter, r *http.Request) {
				uid, _ := middleware.UserID(r.Context())
				b, err := d.BalanceSvc.Current(r.Context(), uid)
				if err != nil {
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, b)
			})

			// ---------- settled ledger, recipient view ----------
			r.Get("/transactions", func(w http.ResponseWriter, r *http.Request) {
				uid, _ := middleware.UserID(r.Context())
				limit, offset := pagination(r)
				txs, err := d.LedgerSvc.ListByRecipient(r.Context(), uid, limit, offset)
				if err != nil {
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, txs)
			})

			// ---------- withdrawals ----------
			r.Post("/withdrawals", func(w http.ResponseWriter, r *http.Request) {
				uid, _ := middleware.UserID(r.Context())
				var req struct {
					Amount int64 `json:"amount" validate:"required,gt=0"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
					return
				}
				if err := validate.Struct(req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
					return
				}
				wd, err := d.WithdrawalSvc.Create(r.Context(), uid, req.Amount)
				if err != nil {
					writeWithdrawalError(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusCreated, wd)
			})

			r.Get("/withdrawals", func(w http.ResponseWriter, r *http.Request) {
				uid, _ := middleware.UserID(r.Context())
				limit, offset := pagination(r)
				out, err := d.WithdrawalSvc.ListByUser(r.Context(), uid, limit, offset)
				if err != nil {
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, out)
			})

			r.Post("/withdrawals/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
				uid, _ := middleware.UserID(r.Context())
				wd, err := d.WithdrawalSvc.Cancel(r.Context(), uid, chi.URLParam(r, "id"))
				if err != nil {
					writeWithdrawalError(w, err)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, wd)
			})

			// ---------- operator ----------
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole("operator"))

				r.Post("/settlement/dispatch", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						BatchSize int `json:"batch_size"`
					}
					_ = json.NewDecoder(r.Body).Decode(&req)
					if req.BatchSize <= 0 {
						req.BatchSize = d.Cfg.DispatchBatchSize
					}
					res, err := d.SettlementSvc.DispatchReady(r.Context(), req.BatchSize)
					if err != nil {
						httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
						return
					}
					httpx.WriteJSON(w, http.StatusOK, res)
				})

				r.Post("/settlement/sweep", func(w http.ResponseWriter, r *http.Request) {
					n, err := d.SettlementSvc.SweepHeld(r.Context())
					if err != nil {
						httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
						return
					}
					httpx.WriteJSON(w, http.StatusOK, map[string]int{"readmitted": n})
				})

				r.Post("/settlement/payouts/run", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						Limit int `json:"limit"`
					}
					_ = json.NewDecoder(r.Body).Decode(&req)
					if req.Limit <= 0 {
						req.Limit = d.Cfg.DispatchBatchSize
					}
					paid, failed, err := d.WithdrawalSvc.ProcessQueued(r.Context(), req.Limit)
					if err != nil {
						httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
						return
					}
					httpx.WriteJSON(w, http.StatusOK, map[string]int{"paid": paid, "failed": failed})
				})

				r.Post("/withdrawals/{id}/queue", func(w http.ResponseWriter, r *http.Request) {
					if err := d.WithdrawalSvc.Queue(r.Context(), chi.URLParam(r, "id")); err != nil {
						writeWithdrawalError(w, err)
						return
					}
					httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "queued"})
				})

				// checkout completion posts ledger entries here
				r.Post("/transactions", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						ID                   string  `json:"id"`
						PayerID              string  `json:"payer_id" validate:"required"`
						RecipientAuthorID    string  `json:"recipient_author_id" validate:"required"`
						RecipientAffiliateID *string `json:"recipient_affiliate_id"`
						GrossAmount          int64   `json:"gross_amount" validate:"required,gt=0"`
						PlatformFee          int64   `json:"platform_fee" validate:"gte=0"`
						AuthorAmount         int64   `json:"author_amount" validate:"gte=0"`
						AffiliateAmount      int64   `json:"affiliate_amount" validate:"gte=0"`
					}
					if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
						httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
						return
					}
					if err := validate.Struct(req); err != nil {
						httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
						return
					}
					t, err := d.LedgerSvc.Ingest(r.Context(), models.Transaction{
						ID:                   req.ID,
						PayerID:              req.PayerID,
						RecipientAuthorID:    req.RecipientAuthorID,
						RecipientAffiliateID: req.RecipientAffiliateID,
						GrossAmount:          req.GrossAmount,
						PlatformFee:          req.PlatformFee,
						AuthorAmount:         req.AuthorAmount,
						AffiliateAmount:      req.AffiliateAmount,
						PaymentStatus:        models.PaymentPaid,
					})
					if err != nil {
						status, code := http.StatusBadRequest, "bad_request"
						if errors.Is(err, repo.ErrInvalidSplit) {
							status, code = http.StatusUnprocessableEntity, "invalid_split"
						} else if errors.Is(err, repo.ErrDuplicate) {
							status, code = http.StatusConflict, "duplicate"
						}
						httpx.WriteError(w, status, code, err.Error(), nil)
						return
					}
					httpx.WriteJSON(w, http.StatusCreated, t)
				})

				r.Post("/transactions/{id}/ready", func(w http.ResponseWriter, r *http.Request) {
					if err := d.LedgerSvc.MarkReady(r.Context(), chi.URLParam(r, "id")); err != nil {
						status, code := http.StatusConflict, "not_promotable"
						if errors.Is(err, repo.ErrNotFound) {
							status, code = http.StatusNotFound, "not_found"
						}
						httpx.WriteError(w, status, code, err.Error(), nil)
						return
					}
					httpx.WriteJSON(w, http.StatusOK, map[string]string{"transfer_status": "ready"})
				})

				r.Post("/transactions/{id}/refund", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						Partial bool `json:"partial"`
					}
					_ = json.NewDecoder(r.Body).Decode(&req)
					if err := d.LedgerSvc.MarkRefunded(r.Context(), chi.URLParam(r, "id"), req.Partial); err != nil {
						status, code := http.StatusConflict, "invalid_status"
						if errors.Is(err, repo.ErrNotFound) {
							status, code = http.StatusNotFound, "not_found"
						}
						httpx.WriteError(w, status, code, err.Error(), nil)
						return
					}
					httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
				})

				// onboarding flow mirrors payout profiles in
				r.Put("/payout-profiles/{userID}", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						ExternalAccountRef *string `json:"external_account_ref"`
						PayoutsEnabled     bool    `json:"payouts_enabled"`
						ChargesEnabled     bool    `json:"charges_enabled"`
					}
					if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
						httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid body", nil)
						return
					}
					p, err := d.LedgerSvc.UpsertPayoutProfile(r.Context(), models.PayoutProfile{
						UserID:             chi.URLParam(r, "userID"),
						ExternalAccountRef: req.ExternalAccountRef,
						PayoutsEnabled:     req.PayoutsEnabled,
						ChargesEnabled:     req.ChargesEnabled,
					})
					if err != nil {
						httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
						return
					}
					httpx.WriteJSON(w, http.StatusOK, p)
				})
			})
		})
	})

	return r
}

func writeWithdrawalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrBelowMinimum):
		httpx.WriteError(w, http.StatusBadRequest, "below_minimum", err.Error(), nil)
	case errors.Is(err, repo.ErrInsufficientBalance):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error(), nil)
	case errors.Is(err, repo.ErrNotCancelable), errors.Is(err, repo.ErrInvalidStatus):
		httpx.WriteError(w, http.StatusConflict, "not_cancelable", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
