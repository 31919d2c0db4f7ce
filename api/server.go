/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard
  5. Principal:  X-Tenant-ID / X-User-ID / X-Role extraction

ROUTE GROUPS:
  /api/credits/*    Credit requests and the tenant ledger
  /api/coupons/*    Batch issuance, lifecycle, export
  /api/scan         Internal scanning (tenant headers)
  /api/external/*   API-key gated surface for verification apps
  /api/apps         Verification app registration
  /health           Liveness check

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: Principal and API-key middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Tenant-ID", "X-User-ID", "X-Role", "X-API-Key"},
		AllowCredentials: true,
	}))
	r.Use(Principal)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Credit ledger and request workflow
		r.Route("/credits", func(r chi.Router) {
			r.Get("/balance", h.GetCreditBalance)
			r.Get("/transactions", h.GetCreditTransactions)
			r.Route("/requests", func(r chi.Router) {
				r.Post("/", h.SubmitCreditRequest)
				r.Get("/pending", h.ListPendingRequests)
				r.Post("/{id}/approve", h.ApproveRequest)
				r.Post("/{id}/reject", h.RejectRequest)
			})
		})

		// Coupon batches and lifecycle
		r.Route("/coupons", func(r chi.Router) {
			r.Get("/", h.ListCoupons)
			r.Route("/batches", func(r chi.Router) {
				r.Post("/", h.CreateBatch)
				r.Post("/multi", h.CreateMultiBatch)
				r.Get("/{id}", h.ListBatchCoupons)
				r.Post("/{id}/print", h.PrintBatch)
				r.Post("/{id}/activate", h.ActivateBatch)
				r.Get("/{id}/export", h.ExportBatch)
			})
			r.Get("/{code}", h.GetCoupon)
			r.Post("/{code}/deactivate", h.DeactivateCoupon)
		})

		// Internal scanning
		r.Post("/scan", h.ScanCoupon)

		// Verification app registration
		r.Post("/apps", h.CreateApp)

		// External surface, gated by X-API-Key
		r.Route("/external", func(r chi.Router) {
			r.Use(APIKeyGate(h.Gate))
			r.Post("/scan", h.ExternalScan)
			r.Get("/points/{customer}", h.GetPointsBalance)
			r.Post("/points/redeem", h.RedeemProduct)
		})
	})

	return r
}
