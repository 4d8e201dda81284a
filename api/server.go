/*
server.go - HTTP router and middleware configuration

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from X-Forwarded-For / X-Real-IP
  3. Logger:     zap request log
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend
  6. RateLimit:  Token bucket per client IP (/api only)

ROUTE GROUPS:
  /api/products/*      Catalog and per-product ledger
  /api/transactions    Full ledger history
  /api/dashboard/*     Read-only aggregates
  /api/audit           Ledger/catalog consistency check
  /api/import/*        Bulk import (JSON, text inventory files)
  /api/export.xlsx     Excel export
  /api/scenarios/*     Demo data
  /healthz             Liveness + store ping

SECURITY NOTE:
  No authentication middleware. All endpoints are public.
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig holds HTTP-level settings.
type RouterConfig struct {
	AllowedOrigins []string
	RateLimitRPS   float64 // 0 disables rate limiting
	RateLimitBurst int
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
			r.Post("/{id}/entries", h.RecordEntry)
			r.Post("/{id}/exits", h.RecordExit)
			r.Get("/{id}/transactions", h.ProductTransactions)
		})

		r.Get("/transactions", h.ListTransactions)

		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/", h.Dashboard)
			r.Get("/low-stock", h.LowStock)
			r.Get("/volume", h.Volume)
		})

		r.Get("/audit", h.Audit)

		r.Route("/import", func(r chi.Router) {
			r.Post("/", h.ImportJSON)
			r.Post("/text", h.ImportText)
		})
		r.Get("/export.xlsx", h.ExportXLSX)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
