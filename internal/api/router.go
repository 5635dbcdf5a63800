package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/valyalkin/piggy-backend/internal/metrics"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires the HTTP surface: middleware, health, metrics, the
// /v1/stocks endpoints and, when hub is non-nil, the WebSocket feed.
func NewRouter(h *Handler, hub *WSHub, db Pinger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable", "service": "piggy-backend", "error": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "piggy-backend"})
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if hub != nil {
			// WebSocket endpoint for holding updates.
			r.Get("/ws", hub.HandleWS)
		}

		r.Route("/stocks", func(r chi.Router) {
			// Request timeouts are enforced by the ledger service so a
			// cancelled write always rolls back.
			r.Post("/transaction", h.RecordTransaction)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Get("/transactions", h.ListTransactions)
				r.Get("/holdings", h.ListHoldings)
				r.Get("/holding", h.GetHolding)
				r.Get("/pl", h.RealizedPL)
			})
		})
	})

	return r
}
