// Package api exposes the review workflow over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/sells-group/lifecare-cli/internal/workflow"
)

// Options configures the router. A zero RateLimitRPS disables rate limiting.
type Options struct {
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds the HTTP handler for the review API.
func NewRouter(eng *workflow.Engine, opts Options) http.Handler {
	h := &handlers{eng: eng}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Actor", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if opts.RateLimitRPS > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimitRPS), opts.RateLimitBurst)))
	}

	r.Get("/health", h.health)

	r.Route("/plans", func(r chi.Router) {
		r.Get("/", h.listPlans)
		r.Post("/", h.createPlan)

		r.Route("/{planID}", func(r chi.Router) {
			r.Get("/", h.getPlan)
			r.Delete("/", h.deletePlan)

			r.Get("/audit", h.planAudit)
			r.Post("/bulk-approve", h.bulkApprove)
			r.Get("/completion", h.completion)
			r.Post("/finalize", h.finalize)
			r.Post("/recalculate", h.recalculate)
			r.Get("/summary", h.summary)
			r.Get("/report", h.report)

			r.Route("/items", func(r chi.Router) {
				r.Get("/", h.listItems)
				r.Post("/", h.ingest)

				r.Route("/{itemID}", func(r chi.Router) {
					r.Get("/", h.getItem)
					r.Get("/audit", h.itemAudit)
					r.Post("/status", h.setStatus)
					r.Post("/reopen", h.reopen)
					r.Put("/cost", h.editCost)
					r.Put("/notes", h.editNotes)
				})
			})
		})
	})

	return r
}
