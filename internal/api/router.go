package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/zawadi/disburser/internal/ledger"
	"github.com/zawadi/disburser/internal/repository"
	"github.com/zawadi/disburser/internal/settlement"
)

// NewRouter creates the Chi router with all API routes mounted. The API is
// consumed by a browser frontend, hence the permissive CORS layer.
func NewRouter(
	donationRepo *repository.DonationRepo,
	sessions *settlement.Manager,
	oracle ledger.Oracle,
	currency string,
) http.Handler {
	h := &Handlers{
		donationRepo: donationRepo,
		sessions:     sessions,
		oracle:       oracle,
		currency:     currency,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Route("/api/v1", func(r chi.Router) {
		// Allocation.
		r.Post("/plans", h.CreatePlan)

		// Advisory balance check, used before plan creation.
		r.Get("/balance", h.GetBalance)

		// Settlement sessions.
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Post("/sessions/{id}/start", h.StartSession)
		r.Post("/sessions/{id}/retry", h.RetrySession)
		r.Post("/sessions/{id}/abort", h.AbortSession)

		// Transparency store.
		r.Post("/records", h.IngestRecord)
		r.Get("/records", h.ListRecords)
		r.Get("/records/summary", h.GetRecordSummary)
	})

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}
