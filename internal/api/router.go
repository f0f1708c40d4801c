package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/anupkhanal/ocrhub/internal/api/middleware"
	"github.com/anupkhanal/ocrhub/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SubmitImageHandler     http.HandlerFunc
	SubmitPDFHandler       http.HandlerFunc
	SubmitHybridPDFHandler http.HandlerFunc

	JobStatusHandler http.HandlerFunc
	JobResultHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
// Rate limiting covers submissions only; polling a job is deliberately
// outside the limiter so a client waiting for a result cannot exhaust its
// own submission budget.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		// Submission routes, rate-limited per client identity
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)

			r.Post("/api/v1/extract/image", orNotImplemented(deps.SubmitImageHandler))
			r.Post("/api/v1/extract/pdf", orNotImplemented(deps.SubmitPDFHandler))
			r.Post("/api/v1/extract/pdf/hybrid", orNotImplemented(deps.SubmitHybridPDFHandler))
		})

		// Polling routes
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Get("/api/v1/jobs/{jobID}/result", orNotImplemented(deps.JobResultHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
