// Package router arma el árbol de rutas de la API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ma13w/cverify/internal/http/controllers"
	mw "github.com/ma13w/cverify/internal/http/middlewares"
	"github.com/ma13w/cverify/internal/rate"
)

// Deps agrupa las dependencias del router.
type Deps struct {
	Identity    *controllers.IdentityController
	Challenge   *controllers.ChallengeController
	Attestation *controllers.AttestationController
	Health      *controllers.HealthController

	ChallengeLimiter rate.Limiter // nil = sin límite
}

// New construye el router con los middlewares base aplicados.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.WithRequestID())
	r.Use(mw.WithRecover())
	r.Use(mw.WithLogging())
	r.Use(mw.WithSecurityHeaders())

	r.Get("/healthz", deps.Health.Healthz)
	r.Get("/readyz", deps.Health.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/identity/{domain}", deps.Identity.Check)

		r.Group(func(r chi.Router) {
			r.Use(mw.WithRateLimit(deps.ChallengeLimiter, "challenge"))
			r.Post("/challenge", deps.Challenge.Issue)
		})
		r.Post("/challenge/respond", deps.Challenge.Respond)

		r.Get("/session", deps.Challenge.Session)
		r.Post("/session/renew", deps.Challenge.Renew)

		r.Post("/attestations", deps.Attestation.Issue)
		r.Get("/attestations/{id}", deps.Attestation.Get)
		r.Post("/attestations/verify", deps.Attestation.Verify)
	})

	return r
}
