package admin

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/engels74/comradarr-sub004/internal/config"
	"github.com/engels74/comradarr-sub004/internal/scheduler"
	"github.com/engels74/comradarr-sub004/internal/storage"
)

// NewRouter builds the read-only operator status surface. Swagger UI is
// served at /docs/ the same way the teacher's API does; the generated
// spec (doc.json) is produced by the standard `swag init` codegen step,
// not checked in here.
func NewRouter(db *storage.Pool, s *scheduler.Scheduler, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	h := New(db, s)

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	r.Route("/status", func(r chi.Router) {
		r.Get("/connectors", h.Connectors)
		r.Get("/jobs", h.Jobs)
		r.Get("/connectors/{connectorId}/queue-depth", h.QueueDepth)
		r.Get("/connectors/{connectorId}/throttle", h.ThrottleState)
	})

	return r
}
