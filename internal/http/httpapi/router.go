package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"echoes/internal/http/handlers"
	"echoes/internal/middleware"
)

// Options configures the router's middleware stack.
type Options struct {
	Logger             zerolog.Logger
	RateLimitPerMin    int
	CORSAllowedOrigins []string
	// StaticDir, when set, is served under /static/.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.CORSAllowedOrigins),
	)

	// Routes that call the provider share one per-client budget.
	limit := middleware.RateLimit(opts.RateLimitPerMin, time.Minute)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)

		r.Get("/kinds", app.ListKinds)
		r.With(limit).Get("/kinds/{kind}/requests/{request_id}", app.CheckRequest)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", app.ListJobs)
			r.With(limit).Post("/{kind}", app.StartJob)
			r.Get("/{id}", app.GetJob)
			r.Get("/{id}/archive", app.ArchiveJob)
			r.Delete("/{id}", app.CancelJob)
		})
	})

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	return r
}
