package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"tryon/internal/http/handlers"
	"tryon/internal/http/views"
	"tryon/internal/i18n"
	"tryon/internal/imageenc"
	"tryon/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	if app.Catalog == nil {
		app.Catalog = i18n.New("en")
	}
	if app.Views == nil {
		app.Views = views.MustNew()
	}
	if app.Encoder == nil {
		app.Encoder = imageenc.NewEncoder(0)
	}
	var observe middleware.RequestObserver
	if app.Metrics != nil {
		observe = app.Metrics.RecordHTTPRequest
	}
	var origins []string
	rateLimit := 0
	if app.Config != nil {
		origins = app.Config.CORSAllowedOrigins
		rateLimit = app.Config.RateLimitPerMin
	}

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger, observe),
		middleware.CORS(origins),
		middleware.I18N(app.Catalog, app.CountryLookup),
	)
	generateLimit := middleware.NewRateLimiter(rateLimit, time.Minute)

	// Health
	r.Get("/v1/healthz", app.Health)
	if app.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", app.Metrics.Handler())
	}

	// Browser wizard
	r.Get("/", app.NewWizard)
	r.Route("/wizard/{id}", func(r chi.Router) {
		r.Get("/", app.WizardPage)
		r.Post("/product", app.WizardAction("product"))
		r.Post("/model", app.WizardAction("model"))
		r.Post("/next", app.WizardAction("next"))
		r.Post("/back", app.WizardAction("back"))
		r.With(generateLimit.Limit(http.HandlerFunc(app.WizardRateLimited))).Post("/generate", app.WizardAction("generate"))
		r.Post("/reset", app.WizardAction("reset"))
	})

	// JSON API
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", app.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetSession)
			r.Delete("/", app.DeleteSession)
			r.Put("/product", app.UploadProduct)
			r.Put("/model", app.UploadModel)
			r.Post("/advance", app.Advance)
			r.Post("/back", app.Back)
			r.With(generateLimit.Limit(http.HandlerFunc(app.RateLimited))).Post("/generate", app.Generate)
			r.Post("/reset", app.Reset)
			r.Get("/result", app.Result)
		})
	})

	return r
}
