package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"tryon/internal/http/views"
	"tryon/internal/i18n"
	"tryon/internal/imageenc"
	"tryon/internal/infra"
	"tryon/internal/metrics"
	"tryon/internal/middleware"
	"tryon/internal/session"
	"tryon/internal/upload"
	"tryon/internal/wizard"
)

// App carries the dependencies shared by every handler.
type App struct {
	Config   *infra.Config
	Logger   infra.Logger
	Sessions *session.Store
	Encoder  *imageenc.Encoder
	Catalog  *i18n.Catalog
	Views    *views.Renderer
	Metrics  *metrics.Collector
	// CountryLookup feeds the locale middleware; nil disables IP lookups.
	CountryLookup middleware.CountryLookup
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{
		Code:    code,
		Message: a.translate(r, message),
	}})
}

func (a *App) translate(r *http.Request, key string) string {
	if a.Catalog == nil {
		return key
	}
	return a.Catalog.T(middleware.LocaleFromContext(r.Context()), key)
}

func (a *App) translator(r *http.Request) func(string) string {
	if a.Catalog == nil {
		return func(key string) string { return key }
	}
	return a.Catalog.Translator(middleware.LocaleFromContext(r.Context()))
}

// User-facing copy for upload failures. These are catalog keys.
const (
	msgUnsupportedType = "Only PNG, JPG, or WEBP images are accepted."
	msgUnreadableFile  = "The file could not be read."
	msgFileTooLarge    = "The file is too large."
	msgRateLimited     = "Too many try-on requests. Please wait a moment and try again."
)

type failure struct {
	status  int
	code    string
	message string
}

// classify maps domain errors onto HTTP responses.
func classify(err error) failure {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return failure{http.StatusNotFound, "not_found", "session not found"}
	case errors.Is(err, wizard.ErrMissingImages):
		return failure{http.StatusUnprocessableEntity, "validation", wizard.MsgMissingImages}
	case errors.Is(err, wizard.ErrGuard):
		return failure{http.StatusConflict, "guard_failed", err.Error()}
	case errors.Is(err, wizard.ErrInvalidTransition):
		return failure{http.StatusConflict, "invalid_transition", err.Error()}
	case errors.Is(err, upload.ErrUnsupportedType):
		return failure{http.StatusUnsupportedMediaType, "unsupported_type", msgUnsupportedType}
	case errors.Is(err, imageenc.ErrTooLarge):
		return failure{http.StatusRequestEntityTooLarge, "too_large", msgFileTooLarge}
	case errors.Is(err, imageenc.ErrEmptyFile),
		errors.Is(err, imageenc.ErrRead),
		errors.Is(err, upload.ErrCorruptImage):
		return failure{http.StatusUnprocessableEntity, "unreadable_file", msgUnreadableFile}
	default:
		return failure{http.StatusInternalServerError, "internal", "internal error"}
	}
}

func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	f := classify(err)
	if f.status >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("request_id", middleware.RequestIDFromContext(r.Context())).Msg("handler failed")
	}
	a.error(w, r, f.status, f.code, f.message)
}

// RateLimited answers a throttled JSON request with the error envelope.
func (a *App) RateLimited(w http.ResponseWriter, r *http.Request) {
	a.error(w, r, http.StatusTooManyRequests, "rate_limited", msgRateLimited)
}

func (a *App) recordUpload(slot string, err error) {
	if a.Metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = classify(err).code
	}
	a.Metrics.RecordUpload(slot, result)
}
