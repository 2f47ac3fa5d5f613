package handlers

import (
	"bytes"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"tryon/internal/http/views"
	"tryon/internal/middleware"
	"tryon/internal/upload"
	"tryon/internal/wizard"
)

// generatingRefreshSeconds is how often the page polls while generating.
const generatingRefreshSeconds = 2

// notices are upload problems carried across the post/redirect/get cycle.
var notices = map[string]string{
	"unsupported_type": msgUnsupportedType,
	"unreadable_file":  msgUnreadableFile,
	"too_large":        msgFileTooLarge,
	"rate_limited":     msgRateLimited,
}

func wizardURL(id, notice string) string {
	u := "/wizard/" + id
	if notice != "" {
		u += "?" + url.Values{"notice": {notice}}.Encode()
	}
	return u
}

// NewWizard starts a session and redirects to its page.
func (a *App) NewWizard(w http.ResponseWriter, r *http.Request) {
	ctrl := a.Sessions.Create(middleware.LocaleFromContext(r.Context()))
	http.Redirect(w, r, wizardURL(ctrl.ID(), ""), http.StatusSeeOther)
}

// WizardRateLimited sends a throttled form post back to the page with a notice.
func (a *App) WizardRateLimited(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, wizardURL(chi.URLParam(r, "id"), "rate_limited"), http.StatusSeeOther)
}

// WizardPage renders the current step. Unknown or expired sessions start over.
func (a *App) WizardPage(w http.ResponseWriter, r *http.Request) {
	ctrl, err := a.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	state := ctrl.Snapshot()
	tr := a.translator(r)

	page := views.WizardPage{
		Lang:        middleware.LocaleFromContext(r.Context()),
		T:           tr,
		SessionID:   ctrl.ID(),
		Step:        state.Step.String(),
		Product:     upload.ProductSlot.View(state.Product, tr),
		Model:       upload.ModelSlot.View(state.Model, tr),
		Notice:      notices[r.URL.Query().Get("notice")],
		CanAdvance:  state.CanAdvance(),
		CanGenerate: state.CanGenerate(),
	}
	if state.Step == wizard.AwaitingModel {
		page.Error = state.Error
	}
	if state.Result != nil {
		page.ResultURL = resultURL(ctrl.ID())
	}
	if state.Step == wizard.Generating {
		page.RefreshSeconds = generatingRefreshSeconds
	}

	var buf bytes.Buffer
	if err := a.Views.Wizard(&buf, page); err != nil {
		a.Logger.Error().Err(err).Str("session_id", ctrl.ID()).Msg("render wizard page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

// WizardAction handles one form post and redirects back to the page.
// Transition errors need no notice: the page already reflects the state.
func (a *App) WizardAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctrl, err := a.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		notice := ""
		switch action {
		case "product", "model":
			slot := upload.ProductSlot
			if action == "model" {
				slot = upload.ModelSlot
			}
			if _, err = a.receiveUpload(w, r, ctrl, slot); err != nil {
				if _, ok := notices[classify(err).code]; ok {
					notice = classify(err).code
				}
			}
		case "next":
			_, err = ctrl.Advance()
		case "back":
			_, err = ctrl.Back()
		case "generate":
			_, err = ctrl.Generate(r.Context())
		case "reset":
			ctrl.Reset()
		default:
			http.NotFound(w, r)
			return
		}
		if err != nil && !isExpected(err) {
			a.Logger.Warn().Err(err).Str("session_id", ctrl.ID()).Str("action", action).Msg("wizard action failed")
		}
		http.Redirect(w, r, wizardURL(ctrl.ID(), notice), http.StatusSeeOther)
	}
}

// isExpected reports errors that come from ordinary user behaviour such as
// double submits or stale tabs.
func isExpected(err error) bool {
	return classify(err).status < http.StatusInternalServerError
}
